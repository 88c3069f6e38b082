package quota

import (
	"math"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// Entry is the sticker bank of a single requester. Credit accrues at one
// second per second and one sticker costs StickerCost seconds.
type Entry struct {
	mu sync.Mutex

	// TimeBank is the banked credit in seconds.
	TimeBank float64
	// StickerCost is the credit consumed by one sticker, in seconds.
	StickerCost float64
	// MaxStickers is the bank capacity expressed in stickers.
	MaxStickers int
	LastChecked time.Time
	Printed     []string

	now Clock
}

func newEntry(maxStickers int, stickerCost float64, now Clock) *Entry {
	return &Entry{
		TimeBank:    float64(maxStickers) * stickerCost,
		StickerCost: stickerCost,
		MaxStickers: maxStickers,
		LastChecked: now(),
		now:         now,
	}
}

func (e *Entry) capacity() float64 {
	return float64(e.MaxStickers) * e.StickerCost
}

// settle credits the time elapsed since the last check. Callers hold mu.
func (e *Entry) settle() {
	now := e.now()
	e.TimeBank += now.Sub(e.LastChecked).Seconds()
	e.LastChecked = now
}

func (e *Entry) saturated() bool {
	return e.TimeBank > e.capacity()
}

func (e *Entry) remaining() int {
	if e.saturated() {
		return e.MaxStickers
	}
	if e.StickerCost <= 0 {
		return e.MaxStickers
	}
	return int(math.Floor(e.TimeBank / e.StickerCost))
}

// Remaining settles the bank and returns the stickers available now.
func (e *Entry) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.settle()
	return e.remaining()
}

// Spend charges one sticker and records the printed artifact. It is a no-op
// when nothing remains. A saturated bank is reset to one sticker below the
// cap, dropping any surplus banked above it.
func (e *Entry) Spend(artifact string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.settle()
	if e.remaining() == 0 {
		return false
	}

	if e.saturated() {
		e.TimeBank = e.capacity() - e.StickerCost
	} else {
		e.TimeBank -= e.StickerCost
	}
	if artifact != "" {
		e.Printed = append(e.Printed, artifact)
	}
	return true
}

// Info is a settled snapshot of an entry.
type Info struct {
	Remaining   int           `json:"remaining"`
	MaxStickers int           `json:"max_stickers"`
	StickerCost time.Duration `json:"sticker_cost"`
	Printed     int           `json:"printed"`
	// NextIn is the wait until the next sticker accrues, 0 when the bank is full.
	NextIn time.Duration `json:"next_in"`
}

// Info settles the bank and returns a snapshot.
func (e *Entry) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.settle()
	info := Info{
		Remaining:   e.remaining(),
		MaxStickers: e.MaxStickers,
		StickerCost: time.Duration(e.StickerCost * float64(time.Second)),
		Printed:     len(e.Printed),
	}
	if info.Remaining < e.MaxStickers && e.StickerCost > 0 {
		bank := math.Max(e.TimeBank, 0)
		wait := e.StickerCost - math.Mod(bank, e.StickerCost)
		info.NextIn = time.Duration(wait * float64(time.Second))
	}
	return info
}

// PrintedImages returns a copy of the recorded artifacts.
func (e *Entry) PrintedImages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, len(e.Printed))
	copy(out, e.Printed)
	return out
}
