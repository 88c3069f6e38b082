// Package quota rate-limits printing per requester with a continuously
// recharging sticker bank.
package quota

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUnknownRequester is returned for ids that were never created.
var ErrUnknownRequester = errors.New("unknown requester")

// Ledger holds one Entry per requester for the lifetime of the process.
// Entries lock individually so different requesters never contend.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     Clock
}

// NewLedger returns an empty ledger. A nil clock means time.Now.
func NewLedger(now Clock) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		entries: make(map[string]*Entry),
		now:     now,
	}
}

// Create registers a requester with a full bank. Creating an existing
// requester returns the existing entry untouched.
func (l *Ledger) Create(id string, maxStickers int, stickerCost time.Duration) *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[id]; ok {
		return e
	}
	e := newEntry(maxStickers, stickerCost.Seconds(), l.now)
	l.entries[id] = e
	return e
}

// Get returns the entry for id.
func (l *Ledger) Get(id string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequester, id)
	}
	return e, nil
}

// Exists reports whether id has been created.
func (l *Ledger) Exists(id string) bool {
	_, err := l.Get(id)
	return err == nil
}

// RemainingUnits returns the stickers id can print now.
func (l *Ledger) RemainingUnits(id string) (int, error) {
	e, err := l.Get(id)
	if err != nil {
		return 0, err
	}
	return e.Remaining(), nil
}

// Spend charges one sticker to id. It reports whether a charge happened.
func (l *Ledger) Spend(id, artifact string) (bool, error) {
	e, err := l.Get(id)
	if err != nil {
		return false, err
	}
	return e.Spend(artifact), nil
}

// Info returns a settled snapshot for id.
func (l *Ledger) Info(id string) (Info, error) {
	e, err := l.Get(id)
	if err != nil {
		return Info{}, err
	}
	return e.Info(), nil
}

// Len returns the number of known requesters.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Describe renders the remaining-stickers message shown to requesters.
func Describe(info Info) string {
	var b strings.Builder
	switch {
	case info.Remaining == 1:
		b.WriteString("You have 1 remaining sticker.")
	case info.Remaining > 1:
		fmt.Fprintf(&b, "You have %d remaining stickers.", info.Remaining)
	default:
		b.WriteString("You have no stickers remaining :(")
	}
	fmt.Fprintf(&b, "\nStickers recharge at a rate of 1 sticker every %s (up to %d max)",
		info.StickerCost, info.MaxStickers)
	if info.NextIn > 0 {
		fmt.Fprintf(&b, "\nNext sticker in %s", info.NextIn.Round(time.Second))
	}
	return b.String()
}
