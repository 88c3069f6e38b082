// Package thermal encodes 1-bit rasters for the CSN-A2 family of serial
// thermal printers (384 dots per line) and streams them to the device.
package thermal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	// FixedWidth is the number of bytes in one printed line (384 dots).
	FixedWidth = 48
	// ChunkHeight is the number of rows the device bitmap buffer holds.
	ChunkHeight = 255
	// ChunkSize is the number of payload bytes in a full chunk.
	ChunkSize = ChunkHeight * FixedWidth
	// BaudRate is the factory default line speed of the printer.
	BaudRate = 19200
)

const (
	esc = 0x1b
	dc2 = 0x12
)

var (
	// ErrMalformedChunk signals a chunk that violates the row framing.
	ErrMalformedChunk = errors.New("malformed image chunk")

	// ErrTransport wraps every open, write and close failure of the device stream.
	ErrTransport = errors.New("thermal transport error")
)

// InitSequence is sent once per print before any bitmap data.
var InitSequence = []byte{
	// print speed and heat: ESC '7' n1 n2 n3
	esc, '7',
	7,    // max heating dots, 8*(n1+1) = 64
	0xff, // heating time, 10us units
	0xff, // heating interval, 10us units
	// print density and break time: DC2 '#' n
	dc2, '#',
	(15 << 4) | 15,
}

// Trailer feeds the printed label past the tear bar.
var Trailer = []byte{'\n', '\n', '\n'}

// Opener hands out a fresh write handle for one batch of bytes.
//
// The serial stack does not report reliably when queued bytes have left the
// port; a completed Close is the only signal the encoder trusts. Every batch
// therefore opens its own handle and closes it before the next step begins.
type Opener interface {
	Open() (io.WriteCloser, error)
}

// PackImage packs img row-major into MSB-first bytes. Dark pixels (luma
// below 128) set their bit.
func PackImage(img image.Image) []byte {
	b := img.Bounds()
	pixels := make([]bool, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			pixels = append(pixels, g.Y < 128)
		}
	}
	return PackBits(pixels)
}

// PackBits packs black flags into bytes, most significant bit first. A
// trailing partial byte is padded with cleared bits.
func PackBits(black []bool) []byte {
	out := make([]byte, (len(black)+7)/8)
	for i, set := range black {
		if set {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out
}

// UnpackBits reverses PackBits for the first n pixels.
func UnpackBits(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n && i/8 < len(data); i++ {
		out[i] = data[i/8]&(1<<(7-uint(i%8))) != 0
	}
	return out
}

// Split cuts packed data into device sized chunks. Data that fits in one
// chunk is returned as is; otherwise every chunk holds ChunkSize bytes and
// the last one the remainder.
func Split(data []byte) [][]byte {
	if len(data) <= ChunkSize {
		return [][]byte{data}
	}

	chunks := make([][]byte, 0, (len(data)+ChunkSize-1)/ChunkSize)
	for start := 0; start < len(data); start += ChunkSize {
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// ChunkHeader validates a chunk and returns its DC2 'V' bitmap command.
func ChunkHeader(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, fmt.Errorf("%w: data is empty", ErrMalformedChunk)
	}
	if rem := len(chunk) % FixedWidth; rem != 0 {
		return nil, fmt.Errorf("%w: length %d is not divisible by %d (remainder %d)",
			ErrMalformedChunk, len(chunk), FixedWidth, rem)
	}
	height := len(chunk) / FixedWidth
	if height > ChunkHeight {
		return nil, fmt.Errorf("%w: height %d exceeds %d rows (%d bytes)",
			ErrMalformedChunk, height, ChunkHeight, len(chunk))
	}
	return []byte{dc2, 'V', byte(height), 0x00}, nil
}

// Encoder streams packed rasters to a printer through an Opener.
type Encoder struct {
	opener Opener
}

// NewEncoder returns an encoder writing through opener.
func NewEncoder(opener Opener) *Encoder {
	return &Encoder{opener: opener}
}

// Print sends the init sequence, every chunk framed with its bitmap command
// and the trailer. Chunks are validated up front so nothing reaches the
// device when the raster is malformed.
//
// ctx is only checked before the first byte is written; once the device has
// been initialised the sequence runs to completion or hard failure.
func (e *Encoder) Print(ctx context.Context, packed []byte) error {
	chunks := Split(packed)
	headers := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		h, err := ChunkHeader(chunk)
		if err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		headers[i] = h
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := e.writeBatch(InitSequence); err != nil {
		return fmt.Errorf("init sequence: %w", err)
	}

	for i, chunk := range chunks {
		logger.Debug("Sending bitmap chunk",
			zap.Int("chunk", i+1),
			zap.Int("chunks", len(chunks)),
			zap.Int("rows", len(chunk)/FixedWidth))

		if err := e.writeBatch(headers[i]); err != nil {
			return fmt.Errorf("chunk %d header: %w", i+1, err)
		}
		if err := e.writeBatch(chunk); err != nil {
			return fmt.Errorf("chunk %d payload: %w", i+1, err)
		}
	}

	if err := e.writeBatch(Trailer); err != nil {
		return fmt.Errorf("trailer: %w", err)
	}
	return nil
}

func (e *Encoder) writeBatch(data []byte) error {
	w, err := e.opener.Open()
	if err != nil {
		return fmt.Errorf("%w: open: %v", ErrTransport, err)
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrTransport, err)
	}
	return nil
}
