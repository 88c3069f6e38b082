package thermal

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"testing"
)

// recordingOpener captures every batch written through it.
type recordingOpener struct {
	batches  [][]byte
	open     int
	closed   int
	failOpen int // 1-based index of the Open call that fails, 0 = never
}

type recordingWriter struct {
	parent *recordingOpener
	buf    bytes.Buffer
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *recordingWriter) Close() error {
	w.parent.closed++
	w.parent.batches = append(w.parent.batches, append([]byte(nil), w.buf.Bytes()...))
	return nil
}

func (o *recordingOpener) Open() (io.WriteCloser, error) {
	o.open++
	if o.failOpen == o.open {
		return nil, errors.New("device vanished")
	}
	return &recordingWriter{parent: o}, nil
}

func TestInitSequenceBytes(t *testing.T) {
	want := []byte{0x1b, 0x37, 0x07, 0xff, 0xff, 0x12, 0x23, 0xff}
	if !bytes.Equal(InitSequence, want) {
		t.Fatalf("InitSequence = % x, want % x", InitSequence, want)
	}
}

func TestPackBitsRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 9, 15, 16, 17, 383, 384, 1001} {
		pixels := make([]bool, n)
		for i := range pixels {
			pixels[i] = (i*7+i/3)%3 == 0
		}

		packed := PackBits(pixels)
		if len(packed) != (n+7)/8 {
			t.Fatalf("n=%d: packed length = %d, want %d", n, len(packed), (n+7)/8)
		}

		got := UnpackBits(packed, n)
		for i := range pixels {
			if got[i] != pixels[i] {
				t.Fatalf("n=%d: pixel %d = %v, want %v", n, i, got[i], pixels[i])
			}
		}

		// 末尾のパディングビットはクリアされていること
		if n%8 != 0 {
			last := packed[len(packed)-1]
			mask := byte(0xff) >> uint(n%8)
			if last&mask != 0 {
				t.Fatalf("n=%d: padding bits set in %08b", n, last)
			}
		}
	}
}

func TestPackBitsIsMSBFirst(t *testing.T) {
	got := PackBits([]bool{true, false, false, false, false, false, false, true, true})
	want := []byte{0x81, 0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("PackBits = % x, want % x", got, want)
	}
}

func TestPackImageBlackSetsBit(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 1))
	for x := 0; x < 16; x++ {
		img.SetGray(x, 0, color.Gray{Y: 255})
	}
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(9, 0, color.Gray{Y: 0})

	got := PackImage(img)
	want := []byte{0x80, 0x40}
	if !bytes.Equal(got, want) {
		t.Fatalf("PackImage = % x, want % x", got, want)
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		rows       int
		wantChunks int
		lastRows   int
	}{
		{name: "one row", rows: 1, wantChunks: 1, lastRows: 1},
		{name: "exactly one chunk", rows: 255, wantChunks: 1, lastRows: 255},
		{name: "one row over", rows: 256, wantChunks: 2, lastRows: 1},
		{name: "label roll max", rows: 1275, wantChunks: 5, lastRows: 255},
		{name: "uneven", rows: 600, wantChunks: 3, lastRows: 90},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			data := make([]byte, tc.rows*FixedWidth)
			for i := range data {
				data[i] = byte(i * 31)
			}

			chunks := Split(data)
			if len(chunks) != tc.wantChunks {
				t.Fatalf("Split() produced %d chunks, want %d", len(chunks), tc.wantChunks)
			}
			if got := len(chunks[len(chunks)-1]) / FixedWidth; got != tc.lastRows {
				t.Fatalf("last chunk rows = %d, want %d", got, tc.lastRows)
			}
			if !bytes.Equal(bytes.Join(chunks, nil), data) {
				t.Fatal("concatenated chunks differ from the packed data")
			}
		})
	}
}

func TestChunkHeader(t *testing.T) {
	h, err := ChunkHeader(make([]byte, 10*FixedWidth))
	if err != nil {
		t.Fatalf("ChunkHeader failed: %v", err)
	}
	if !bytes.Equal(h, []byte{0x12, 0x56, 10, 0x00}) {
		t.Fatalf("ChunkHeader = % x", h)
	}

	bad := map[string][]byte{
		"empty":       {},
		"partial row": make([]byte, FixedWidth+1),
		"too tall":    make([]byte, (ChunkHeight+1)*FixedWidth),
	}
	for name, chunk := range bad {
		if _, err := ChunkHeader(chunk); !errors.Is(err, ErrMalformedChunk) {
			t.Fatalf("%s: expected ErrMalformedChunk, got %v", name, err)
		}
	}
}

func TestEncoderFraming(t *testing.T) {
	for _, rows := range []int{1, 255, 256, 700} {
		data := make([]byte, rows*FixedWidth)
		for i := range data {
			data[i] = byte(i)
		}

		opener := &recordingOpener{}
		if err := NewEncoder(opener).Print(context.Background(), data); err != nil {
			t.Fatalf("rows=%d: Print failed: %v", rows, err)
		}

		chunks := (rows + ChunkHeight - 1) / ChunkHeight
		// init + (header + payload) per chunk + trailer
		if len(opener.batches) != 2+2*chunks {
			t.Fatalf("rows=%d: %d batches, want %d", rows, len(opener.batches), 2+2*chunks)
		}
		if opener.open != opener.closed {
			t.Fatalf("rows=%d: %d opens but %d closes", rows, opener.open, opener.closed)
		}
		if !bytes.Equal(opener.batches[0], InitSequence) {
			t.Fatalf("rows=%d: first batch is not the init sequence", rows)
		}
		if !bytes.Equal(opener.batches[len(opener.batches)-1], Trailer) {
			t.Fatalf("rows=%d: last batch is not the trailer", rows)
		}

		var payload []byte
		headers := 0
		remaining := rows
		for i := 1; i < len(opener.batches)-1; i += 2 {
			header := opener.batches[i]
			want := remaining
			if want > ChunkHeight {
				want = ChunkHeight
			}
			if !bytes.Equal(header, []byte{0x12, 'V', byte(want), 0}) {
				t.Fatalf("rows=%d: header %d = % x", rows, headers, header)
			}
			headers++
			remaining -= want
			payload = append(payload, opener.batches[i+1]...)
		}
		if headers != chunks {
			t.Fatalf("rows=%d: %d framing commands, want %d", rows, headers, chunks)
		}
		if !bytes.Equal(payload, data) {
			t.Fatalf("rows=%d: payloads do not reproduce the packed data", rows)
		}
	}
}

func TestEncoderRejectsMalformedDataBeforeWriting(t *testing.T) {
	opener := &recordingOpener{}
	err := NewEncoder(opener).Print(context.Background(), make([]byte, 3*FixedWidth+5))
	if !errors.Is(err, ErrMalformedChunk) {
		t.Fatalf("expected ErrMalformedChunk, got %v", err)
	}
	if opener.open != 0 {
		t.Fatalf("nothing should be written for malformed data, got %d opens", opener.open)
	}
}

func TestEncoderTransportError(t *testing.T) {
	opener := &recordingOpener{failOpen: 3}
	err := NewEncoder(opener).Print(context.Background(), make([]byte, FixedWidth))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if len(opener.batches) != 2 {
		t.Fatalf("expected the sequence to stop after the failed batch, got %d batches", len(opener.batches))
	}
}

func TestEncoderHonoursCancellationBeforeFirstWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opener := &recordingOpener{}
	if err := NewEncoder(opener).Print(ctx, make([]byte, FixedWidth)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if opener.open != 0 {
		t.Fatalf("no batch should be opened after cancellation, got %d", opener.open)
	}
}
