package output

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/thermal"
)

func writeSource(t *testing.T, w, h int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sticker.png")
	if err := imaging.Save(imaging.New(w, h, color.Black), path); err != nil {
		t.Fatalf("failed to write source image: %v", err)
	}
	return path
}

func touch(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	return path
}

type fakeDriver struct {
	active    *int32
	maxActive *int32
	calls     int32
	hold      time.Duration
}

func (d *fakeDriver) name() string {
	return "fake"
}

func (d *fakeDriver) print(_ context.Context, imagePath string, _ label.Label) (string, error) {
	atomic.AddInt32(&d.calls, 1)
	n := atomic.AddInt32(d.active, 1)
	for {
		m := atomic.LoadInt32(d.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(d.maxActive, m, n) {
			break
		}
	}
	time.Sleep(d.hold)
	atomic.AddInt32(d.active, -1)
	return imagePath, nil
}

func TestNewRejectsUnsupportedLabel(t *testing.T) {
	tests := []struct {
		kind Kind
		l    label.Label
	}{
		{kind: KindCSNA2T, l: label.DK2012},
		{kind: KindBrotherQL, l: label.GenericCSNA2Roll},
		{kind: KindCatPrinter, l: label.DK2205},
	}

	for _, tc := range tests {
		cfg := PrinterConfig{Kind: tc.kind, Label: tc.l, BluetoothAddress: "AA:BB:CC:DD:EE:FF"}
		if _, err := New(cfg, NewPrintGate()); !errors.Is(err, ErrUnsupportedLabel) {
			t.Fatalf("New(%s, %s) expected ErrUnsupportedLabel, got %v", tc.kind, tc.l.Name, err)
		}
	}
}

func TestNewAcceptsSupportedLabels(t *testing.T) {
	for _, k := range []Kind{KindBrotherQL, KindCSNA2T, KindPreview} {
		for _, l := range SupportedLabels(k) {
			p, err := New(PrinterConfig{Kind: k, Label: l}, NewPrintGate())
			if err != nil {
				t.Fatalf("New(%s, %s) failed: %v", k, l.Name, err)
			}
			if p.Kind() != k || !p.Label().Is(l) {
				t.Fatalf("unexpected printer: kind=%s label=%s", p.Kind(), p.Label().Name)
			}
		}
	}
}

func TestNewCatPrinterRequiresAddress(t *testing.T) {
	_, err := New(PrinterConfig{Kind: KindCatPrinter, Label: label.CatPrinterRoll}, NewPrintGate())
	if err == nil {
		t.Fatal("expected error without bluetooth address")
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" QL-500 ")
	if err != nil || k != KindBrotherQL {
		t.Fatalf("ParseKind = %q, %v", k, err)
	}
	if _, err := ParseKind("ql-700"); !errors.Is(err, ErrUnknownPrinter) {
		t.Fatalf("expected ErrUnknownPrinter, got %v", err)
	}
}

func TestGateSerialisesPrintsAcrossDevices(t *testing.T) {
	gate := NewPrintGate()
	var active, maxActive int32

	d1 := &fakeDriver{active: &active, maxActive: &maxActive, hold: 20 * time.Millisecond}
	d2 := &fakeDriver{active: &active, maxActive: &maxActive, hold: 20 * time.Millisecond}
	p1, err := newDevice(KindPreview, label.DK2012, gate, d1)
	if err != nil {
		t.Fatalf("newDevice failed: %v", err)
	}
	p2, err := newDevice(KindPreview, label.DK2205, gate, d2)
	if err != nil {
		t.Fatalf("newDevice failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, p := range []*Device{p1, p2} {
			wg.Add(1)
			go func(p *Device) {
				defer wg.Done()
				if _, err := p.Print(context.Background(), "x.png"); err != nil {
					t.Errorf("Print failed: %v", err)
				}
			}(p)
		}
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent prints = %d, want 1", maxActive)
	}
	if d1.calls+d2.calls != 8 {
		t.Fatalf("driver calls = %d, want 8", d1.calls+d2.calls)
	}
}

func TestPrintGivesUpWhileWaiting(t *testing.T) {
	gate := NewPrintGate()
	var active, maxActive int32
	d := &fakeDriver{active: &active, maxActive: &maxActive}
	p, err := newDevice(KindPreview, label.DK2012, gate, d)
	if err != nil {
		t.Fatalf("newDevice failed: %v", err)
	}

	if !gate.TryAcquire() {
		t.Fatal("gate should be free")
	}
	defer gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Print(ctx, "x.png"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if d.calls != 0 {
		t.Fatal("driver must not run without the gate")
	}
}

func TestClassifyBrotherQLOutput(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		exitCode int
		want     error
		matches  []string
	}{
		{name: "success", output: "Sending data...\nPrinting was successful.\n", want: nil},
		{name: "media", output: "Errors occured: ['Replace media error']\n", exitCode: 1, want: ErrMediaError},
		{name: "status", output: "INFO: status not received.\n", want: ErrPrintFailed, matches: []string{"status not received"}},
		{
			name:     "several",
			output:   "errors occured\nprinting potentially not successful?\n",
			exitCode: 1,
			want:     ErrPrintFailed,
			matches:  []string{"errors occured", "printing potentially not successful"},
		},
		{name: "invalid", output: "Error: Invalid value for \"-l\"", exitCode: 2, want: ErrPrintFailed, matches: []string{"invalid value for"}},
		{name: "exit code only", output: "Segmentation fault", exitCode: 139, want: ErrPrintFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyBrotherQLOutput(tc.output, tc.exitCode, "QL-500", "DK2205")
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.want == ErrMediaError {
				if !strings.Contains(err.Error(), "DK2205") {
					t.Fatalf("media error should name the label: %v", err)
				}
				return
			}

			var failed *PrintFailedError
			if !errors.As(err, &failed) {
				t.Fatalf("expected *PrintFailedError, got %T", err)
			}
			if failed.ExitCode != tc.exitCode || failed.Output != tc.output {
				t.Fatalf("unexpected payload: %+v", failed)
			}
			if strings.Join(failed.Matches, "|") != strings.Join(tc.matches, "|") {
				t.Fatalf("Matches = %v, want %v", failed.Matches, tc.matches)
			}
		})
	}
}

func fakeBrotherQL(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "brother_ql")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write fake brother_ql: %v", err)
	}
	return path
}

func TestBrotherQLRunsUtility(t *testing.T) {
	device := touch(t, "lp0")
	argsFile := filepath.Join(t.TempDir(), "args")
	bin := fakeBrotherQL(t, `echo "$@" > `+argsFile+`; echo "Printing was successful."`)

	p := newBrotherQL(PrinterConfig{BrotherQLDevice: device, BrotherQLBinary: bin, Format: imageformat.DefaultOptions()})
	src := writeSource(t, 348, 600)

	artifact, err := p.print(context.Background(), src, label.DK2205)
	if err != nil {
		t.Fatalf("print failed: %v", err)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("fake utility was not run: %v", err)
	}
	want := "-m QL-500 -b linux_kernel -p file://" + device + " print -l 62 " + artifact + " -d"
	if got := strings.TrimSpace(string(raw)); got != want {
		t.Fatalf("unexpected arguments:\n got=%s\nwant=%s", got, want)
	}
}

func TestBrotherQLMediaError(t *testing.T) {
	device := touch(t, "lp0")
	bin := fakeBrotherQL(t, `echo "Replace media error"; exit 1`)

	p := newBrotherQL(PrinterConfig{BrotherQLDevice: device, BrotherQLBinary: bin, Format: imageformat.DefaultOptions()})
	if _, err := p.print(context.Background(), writeSource(t, 100, 200), label.DK2012); !errors.Is(err, ErrMediaError) {
		t.Fatalf("expected ErrMediaError, got %v", err)
	}
}

func TestBrotherQLDeviceNotFound(t *testing.T) {
	p := newBrotherQL(PrinterConfig{BrotherQLDevice: filepath.Join(t.TempDir(), "lp9")})
	if _, err := p.print(context.Background(), "unused.png", label.DK2012); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

type batchWriter struct {
	buf     bytes.Buffer
	batches *[][]byte
}

func (w *batchWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *batchWriter) Close() error {
	*w.batches = append(*w.batches, append([]byte(nil), w.buf.Bytes()...))
	return nil
}

type batchOpener struct {
	batches [][]byte
}

func (o *batchOpener) Open() (io.WriteCloser, error) {
	return &batchWriter{batches: &o.batches}, nil
}

func TestCSNA2TStreamsFormattedImage(t *testing.T) {
	opener := &batchOpener{}
	p := newCSNA2T(PrinterConfig{SerialDevice: touch(t, "ttyUSB0"), Format: imageformat.DefaultOptions()})
	p.opener = opener

	// 192x300 -> 384x600 on the roll, three chunks
	artifact, err := p.print(context.Background(), writeSource(t, 192, 300), label.GenericCSNA2Roll)
	if err != nil {
		t.Fatalf("print failed: %v", err)
	}

	if len(opener.batches) != 2+2*3 {
		t.Fatalf("batches = %d, want 8", len(opener.batches))
	}
	if !bytes.Equal(opener.batches[0], thermal.InitSequence) {
		t.Fatalf("first batch = %x, want init sequence", opener.batches[0])
	}
	if !bytes.Equal(opener.batches[len(opener.batches)-1], thermal.Trailer) {
		t.Fatalf("last batch = %x, want trailer", opener.batches[len(opener.batches)-1])
	}

	var payload []byte
	for i := 2; i < len(opener.batches)-1; i += 2 {
		payload = append(payload, opener.batches[i]...)
	}
	img, err := imaging.Open(artifact)
	if err != nil {
		t.Fatalf("failed to open artifact: %v", err)
	}
	if !bytes.Equal(payload, thermal.PackImage(img)) {
		t.Fatal("streamed payload does not match the formatted artifact")
	}
	// 全面黒の画像
	if payload[0] != 0xff {
		t.Fatalf("first payload byte = %x, want ff", payload[0])
	}
}

func TestCSNA2TDeviceNotFound(t *testing.T) {
	opener := &batchOpener{}
	p := newCSNA2T(PrinterConfig{SerialDevice: filepath.Join(t.TempDir(), "ttyUSB7")})
	p.opener = opener

	if _, err := p.print(context.Background(), "unused.png", label.GenericCSNA2Roll); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if len(opener.batches) != 0 {
		t.Fatal("nothing should be written without a device")
	}
}

type fakeSession struct {
	steps      []string
	connectErr error
	printed    image.Image
}

func (s *fakeSession) Connect(address string) error {
	s.steps = append(s.steps, "connect "+address)
	return s.connectErr
}

func (s *fakeSession) Print(img image.Image) error {
	s.steps = append(s.steps, "print")
	s.printed = img
	return nil
}

func (s *fakeSession) Close() {
	s.steps = append(s.steps, "close")
}

func TestCatPrinterConnectsPerJob(t *testing.T) {
	p, err := newCatPrinter(PrinterConfig{BluetoothAddress: "AA:BB", Format: imageformat.DefaultOptions()})
	if err != nil {
		t.Fatalf("newCatPrinter failed: %v", err)
	}
	session := &fakeSession{}
	var slept []time.Duration
	p.dial = func() (catSession, error) { return session, nil }
	p.sleep = func(d time.Duration) { slept = append(slept, d) }

	if _, err := p.print(context.Background(), writeSource(t, 96, 300), label.CatPrinterRoll); err != nil {
		t.Fatalf("print failed: %v", err)
	}

	if got := strings.Join(session.steps, ","); got != "connect AA:BB,print,close" {
		t.Fatalf("unexpected session steps: %s", got)
	}
	if session.printed.Bounds().Dx() != 384 || session.printed.Bounds().Dy() != 1200 {
		t.Fatalf("unexpected printed size: %v", session.printed.Bounds())
	}
	if len(slept) != 2 || slept[1] != 22*time.Second {
		t.Fatalf("unexpected waits: %v", slept)
	}
}

func TestCatPrinterConnectFailureStillCloses(t *testing.T) {
	p, err := newCatPrinter(PrinterConfig{BluetoothAddress: "AA:BB", Format: imageformat.DefaultOptions()})
	if err != nil {
		t.Fatalf("newCatPrinter failed: %v", err)
	}
	session := &fakeSession{connectErr: errors.New("no such device")}
	p.dial = func() (catSession, error) { return session, nil }
	p.sleep = func(time.Duration) {}

	if _, err := p.print(context.Background(), writeSource(t, 96, 300), label.CatPrinterRoll); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if got := strings.Join(session.steps, ","); got != "connect AA:BB,close" {
		t.Fatalf("unexpected session steps: %s", got)
	}
}

func TestCatPrinterDrainTime(t *testing.T) {
	tests := []struct {
		height int
		want   time.Duration
	}{
		{height: 10, want: 3 * time.Second},
		{height: 60, want: 3 * time.Second},
		{height: 600, want: 12 * time.Second},
	}
	for _, tc := range tests {
		if got := catPrinterDrainTime(tc.height); got != tc.want {
			t.Fatalf("catPrinterDrainTime(%d) = %v, want %v", tc.height, got, tc.want)
		}
	}
}

func TestPreflightReportsEveryProblem(t *testing.T) {
	orig := groupsOf
	t.Cleanup(func() { groupsOf = orig })
	groupsOf = func() ([]string, error) { return []string{"users"}, nil }

	err := CheckCSNA2TPreconditions(filepath.Join(t.TempDir(), "ttyUSB9"))
	if !errors.Is(err, ErrPreconditions) {
		t.Fatalf("expected ErrPreconditions, got %v", err)
	}
	if !strings.Contains(err.Error(), "ttyUSB9") || !strings.Contains(err.Error(), "dialout") {
		t.Fatalf("error should name the device and the group: %v", err)
	}

	groupsOf = func() ([]string, error) { return []string{"users", "dialout"}, nil }
	if err := CheckCSNA2TPreconditions(touch(t, "ttyUSB0")); err != nil {
		t.Fatalf("expected preconditions to pass, got %v", err)
	}
}

func TestBrotherQLPreflight(t *testing.T) {
	orig := groupsOf
	t.Cleanup(func() { groupsOf = orig })
	groupsOf = func() ([]string, error) { return []string{"lp"}, nil }

	bin := fakeBrotherQL(t, "exit 0")
	if err := CheckBrotherQLPreconditions(touch(t, "lp0"), bin); err != nil {
		t.Fatalf("expected preconditions to pass, got %v", err)
	}

	err := CheckBrotherQLPreconditions(touch(t, "lp0"), "definitely-not-brother-ql")
	if !errors.Is(err, ErrPreconditions) || !strings.Contains(err.Error(), "PATH") {
		t.Fatalf("expected missing binary to be reported, got %v", err)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(thermal.ErrMalformedChunk) {
		t.Fatal("malformed chunks are internal defects")
	}
	if !IsUserFacing(&PrintFailedError{Printer: "QL-500"}) {
		t.Fatal("print failures are user facing")
	}
	if !IsUserFacing(imageformat.ErrLabelTooLong) {
		t.Fatal("label too long is user facing")
	}
}
