package output

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"github.com/ichi0g0y/stimky-sticker/internal/status"
	"go.uber.org/zap"
)

// Kind はプリンターの種類を表す
type Kind string

const (
	KindBrotherQL  Kind = "ql-500"
	KindCSNA2T     Kind = "csn-a2-t"
	KindPreview    Kind = "preview"
	KindCatPrinter Kind = "catprinter"
)

// Kinds returns every printer kind, sorted.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(supportedLabels))
	for k := range supportedLabels {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseKind resolves a configured printer name, ignoring case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := supportedLabels[k]; !ok {
		return "", fmt.Errorf("%w: %q (valid printers are %v)", ErrUnknownPrinter, s, Kinds())
	}
	return k, nil
}

var supportedLabels = map[Kind][]label.Label{
	KindBrotherQL:  {label.DK2012, label.DK2205},
	KindCSNA2T:     {label.GenericCSNA2Roll},
	KindPreview:    {label.DK2012, label.DK2205, label.GenericCSNA2Roll, label.CatPrinterRoll},
	KindCatPrinter: {label.CatPrinterRoll},
}

// SupportedLabels returns the media a printer kind accepts.
func SupportedLabels(k Kind) []label.Label {
	out := make([]label.Label, len(supportedLabels[k]))
	copy(out, supportedLabels[k])
	return out
}

// Printer is the contract every device driver fulfils.
type Printer interface {
	Name() string
	Kind() Kind
	Label() label.Label
	SupportedLabels() []label.Label
	// Print formats imagePath for the bound label, prints it and returns the
	// path of the formatted artifact.
	Print(ctx context.Context, imagePath string) (string, error)
}

// PrinterConfig はプリンター設定
type PrinterConfig struct {
	Kind   Kind
	Label  label.Label
	Format imageformat.Options

	// brother_ql 固有
	BrotherQLModel  string
	BrotherQLDevice string
	BrotherQLBinary string

	// シリアル固有
	SerialDevice string
	SerialBaud   int

	// Bluetooth固有
	BluetoothAddress string
	BestQuality      bool
	BlackPoint       float32
}

// driver is the device specific body run while the gate is held.
type driver interface {
	name() string
	print(ctx context.Context, imagePath string, l label.Label) (string, error)
}

// Device binds a driver to a label and the shared print gate.
type Device struct {
	kind   Kind
	label  label.Label
	gate   *PrintGate
	driver driver
}

// New builds the printer described by cfg. It fails with ErrUnsupportedLabel
// when cfg.Label is not accepted by cfg.Kind.
func New(cfg PrinterConfig, gate *PrintGate) (*Device, error) {
	if gate == nil {
		return nil, fmt.Errorf("print gate is required")
	}
	if err := cfg.Label.Validate(); err != nil {
		return nil, err
	}

	var d driver
	switch cfg.Kind {
	case KindBrotherQL:
		d = newBrotherQL(cfg)
	case KindCSNA2T:
		d = newCSNA2T(cfg)
	case KindPreview:
		d = newPreview(cfg)
	case KindCatPrinter:
		cp, err := newCatPrinter(cfg)
		if err != nil {
			return nil, err
		}
		d = cp
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrinter, cfg.Kind)
	}

	return newDevice(cfg.Kind, cfg.Label, gate, d)
}

func newDevice(kind Kind, l label.Label, gate *PrintGate, d driver) (*Device, error) {
	if !label.Contains(supportedLabels[kind], l) {
		return nil, fmt.Errorf("%w: label %s is not supported by printer %s", ErrUnsupportedLabel, l.Name, d.name())
	}

	logger.Info("Printer initialized",
		zap.String("printer", d.name()),
		zap.String("kind", string(kind)),
		zap.String("label", l.Name))

	return &Device{kind: kind, label: l, gate: gate, driver: d}, nil
}

var _ Printer = (*Device)(nil)

func (p *Device) Name() string {
	return p.driver.name()
}

func (p *Device) Kind() Kind {
	return p.kind
}

func (p *Device) Label() label.Label {
	return p.label
}

// SupportedLabels returns the media this printer accepts.
func (p *Device) SupportedLabels() []label.Label {
	return SupportedLabels(p.kind)
}

// Print waits for the shared gate, then runs the driver. ctx bounds the wait
// only: once the gate is held the device body runs to completion.
func (p *Device) Print(ctx context.Context, imagePath string) (string, error) {
	waitStart := time.Now()
	if err := p.gate.Acquire(ctx); err != nil {
		return "", err
	}
	defer p.gate.Release()

	status.SetPrinterBusy(true)
	defer status.SetPrinterBusy(false)

	logger.Info("Printing",
		zap.String("printer", p.driver.name()),
		zap.String("label", p.label.Name),
		zap.String("image", imagePath),
		zap.Duration("waited", time.Since(waitStart)))

	start := time.Now()
	artifact, err := p.driver.print(context.WithoutCancel(ctx), imagePath, p.label)
	status.SetLastError(err)
	if err != nil {
		logger.Error("Print failed",
			zap.String("printer", p.driver.name()),
			zap.String("image", imagePath),
			zap.Error(err))
		return "", err
	}

	logger.Info("Print job completed successfully",
		zap.String("printer", p.driver.name()),
		zap.String("artifact", artifact),
		zap.Duration("took", time.Since(start)))
	return artifact, nil
}
