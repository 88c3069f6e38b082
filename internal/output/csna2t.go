package output

import (
	"context"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/thermal"
)

const defaultSerialDevice = "/dev/ttyUSB0"

// csnA2T はUART接続のCSN-A2-Tサーマルプリンター
type csnA2T struct {
	device string
	opener thermal.Opener
	format imageformat.Options
}

func newCSNA2T(cfg PrinterConfig) *csnA2T {
	device := cfg.SerialDevice
	if device == "" {
		device = defaultSerialDevice
	}
	baud := cfg.SerialBaud
	if baud <= 0 {
		baud = thermal.BaudRate
	}
	return &csnA2T{
		device: device,
		opener: thermal.SerialOpener{Device: device, Baud: baud},
		format: cfg.Format,
	}
}

func (p *csnA2T) name() string {
	return "CSN-A2-T"
}

func (p *csnA2T) print(ctx context.Context, imagePath string, l label.Label) (string, error) {
	if _, err := os.Stat(p.device); err != nil {
		return "", fmt.Errorf("%w: serial device %s for %s does not exist", ErrDeviceNotFound, p.device, p.name())
	}

	// 1bitしか出せないので白黒に変換する
	formatted, err := imageformat.FormatBW(imagePath, l, p.format)
	if err != nil {
		return "", err
	}

	img, err := imaging.Open(formatted)
	if err != nil {
		return "", fmt.Errorf("failed to reopen formatted image %s: %w", formatted, err)
	}

	if err := thermal.NewEncoder(p.opener).Print(ctx, thermal.PackImage(img)); err != nil {
		return "", err
	}
	return formatted, nil
}
