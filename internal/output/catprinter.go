package output

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"git.massivebox.net/massivebox/go-catprinter"
	"github.com/disintegration/imaging"
	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"go.uber.org/zap"
)

// catSession is one BLE connection to a cat printer.
type catSession interface {
	Connect(address string) error
	Print(img image.Image) error
	Close()
}

type bleSession struct {
	client *catprinter.Client
	opts   *catprinter.PrinterOptions
}

func (s *bleSession) Connect(address string) error {
	return s.client.Connect(address)
}

func (s *bleSession) Print(img image.Image) error {
	return s.client.Print(img, s.opts, false)
}

func (s *bleSession) Close() {
	s.client.Disconnect()
	s.client.Stop()
}

// catPrinter はBluetooth Catプリンター。ジョブ毎に接続→印刷→切断する
type catPrinter struct {
	address string
	format  imageformat.Options
	dial    func() (catSession, error)
	sleep   func(time.Duration)
}

func newCatPrinter(cfg PrinterConfig) (*catPrinter, error) {
	if cfg.BluetoothAddress == "" {
		return nil, fmt.Errorf("bluetooth address is required")
	}

	// 画像はこちらで二値化済みなのでライブラリ側のディザ・回転は切る
	opts := catprinter.NewOptions().
		SetBestQuality(cfg.BestQuality).
		SetDither(false).
		SetAutoRotate(false).
		SetBlackPoint(cfg.BlackPoint)

	return &catPrinter{
		address: cfg.BluetoothAddress,
		format:  cfg.Format,
		dial: func() (catSession, error) {
			c, err := newCatPrinterClientWithRetry()
			if err != nil {
				return nil, err
			}
			return &bleSession{client: c, opts: opts}, nil
		},
		sleep: time.Sleep,
	}, nil
}

func (p *catPrinter) name() string {
	return "catprinter"
}

func (p *catPrinter) print(_ context.Context, imagePath string, l label.Label) (string, error) {
	formatted, err := imageformat.FormatBW(imagePath, l, p.format)
	if err != nil {
		return "", err
	}
	img, err := imaging.Open(formatted)
	if err != nil {
		return "", fmt.Errorf("failed to reopen formatted image %s: %w", formatted, err)
	}

	session, err := p.dial()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	defer func() {
		logger.Info("Disconnecting Bluetooth printer", zap.String("address", p.address))
		session.Close()
	}()

	logger.Info("Connecting to Bluetooth printer", zap.String("address", p.address))
	if err := session.Connect(p.address); err != nil {
		return "", fmt.Errorf("%w: failed to connect to printer %s: %v", ErrDeviceNotFound, p.address, err)
	}

	// BLE接続直後のパラメータネゴシエーション完了を待つ
	p.sleep(time.Second)

	if err := session.Print(img); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	// Cat printers are slow (~10mm/s): base 2s + 1s per 60 rows, at least 3s.
	wait := catPrinterDrainTime(img.Bounds().Dy())
	logger.Info("Print finished, waiting for stabilization",
		zap.Int("height_px", img.Bounds().Dy()),
		zap.Duration("wait", wait))
	p.sleep(wait)

	return formatted, nil
}

func catPrinterDrainTime(height int) time.Duration {
	sec := 2 + height/60
	if sec < 3 {
		sec = 3
	}
	return time.Duration(sec) * time.Second
}

func shouldRetryDeviceInit(err error) bool {
	if err == nil {
		return false
	}
	// go-ble returns ManagerStateUnknown (have=0) briefly after startup on macOS
	msg := err.Error()
	return strings.Contains(msg, "central manager has invalid state") && strings.Contains(msg, "have=0")
}

func newCatPrinterClientWithRetry() (*catprinter.Client, error) {
	var lastErr error
	for attempt := 0; attempt < 6; attempt++ {
		c, err := catprinter.NewClient()
		if err == nil {
			return c, nil
		}
		lastErr = err

		if shouldRetryDeviceInit(err) {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		break
	}
	return nil, fmt.Errorf("failed to create catprinter client: %w", lastErr)
}
