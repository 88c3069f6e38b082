package output

import (
	"context"

	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"go.uber.org/zap"
)

// preview formats the image without touching any device. Handy for trying
// out labels and for dry runs.
type preview struct {
	format imageformat.Options
}

func newPreview(cfg PrinterConfig) *preview {
	return &preview{format: cfg.Format}
}

func (p *preview) name() string {
	return "preview"
}

func (p *preview) print(_ context.Context, imagePath string, l label.Label) (string, error) {
	formatted, err := imageformat.FormatGrayscale(imagePath, l, p.format)
	if err != nil {
		return "", err
	}
	logger.Info("Preview ready (no device output)",
		zap.String("label", l.Name),
		zap.String("artifact", formatted))
	return formatted, nil
}
