package imageformat

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"github.com/makeworld-the-better-one/dither/v2"
	"go.uber.org/zap"

	// チャットのスタンプはwebpで届く
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const bwThreshold = 128

// Options controls the color pipeline.
type Options struct {
	Background color.NRGBA
	// Gamma is applied as out = 255*(in/255)^(1/Gamma). 1 disables it.
	Gamma float64
	// Dither switches the bw path from a hard threshold to Floyd-Steinberg.
	Dither bool
	// Suffix is appended to the source stem for the output file.
	Suffix string
}

// DefaultOptions returns a white background, gamma 1.8 and plain thresholding.
func DefaultOptions() Options {
	return Options{
		Background: namedColors["white"],
		Gamma:      1.8,
		Suffix:     "_formatted",
	}
}

func (o Options) suffix() string {
	if o.Suffix == "" {
		return "_formatted"
	}
	return o.Suffix
}

// FormatGrayscale converts src into an 8-bit grayscale PNG sized exactly for l
// and returns the path of the written file.
func FormatGrayscale(src string, l label.Label, opts Options) (string, error) {
	img, err := load(src, opts)
	if err != nil {
		return "", err
	}

	img = imaging.Grayscale(img)
	if opts.Gamma > 0 && opts.Gamma != 1 {
		img = imaging.AdjustGamma(img, opts.Gamma)
	}

	fitted, err := Fit(img, l, opts.Background)
	if err != nil {
		return "", err
	}

	return save(src, toGray(fitted), opts)
}

// FormatBW converts src into a 1-bit PNG sized exactly for l and returns the
// path of the written file.
func FormatBW(src string, l label.Label, opts Options) (string, error) {
	img, err := load(src, opts)
	if err != nil {
		return "", err
	}

	// 二値化はリサンプリング後に行い、出力を厳密に白黒2色に保つ
	fitted, err := Fit(imaging.Grayscale(img), l, opts.Background)
	if err != nil {
		return "", err
	}

	var bw *image.Paletted
	if opts.Dither {
		d := dither.NewDitherer(bwPalette)
		d.Matrix = dither.FloydSteinberg
		bw = d.DitherPaletted(fitted)
	} else {
		bw = Threshold(fitted, bwThreshold)
	}

	return save(src, bw, opts)
}

var bwPalette = []color.Color{color.Black, color.White}

// Threshold maps every pixel with luma below cut to black, the rest to white.
func Threshold(img image.Image, cut uint8) *image.Paletted {
	b := img.Bounds()
	out := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), bwPalette)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			if g.Y < cut {
				out.SetColorIndex(x, y, 0)
			} else {
				out.SetColorIndex(x, y, 1)
			}
		}
	}
	return out
}

// Fit rotates img to match the label orientation, computes the target height
// and letterboxes the image into exactly that size. It never crops.
func Fit(img image.Image, l label.Label, bg color.Color) (*image.NRGBA, error) {
	b := img.Bounds()
	photoPortrait := b.Dy() > b.Dx()
	if photoPortrait != l.Portrait() {
		img = imaging.Rotate90(img)
		b = img.Bounds()
	}

	width := l.WidthPx
	var height int
	if l.HeightPx != nil {
		height = *l.HeightPx
	} else {
		aspect := float64(b.Dy()) / float64(b.Dx())
		height = int(math.Round(float64(width) * aspect))
		if height > l.HeightPxMax {
			return nil, &LabelTooLongError{Label: l.Name, Width: width, Height: height, MaxHeight: l.HeightPxMax}
		}
		if height < 1 {
			height = 1
		}
	}

	return pad(img, width, height, bg), nil
}

// pad scales img to fit inside width x height keeping its aspect ratio and
// centers it on a background filled canvas.
func pad(img image.Image, width, height int, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	iw, ih := b.Dx(), b.Dy()

	if iw*height == ih*width {
		return imaging.Resize(img, width, height, imaging.Lanczos)
	}

	canvas := imaging.New(width, height, bg)
	if iw*height > ih*width {
		// 横長: 幅に合わせて上下に余白
		dh := int(math.Round(float64(ih) / float64(iw) * float64(width)))
		if dh < 1 {
			dh = 1
		}
		resized := imaging.Resize(img, width, dh, imaging.Lanczos)
		y := int(math.Round(float64(height-dh) * 0.5))
		return imaging.Paste(canvas, resized, image.Pt(0, y))
	}

	dw := int(math.Round(float64(iw) / float64(ih) * float64(height)))
	if dw < 1 {
		dw = 1
	}
	resized := imaging.Resize(img, dw, height, imaging.Lanczos)
	x := int(math.Round(float64(width-dw) * 0.5))
	return imaging.Paste(canvas, resized, image.Pt(x, 0))
}

// FormattedPath returns the deterministic output path for src.
func FormattedPath(src, suffix string) string {
	if suffix == "" {
		suffix = "_formatted"
	}
	dir := filepath.Dir(src)
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(dir, stem+suffix+".png")
}

func load(src string, opts Options) (image.Image, error) {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, src)
		}
		return nil, fmt.Errorf("failed to stat image %s: %w", src, err)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrDecode, src, err)
	}

	if !isOpaque(img) {
		b := img.Bounds()
		bg := imaging.New(b.Dx(), b.Dy(), opts.Background)
		img = imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	}
	return img, nil
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return out
}

func save(src string, img image.Image, opts Options) (string, error) {
	dst := FormattedPath(src, opts.suffix())
	if err := imaging.Save(img, dst); err != nil {
		return "", fmt.Errorf("failed to write formatted image %s: %w", dst, err)
	}

	logger.Debug("Formatted image written",
		zap.String("source", src),
		zap.String("output", dst),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))
	return dst, nil
}
