package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	defaultBrotherQLModel  = "QL-500"
	defaultBrotherQLDevice = "/dev/usb/lp0"
	defaultBrotherQLBinary = "brother_ql"

	mediaErrorMarker = "replace media error"
)

// brotherQLErrors are the diagnostics brother_ql prints when a job did not
// make it onto the label.
var brotherQLErrors = []string{
	"status not received",
	"errors occured",
	"printing potentially not successful",
	"invalid value for",
}

// brotherQL はbrother_ql CLI経由でUSB接続のラベルプリンターに印刷する
type brotherQL struct {
	model  string
	device string
	binary string
	format imageformat.Options
}

func newBrotherQL(cfg PrinterConfig) *brotherQL {
	p := &brotherQL{
		model:  cfg.BrotherQLModel,
		device: cfg.BrotherQLDevice,
		binary: cfg.BrotherQLBinary,
		format: cfg.Format,
	}
	if p.model == "" {
		p.model = defaultBrotherQLModel
	}
	if p.device == "" {
		p.device = defaultBrotherQLDevice
	}
	if p.binary == "" {
		p.binary = defaultBrotherQLBinary
	}
	return p
}

func (p *brotherQL) name() string {
	return p.model
}

func (p *brotherQL) print(ctx context.Context, imagePath string, l label.Label) (string, error) {
	if _, err := os.Stat(p.device); err != nil {
		return "", fmt.Errorf("%w: USB device %s for %s does not exist", ErrDeviceNotFound, p.device, p.model)
	}

	// QLシリーズはグレースケール対応
	formatted, err := imageformat.FormatGrayscale(imagePath, l, p.format)
	if err != nil {
		return "", err
	}

	args := []string{
		"-m", p.model,
		"-b", "linux_kernel",
		"-p", "file://" + p.device,
		"print",
		"-l", l.SizeDescriptor(),
		formatted,
		"-d",
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)
	output, runErr := cmd.CombinedOutput()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return "", fmt.Errorf("%w: failed to run %s: %v", ErrPrintFailed, p.binary, runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			logger.Debug("brother_ql", zap.String("line", line))
		}
	}

	if err := classifyBrotherQLOutput(string(output), exitCode, p.model, l.Name); err != nil {
		return "", err
	}
	return formatted, nil
}

// classifyBrotherQLOutput turns the utility's combined output and exit code
// into a typed error, or nil when the job succeeded.
func classifyBrotherQLOutput(output string, exitCode int, printer, labelName string) error {
	lines := strings.Split(output, "\n")

	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), mediaErrorMarker) {
			return fmt.Errorf("%w on %s while printing on %s: make sure that %s type labels are loaded into the printer and the printer is not out of labels",
				ErrMediaError, printer, labelName, labelName)
		}
	}

	var matches []string
	for _, known := range brotherQLErrors {
		for _, line := range lines {
			if strings.Contains(strings.ToLower(line), known) {
				matches = append(matches, known)
				break
			}
		}
	}

	if len(matches) > 0 || exitCode != 0 {
		return &PrintFailedError{
			Printer:  printer,
			Label:    labelName,
			ExitCode: exitCode,
			Matches:  matches,
			Output:   output,
		}
	}
	return nil
}
