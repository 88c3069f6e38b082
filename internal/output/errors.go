package output

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/thermal"
)

var (
	// ErrUnsupportedLabel is returned at construction when the label is not
	// in the printer's supported set.
	ErrUnsupportedLabel = errors.New("unsupported label")

	// ErrUnknownPrinter is returned for printer kinds outside the catalog.
	ErrUnknownPrinter = errors.New("unknown printer")

	// ErrDeviceNotFound is returned when the device node is missing.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrPreconditions is returned by startup checks.
	ErrPreconditions = errors.New("printer preconditions not met")

	// ErrMediaError means the printer is out of labels or loaded with the wrong media.
	ErrMediaError = errors.New("media error")

	// ErrPrintFailed means the device or its utility reported a failure.
	ErrPrintFailed = errors.New("print failed")

	// ErrTransport is a device I/O failure.
	ErrTransport = thermal.ErrTransport
)

// PrintFailedError carries the diagnostics of a failed print.
type PrintFailedError struct {
	Printer  string
	Label    string
	ExitCode int
	Matches  []string
	Output   string
}

func (e *PrintFailedError) Error() string {
	msg := fmt.Sprintf("error on %s while printing onto label %s: got returncode %d", e.Printer, e.Label, e.ExitCode)
	if len(e.Matches) > 0 {
		msg += " and errors\n" + strings.Join(e.Matches, "\n")
	}
	return msg
}

func (e *PrintFailedError) Is(target error) bool {
	return target == ErrPrintFailed
}

// IsUserFacing reports whether err is something the requester or operator
// can act on, as opposed to an internal defect.
func IsUserFacing(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, thermal.ErrMalformedChunk):
		return false
	case errors.Is(err, imageformat.ErrImageNotFound),
		errors.Is(err, imageformat.ErrLabelTooLong),
		errors.Is(err, ErrMediaError),
		errors.Is(err, ErrPrintFailed),
		errors.Is(err, ErrUnsupportedLabel),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrTransport):
		return true
	}
	return false
}
