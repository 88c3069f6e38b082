package output

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
)

// groupsOf returns the group names of the current user.
var groupsOf = func() ([]string, error) {
	u, err := user.Current()
	if err != nil {
		return nil, err
	}
	ids, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		g, err := user.LookupGroupId(id)
		if err != nil {
			continue
		}
		names = append(names, g.Name)
	}
	return names, nil
}

// Preflight runs the startup checks of cfg.Kind. Every failed check is
// reported, joined under ErrPreconditions.
func Preflight(cfg PrinterConfig) error {
	switch cfg.Kind {
	case KindBrotherQL:
		p := newBrotherQL(cfg)
		return CheckBrotherQLPreconditions(p.device, p.binary)
	case KindCSNA2T:
		p := newCSNA2T(cfg)
		return CheckCSNA2TPreconditions(p.device)
	case KindPreview, KindCatPrinter:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPrinter, cfg.Kind)
	}
}

// CheckBrotherQLPreconditions checks the USB device, the brother_ql binary
// and membership of the lp group.
func CheckBrotherQLPreconditions(device, binary string) error {
	var problems []error
	if err := deviceExists(device); err != nil {
		problems = append(problems, err)
	}
	if _, err := exec.LookPath(binary); err != nil {
		problems = append(problems, fmt.Errorf("%s is not installed or not on PATH", binary))
	}
	if err := inGroup("lp"); err != nil {
		problems = append(problems, err)
	}
	return preconditions(problems)
}

// CheckCSNA2TPreconditions checks the serial device and membership of the
// dialout group.
func CheckCSNA2TPreconditions(device string) error {
	var problems []error
	if err := deviceExists(device); err != nil {
		problems = append(problems, err)
	}
	if err := inGroup("dialout"); err != nil {
		problems = append(problems, err)
	}
	return preconditions(problems)
}

func deviceExists(device string) error {
	if _, err := os.Stat(device); err != nil {
		return fmt.Errorf("device %s does not exist, is the printer plugged in?", device)
	}
	return nil
}

func inGroup(group string) error {
	groups, err := groupsOf()
	if err != nil {
		return fmt.Errorf("failed to read groups of the current user: %w", err)
	}
	for _, g := range groups {
		if g == group {
			return nil
		}
	}
	return fmt.Errorf("current user is not in the %s group", group)
}

func preconditions(problems []error) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPreconditions, errors.Join(problems...))
}
