package label

import (
	"fmt"
	"strings"
)

var (
	// DK2012 is a Brother 62x100mm die-cut label.
	DK2012 = Label{
		Name:        "DK2012",
		Kind:        KindBrotherDK,
		WidthPx:     696,
		HeightPx:    intPtr(1109),
		HeightPxMax: 1109,
		WidthMM:     62,
		HeightMM:    intPtr(100),
	}

	// DK2205 is a Brother 62mm continuous roll.
	DK2205 = Label{
		Name:        "DK2205",
		Kind:        KindBrotherDK,
		WidthPx:     696,
		HeightPxMax: 2500,
		WidthMM:     62,
	}

	// GenericCSNA2Roll is the 58mm paper roll of the CSN-A2 serial printer.
	GenericCSNA2Roll = Label{
		Name:        "GENERIC-CSNA2-ROLL",
		Kind:        KindGeneric,
		WidthPx:     384,
		HeightPxMax: 1275,
		WidthMM:     52,
	}

	// CatPrinterRoll is the 57mm thermal roll used by BLE cat printers.
	CatPrinterRoll = Label{
		Name:        "GENERIC-CATPRINTER-ROLL",
		Kind:        KindGeneric,
		WidthPx:     384,
		HeightPxMax: 1600,
		WidthMM:     57,
	}
)

var catalog = []Label{DK2012, DK2205, GenericCSNA2Roll, CatPrinterRoll}

// All returns every known label.
func All() []Label {
	out := make([]Label, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns the lower-cased names of every known label.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, l := range catalog {
		names = append(names, strings.ToLower(l.Name))
	}
	return names
}

// Lookup finds a label by name, ignoring case.
func Lookup(name string) (Label, error) {
	name = strings.TrimSpace(name)
	for _, l := range catalog {
		if strings.EqualFold(l.Name, name) {
			return l, nil
		}
	}
	return Label{}, fmt.Errorf("%w: %q (valid labels are %s)", ErrUnknownLabel, name, strings.Join(Names(), ", "))
}

// Contains reports whether l is in set.
func Contains(set []Label, l Label) bool {
	for _, s := range set {
		if s.Is(l) {
			return true
		}
	}
	return false
}
