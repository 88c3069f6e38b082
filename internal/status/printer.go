package status

import (
	"sync"
	"time"
)

// PrinterStatusChangeCallback is called when the printer starts or finishes a job
type PrinterStatusChangeCallback func(busy bool)

// Snapshot is the printer state as seen by the web UI.
type Snapshot struct {
	Ready      bool      `json:"ready"`
	Busy       bool      `json:"busy"`
	Printer    string    `json:"printer,omitempty"`
	Label      string    `json:"label,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	LastChange time.Time `json:"last_change"`
}

var (
	mu               sync.RWMutex
	current          Snapshot
	printerCallbacks []PrinterStatusChangeCallback
)

// SetPrinter records which printer and label are in use and whether the
// startup checks passed.
func SetPrinter(name, label string, ready bool, lastErr error) {
	mu.Lock()
	defer mu.Unlock()
	current.Printer = name
	current.Label = label
	current.Ready = ready
	current.LastError = ""
	if lastErr != nil {
		current.LastError = lastErr.Error()
	}
	current.LastChange = time.Now()
}

// SetLastError keeps the most recent print failure for the status endpoint
func SetLastError(err error) {
	mu.Lock()
	defer mu.Unlock()
	if err == nil {
		current.LastError = ""
		return
	}
	current.LastError = err.Error()
}

// SetPrinterBusy sets the printer busy status
func SetPrinterBusy(busy bool) {
	mu.Lock()
	previous := current.Busy
	current.Busy = busy
	if previous != busy {
		current.LastChange = time.Now()
	}
	callbacks := make([]PrinterStatusChangeCallback, len(printerCallbacks))
	copy(callbacks, printerCallbacks)
	mu.Unlock()

	// 状態が変更された場合のみ通知
	if previous == busy {
		return
	}
	for _, callback := range callbacks {
		if callback != nil {
			callback(busy)
		}
	}
}

// IsPrinterBusy returns the printer busy status
func IsPrinterBusy() bool {
	mu.RLock()
	defer mu.RUnlock()
	return current.Busy
}

// Get returns a copy of the current printer state
func Get() Snapshot {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// RegisterPrinterStatusChangeCallback registers a callback for printer status changes
func RegisterPrinterStatusChangeCallback(callback PrinterStatusChangeCallback) {
	mu.Lock()
	defer mu.Unlock()
	printerCallbacks = append(printerCallbacks, callback)
}
