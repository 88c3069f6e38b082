package output

import "time"

// ScanCatPrinters lists nearby Bluetooth cat printers by MAC address.
func ScanCatPrinters(timeout time.Duration) (map[string]string, error) {
	c, err := newCatPrinterClientWithRetry()
	if err != nil {
		return nil, err
	}
	defer c.Stop()

	c.Timeout = timeout
	devices, err := c.ScanDevices("")
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(devices))
	for mac, name := range devices {
		out[mac] = string(name)
	}
	return out, nil
}
