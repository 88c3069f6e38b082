package thermal

import (
	"io"

	"github.com/tarm/serial"
)

// SerialOpener opens the printer's UART for every write batch.
type SerialOpener struct {
	Device string
	Baud   int
}

// Open implements Opener.
func (o SerialOpener) Open() (io.WriteCloser, error) {
	baud := o.Baud
	if baud <= 0 {
		baud = BaudRate
	}
	return serial.OpenPort(&serial.Config{Name: o.Device, Baud: baud})
}
