package genesys

// BaudRate is a serial bit rate supported by the Genesys family.
type BaudRate int

func (b BaudRate) Int() int {
	return int(b)
}

// Baud rates selectable from the Genesys front panel (manual table 7.1).
// Anything faster is rejected by the firmware.
const (
	Baud1200  BaudRate = 1200
	Baud2400  BaudRate = 2400
	Baud4800  BaudRate = 4800
	Baud9600  BaudRate = 9600
	Baud19200 BaudRate = 19200
)

var supportedBaudRates = []BaudRate{Baud1200, Baud2400, Baud4800, Baud9600, Baud19200}

// Valid reports whether the rate is one the supply can be configured for.
func (b BaudRate) Valid() bool {
	for _, v := range supportedBaudRates {
		if b == v {
			return true
		}
	}
	return false
}
