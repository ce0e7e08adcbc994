package spiprog

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// DeviceConfig selects the SPI bus the flash chip hangs off.
type DeviceConfig struct {
	// SPI is a periph.io SPI port name (e.g. "/dev/spidev0.0" or "SPI0.0").
	// Empty selects the first FT2232H found on USB.
	SPI string
	// CS is a GPIO name used as chip select. Empty uses the port's own
	// chip select (ADBUS4 on the FT2232H).
	CS    string
	Clock physic.Frequency
}

// Device is an opened SPI bus with a flash driver bound to it.
type Device struct {
	FTDI  *ftdi.FT232H // nil for native SPI ports
	Flash *Flash

	port spi.PortCloser
	cs   ChipSelect
	conn spi.Conn
}

var (
	hostMu    sync.Mutex
	hostReady bool
	hostInit  = func() error {
		_, err := host.Init()
		return err
	}
)

// initHost loads the periph.io host drivers once. A failed attempt is retried
// on the next call.
func initHost() error {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostReady {
		return nil
	}
	if err := hostInit(); err != nil {
		return errors.Wrap(err, "host initialization failed")
	}
	hostReady = true
	return nil
}

// OpenDevice initializes the periph.io host drivers and connects to the bus
// described by cfg.
func OpenDevice(cfg DeviceConfig, opts ...FlashOption) (*Device, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	if cfg.Clock == 0 {
		cfg.Clock = 30 * physic.MegaHertz // [AN_135 3.2.1 Divisors]
	}

	d := &Device{}
	var err error
	if cfg.SPI == "" {
		err = d.openFT2232H()
	} else {
		d.port, err = spireg.Open(cfg.SPI)
		d.cs = hardwareCS{}
	}
	if err != nil {
		return nil, err
	}

	if cfg.CS != "" {
		p := gpioreg.ByName(cfg.CS)
		if p == nil {
			d.Close()
			return nil, errors.Errorf("unknown chip select pin %q", cfg.CS)
		}
		d.cs = p
	}
	if err := d.cs.Out(gpio.High); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed to release chip select")
	}

	// [FTDI AN_114|1.2]> FTDI device can only support mode 0 and mode 2 due to the limitation of MPSSE engine
	// [N25Q32|Table 7: SPI Modes] mode 0 and mode 3 are supported
	d.conn, err = d.port.Connect(cfg.Clock, spi.Mode0, 8)
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "SPI connection failed")
	}

	d.Flash = NewFlash(d.conn, d.cs, opts...)
	return d, nil
}

// Close releases the SPI port.
func (d *Device) Close() error {
	if d.port == nil {
		return nil
	}
	return d.port.Close()
}

func (d *Device) openFT2232H() error {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			d.FTDI = ft
			break
		}
	}
	if d.FTDI == nil {
		return errors.New("FT2232H device not found")
	}

	port, err := d.FTDI.SPI()
	if err != nil {
		return errors.Wrap(err, "failed to get SPI port")
	}
	d.port = port
	// ADBUS0 | SCK
	// ADBUS1 | MOSI
	// ADBUS2 | MISO
	// ADBUS4 | CS (driven as GPIO so a transaction may span several Tx calls)
	d.cs = d.FTDI.D4
	return nil
}

// hardwareCS is used when the SPI controller frames each Tx with its own
// chip select.
type hardwareCS struct{}

func (hardwareCS) Out(gpio.Level) error { return nil }
