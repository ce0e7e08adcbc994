package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"

	"github.com/gentam/spiprog"
	"github.com/gentam/spiprog/flashsim"
	"github.com/gentam/spiprog/protocol"
	"github.com/gentam/spiprog/server"
	"github.com/gentam/spiprog/transport"
)

type serveFlags struct {
	port   string
	baud   int
	listen string

	spi   string
	cs    string
	clock string

	sim     bool
	simID   string
	simSize int
	simBusy int

	chunk          int
	timeout        time.Duration
	nackUnknown    bool
	programTimeout time.Duration
	eraseTimeout   time.Duration
	pollInterval   time.Duration
}

func serveCommand() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the programmer protocol for an attached flash chip",
		Long: `Serve the programmer protocol on a serial port (--port) or a TCP
listener (--listen), driving the flash chip on an FT2232H (default) or a
native SPI port (--spi).

Use --sim to serve a simulated chip instead of real hardware.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), &f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.port, "port", "p", "", "serial port to serve on")
	fl.IntVarP(&f.baud, "baud", "b", protocol.DefaultBaudRate, "baud rate")
	fl.StringVar(&f.listen, "listen", "", "serve on a TCP address instead of a serial port")
	fl.StringVar(&f.spi, "spi", "", "periph.io SPI port name (default: first FT2232H)")
	fl.StringVar(&f.cs, "cs", "", "GPIO to use as chip select")
	fl.StringVar(&f.clock, "clock", "30MHz", "SPI clock")
	fl.BoolVar(&f.sim, "sim", false, "serve a simulated flash chip")
	fl.StringVar(&f.simID, "sim-id", "EF4018", "JEDEC ID of the simulated chip")
	fl.IntVar(&f.simSize, "sim-size", 16<<20, "size of the simulated chip in bytes")
	fl.IntVar(&f.simBusy, "sim-busy", 2, "status reads the simulated chip stays busy after program/erase")
	fl.IntVar(&f.chunk, "chunk", protocol.DefaultChunkSize, "bytes per bus transaction (1..256)")
	fl.DurationVar(&f.timeout, "timeout", 2*time.Second, "parameter/payload read timeout (0 waits forever)")
	fl.BoolVar(&f.nackUnknown, "nack-unknown", false, "answer unknown commands with NACK")
	fl.DurationVar(&f.programTimeout, "program-timeout", -1, "page program busy-wait limit (default from chip table, 0 waits forever)")
	fl.DurationVar(&f.eraseTimeout, "erase-timeout", -1, "chip erase busy-wait limit (default from chip table, 0 waits forever)")
	fl.DurationVar(&f.pollInterval, "poll-interval", time.Millisecond, "status register poll interval while the chip is busy")
	cmd.MarkFlagsMutuallyExclusive("port", "listen")
	cmd.MarkFlagsOneRequired("port", "listen")
	return cmd
}

func runServe(ctx context.Context, f *serveFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []spiprog.FlashOption{spiprog.WithPollInterval(f.pollInterval)}
	if f.programTimeout >= 0 {
		opts = append(opts, spiprog.WithProgramTimeout(f.programTimeout))
	}
	if f.eraseTimeout >= 0 {
		opts = append(opts, spiprog.WithEraseTimeout(f.eraseTimeout))
	}

	flash, closeFlash, err := openFlash(f, opts)
	if err != nil {
		return err
	}
	defer closeFlash()

	if err := flash.PowerUp(); err != nil {
		return errors.Wrap(err, "flash power up failed")
	}
	id, name, err := flash.ReadID()
	if err != nil {
		return errors.Wrap(err, "read flash ID failed")
	}
	if name == "" {
		name = "unknown flash"
	}
	glog.Infof("%s: JEDEC %X (%s)", flash, id, name)

	srvOpts := []server.Option{
		server.WithChunkSize(f.chunk),
		server.WithReadTimeout(f.timeout),
		server.WithNackUnknown(f.nackUnknown),
	}

	if f.listen != "" {
		return serveTCP(ctx, f.listen, flash, srvOpts)
	}

	port, err := transport.OpenSerial(f.port, f.baud)
	if err != nil {
		return err
	}
	defer func() {
		if err := port.Drain(); err != nil {
			glog.Warningf("drain %s: %v", port, err)
		}
		port.Close()
	}()
	glog.Infof("listening on %s @ %d baud", port, port.BaudRate())

	srv, err := server.New(flash, port, srvOpts...)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// serveTCP accepts one connection at a time; the chip has a single owner.
func serveTCP(ctx context.Context, addr string, flash server.Flasher, opts []server.Option) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	glog.Infof("listening on %s", ln.Addr())

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		port := transport.FromConn(c, 0)
		glog.Infof("client %s connected", port)

		srv, err := server.New(flash, port, opts...)
		if err != nil {
			c.Close()
			return err
		}
		if err := srv.Serve(ctx); err != nil {
			glog.Infof("client %s: %v", port, err)
		}
		c.Close()
	}
}

func openFlash(f *serveFlags, opts []spiprog.FlashOption) (*spiprog.Flash, func(), error) {
	if f.sim {
		if f.simSize <= 0 {
			return nil, nil, errors.Errorf("invalid --sim-size %d", f.simSize)
		}
		v, err := strconv.ParseUint(f.simID, 16, 24)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid --sim-id %q", f.simID)
		}
		id := [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
		chip := flashsim.New(id, f.simSize, flashsim.WithBusyPolls(f.simBusy))
		return spiprog.NewFlash(chip, chip.CS(), opts...), func() {}, nil
	}

	var clock physic.Frequency
	if err := clock.Set(f.clock); err != nil {
		return nil, nil, errors.Wrapf(err, "invalid --clock %q", f.clock)
	}
	d, err := spiprog.OpenDevice(spiprog.DeviceConfig{SPI: f.spi, CS: f.cs, Clock: clock}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return d.Flash, func() {
		d.Flash.PowerDown()
		d.Close()
	}, nil
}
