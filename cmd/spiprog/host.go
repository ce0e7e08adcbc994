package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/gentam/spiprog"
	"github.com/gentam/spiprog/client"
	"github.com/gentam/spiprog/protocol"
	"github.com/gentam/spiprog/transport"
)

// hostFlags are shared by the commands that talk to a running programmer.
type hostFlags struct {
	port    string
	baud    int
	connect string
	timeout time.Duration
}

func (h *hostFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&h.port, "port", "p", "", "serial port of the programmer")
	fl.IntVarP(&h.baud, "baud", "b", protocol.DefaultBaudRate, "baud rate")
	fl.StringVar(&h.connect, "connect", "", "TCP address of a programmer started with serve --listen")
	fl.DurationVar(&h.timeout, "timeout", 2*time.Second, "response timeout")
	cmd.MarkFlagsMutuallyExclusive("port", "connect")
	cmd.MarkFlagsOneRequired("port", "connect")
}

func (h *hostFlags) open(opts ...client.Option) (*client.Client, func(), error) {
	var port transport.Port
	var err error
	if h.connect != "" {
		port, err = transport.Dial(h.connect, h.timeout)
	} else {
		port, err = transport.OpenSerial(h.port, h.baud)
	}
	if err != nil {
		return nil, nil, err
	}
	opts = append([]client.Option{client.WithTimeout(h.timeout)}, opts...)
	return client.New(port, opts...), func() { port.Close() }, nil
}

func newBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func detectCommand() *cobra.Command {
	var h hostFlags
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Show the JEDEC ID and capacity of the flash chip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := h.open()
			if err != nil {
				return err
			}
			defer done()

			info, err := c.Detect()
			if err != nil {
				return errors.Wrap(err, "detect failed")
			}
			printInfo(info)
			return nil
		},
	}
	h.register(cmd)
	return cmd
}

func printInfo(info *client.Info) {
	fmt.Printf("JEDEC ID:      %02X %02X %02X\n", info.JEDEC[0], info.JEDEC[1], info.JEDEC[2])
	fmt.Printf("Manufacturer:  %s\n", info.Manufacturer)
	if info.Capacity == 0 {
		fmt.Printf("Capacity:      Unknown\n")
	} else {
		fmt.Printf("Capacity:      %s (%d bytes)\n", spiprog.FormatSize(info.Capacity), info.Capacity)
	}
	fmt.Printf("Part Number:   %s\n", info.Part)
}

func eraseCommand() *cobra.Command {
	var h hostFlags
	var eraseTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase the entire flash chip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := h.open(client.WithEraseTimeout(eraseTimeout))
			if err != nil {
				return err
			}
			defer done()

			fmt.Println("Erasing chip...")
			start := time.Now()
			if err := c.Erase(); err != nil {
				return err
			}
			fmt.Printf("Chip erased in %v\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	h.register(cmd)
	cmd.Flags().DurationVar(&eraseTimeout, "erase-timeout", 5*time.Minute, "how long to wait for the erase to finish")
	return cmd
}
