package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gentam/spiprog/client"
)

func writeCommand() *cobra.Command {
	var (
		h            hostFlags
		addr         uint32
		bulkErase    bool
		verify       bool
		eraseTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "write <image.bin>",
		Short: "Write a file to flash memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "failed to read image")
			}

			bar := newBar(len(data), "Writing")
			c, done, err := h.open(
				client.WithEraseTimeout(eraseTimeout),
				client.WithProgress(func(n, _ int) { bar.Set(n) }),
			)
			if err != nil {
				return err
			}
			defer done()

			info, err := c.Detect()
			if err != nil {
				return errors.Wrap(err, "detect failed")
			}
			if info.Capacity != 0 && uint64(addr)+uint64(len(data)) > uint64(info.Capacity) {
				return errors.Errorf("image (%d bytes at 0x%06X) exceeds flash capacity (%d bytes)",
					len(data), addr, info.Capacity)
			}

			if bulkErase {
				fmt.Println("Erasing chip...")
				if err := c.Erase(); err != nil {
					return err
				}
			}

			err = c.Write(addr, data)
			bar.Finish()
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %d bytes at 0x%06X\n", len(data), addr)

			if verify {
				c.SetProgress(nil)
				if err := c.Verify(addr, data); err != nil {
					return err
				}
				fmt.Printf("Verified (CRC32 %08X)\n", client.Checksum(data))
			}
			return nil
		},
	}
	h.register(cmd)
	fl := cmd.Flags()
	fl.Uint32VarP(&addr, "addr", "a", 0, "start address")
	fl.BoolVarP(&bulkErase, "erase", "e", false, "bulk erase entire flash first")
	fl.BoolVar(&verify, "verify", true, "read back and compare after writing")
	fl.DurationVar(&eraseTimeout, "erase-timeout", 5*time.Minute, "how long to wait for erase and the final acknowledgement")
	return cmd
}
