package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xxd"
)

func readCommand() *cobra.Command {
	var (
		h       hostFlags
		addr    uint32
		nread   uint32
		outFile string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read flash memory",
		Long: `Read flash memory to a file, or hexdump it to stdout.

Without -n the whole chip is read, using the capacity reported by detect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := h.open()
			if err != nil {
				return err
			}
			defer done()

			if nread == 0 {
				info, err := c.Detect()
				if err != nil {
					return errors.Wrap(err, "detect failed")
				}
				if info.Capacity == 0 {
					return errors.Errorf("unknown capacity for JEDEC ID %X, pass -n", info.JEDEC)
				}
				nread = info.Capacity - min(addr, info.Capacity)
			}

			bar := newBar(int(nread), "Reading")
			c.SetProgress(func(done, total int) { bar.Set(done) })
			data, err := c.Read(addr, int(nread))
			bar.Finish()
			if err != nil {
				return err
			}

			if outFile == "" {
				xxd.Print(int(addr), data)
				return nil
			}
			if err := os.WriteFile(outFile, data, 0644); err != nil {
				return errors.Wrap(err, "write file failed")
			}
			fmt.Printf("Read %d bytes from 0x%06X to %s\n", len(data), addr, outFile)
			return nil
		},
	}
	h.register(cmd)
	fl := cmd.Flags()
	fl.Uint32VarP(&addr, "addr", "a", 0, "start address")
	fl.Uint32VarP(&nread, "length", "n", 0, "number of bytes to read (default: whole chip)")
	fl.StringVarP(&outFile, "output", "o", "", "output file (default: hexdump)")
	return cmd
}
