package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"periph.io/x/host/v3/ftdi"

	"github.com/gentam/spiprog"
)

func infoCommand() *cobra.Command {
	var cfg spiprog.DeviceConfig
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the local SPI adapter and the flash chip on it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := spiprog.OpenDevice(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if ft := d.FTDI; ft != nil {
				printFTDI(ft)
			}

			if err := d.Flash.PowerUp(); err != nil {
				return errors.Wrap(err, "flash power up failed")
			}
			defer d.Flash.PowerDown()

			id, name, err := d.Flash.ReadID()
			if err != nil {
				return errors.Wrap(err, "read flash ID failed")
			}
			sr, err := d.Flash.ReadStatusRegister()
			if err != nil {
				return errors.Wrap(err, "read flash status register failed")
			}
			capacity := spiprog.ResolveCapacity(id, spiprog.DefaultCapacityRules)
			if name == "" {
				name = spiprog.PartName(id, capacity)
			}
			fmt.Printf("Flash ID:        %X\t%s\n", id, name)
			fmt.Printf("Manufacturer:    %s\n", spiprog.ManufacturerName(id[0]))
			fmt.Printf("Capacity:        %s\n", spiprog.FormatSize(capacity))
			fmt.Printf("Status:          %v\n", sr)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.SPI, "spi", "", "periph.io SPI port name (default: first FT2232H)")
	cmd.Flags().StringVar(&cfg.CS, "cs", "", "GPIO to use as chip select")
	return cmd
}

func printFTDI(ft *ftdi.FT232H) {
	// Reference: https://github.com/periph/cmd/tree/main/ftdi-list
	i := ftdi.Info{}
	ft.Info(&i)
	fmt.Printf("Type:            %s\n", i.Type)
	fmt.Printf("Vendor ID:       %#04x\n", i.VenID)
	fmt.Printf("Device ID:       %#04x\n", i.DevID)

	ee := ftdi.EEPROM{}
	if err := ft.EEPROM(&ee); err != nil {
		fmt.Printf("EEPROM:          %v\n", err)
		return
	}
	fmt.Printf("Manufacturer:    %s\n", ee.Manufacturer)
	fmt.Printf("Desc:            %s\n", ee.Desc)
	fmt.Printf("Serial:          %s\n", ee.Serial)
}
