package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gentam/spiprog/transport"
)

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("No serial ports found")
				return nil
			}
			fmt.Println("Available serial ports:")
			for _, p := range ports {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}
}
