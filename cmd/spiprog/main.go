package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gentam/spiprog/protocol"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// glog registers its flags on the standard flag set.
	flag.Set("logtostderr", "true")
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	defer glog.Flush()

	rootCmd := &cobra.Command{
		Use:   "spiprog",
		Short: "Serial SPI NOR flash programmer",
		Long: `spiprog bridges a byte protocol on a serial line to an SPI NOR flash chip.

Run "spiprog serve" on the machine wired to the chip (FT2232H or a native
SPI port). The detect, read, write and erase commands are the host side and
talk to a running programmer over a serial port or TCP.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// glog reads flag.Parsed() to decide whether to warn.
			flag.CommandLine.Parse(nil)
		},
	}

	rootCmd.AddCommand(
		serveCommand(),
		infoCommand(),
		detectCommand(),
		readCommand(),
		writeCommand(),
		eraseCommand(),
		listCommand(),
		versionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		glog.Flush()
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("spiprog %s\n", version)
			fmt.Printf("  commit:   %s\n", commit)
			fmt.Printf("  built:    %s\n", date)
			fmt.Printf("  protocol: %d baud, %d byte chunks\n", protocol.DefaultBaudRate, protocol.DefaultChunkSize)
		},
	}
}
