package cmd

import (
	"fmt"

	"github.com/sergev/fluxdec/greaseweazle"
	"github.com/sergev/fluxdec/rawusb"

	"github.com/spf13/cobra"
)

var statusDevice string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show information about the attached capture device",
	Run: func(cmd *cobra.Command, args []string) {
		switch statusDevice {
		case "greaseweazle":
			client, err := greaseweazle.Discover()
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to open Greaseweazle: %w", err))
			}
			defer client.Close()
			client.PrintStatus()

		case "fluxripper":
			client, err := rawusb.Open()
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to open FluxRipper: %w", err))
			}
			defer client.Close()
			client.PrintStatus()

		default:
			cobra.CheckErr(fmt.Errorf("unknown device %q (must be greaseweazle or fluxripper)", statusDevice))
		}
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDevice, "device", "greaseweazle",
		"capture device (greaseweazle or fluxripper)")
	rootCmd.AddCommand(statusCmd)
}
