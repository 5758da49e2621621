package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sergev/fluxdec/config"
	"github.com/sergev/fluxdec/engine"
	"github.com/sergev/fluxdec/flux"
	"github.com/sergev/fluxdec/greaseweazle"
	"github.com/sergev/fluxdec/rawusb"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	captureDevice   string
	captureCylinder int
	captureHead     int
	captureOutput   string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture and decode one track from attached hardware",
	Long: "Capture flux from a Greaseweazle or FluxRipper device, run the " +
		"recovery pipeline on it, and report the decoded records. With --output " +
		"the raw flux stream is saved for later analysis. Prometheus metrics " +
		"are served on the address from the config file while the capture runs.",
	Run: func(cmd *cobra.Command, args []string) {
		events, tickRate, err := captureEvents()
		if err != nil {
			cobra.CheckErr(err)
		}
		fmt.Printf("Captured %d flux events\n", len(events))

		opts := []engine.Option{}

		if config.MetricsAddr != "" {
			registry := prometheus.NewRegistry()
			opts = append(opts, engine.WithMetrics(engine.NewMetrics(registry)))
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				if err := http.ListenAndServe(config.MetricsAddr, mux); err != nil {
					fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
				}
			}()
		}

		if captureOutput != "" {
			out, err := os.Create(captureOutput)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to create output file: %w", err))
			}
			defer out.Close()
			opts = append(opts, engine.WithRawOutput(out))
		}

		eng, err := engine.New(tickRate, engine.OneTrack, opts...)
		if err != nil {
			cobra.CheckErr(err)
		}
		defer eng.Close()

		err = eng.Run(flux.NewEventIterator(events))
		if err != nil {
			cobra.CheckErr(fmt.Errorf("capture processing failed: %w", err))
		}

		status := eng.Status()
		hyp := eng.Hypothesis()
		if hyp.Determined {
			fmt.Printf("Encoding: %v\n", hyp.Encoding)
			fmt.Printf("Data Rate: %d bits/sec\n", hyp.Rate)
			fmt.Printf("Rotation Speed: %d RPM\n", hyp.RPM)
		} else {
			fmt.Printf("Detection: undetermined (confidence %d)\n", hyp.Confidence)
		}
		fmt.Printf("Records: %d (%d CRC ok, %d CRC bad)\n",
			status.Records, status.CRCPass, status.CRCFail)
		fmt.Printf("PLL: %v\n", status.LockState)
	},
}

// captureEvents reads one track from whichever device is configured and
// returns the event stream plus the device's capture clock.
func captureEvents() ([]flux.Event, float64, error) {
	switch captureDevice {
	case "greaseweazle":
		client, err := greaseweazle.Discover()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open Greaseweazle: %w", err)
		}
		defer client.Close()

		events, err := client.ReadTrack(byte(captureCylinder), byte(captureHead), config.Revs)
		if err != nil {
			return nil, 0, err
		}
		return events, client.SampleRate(), nil

	case "fluxripper":
		client, err := rawusb.Open()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open FluxRipper: %w", err)
		}
		defer client.Close()

		err = client.SelectDrive(0)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to select drive: %w", err)
		}
		err = client.SetMotor(true)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to turn on motor: %w", err)
		}
		defer client.SetMotor(false)

		events, err := client.ReadTrack(byte(captureCylinder), uint16(config.Revs))
		if err != nil {
			return nil, 0, err
		}
		return events, rawusb.SampleRate, nil
	}
	return nil, 0, fmt.Errorf("unknown device %q (must be greaseweazle or fluxripper)", captureDevice)
}

func init() {
	captureCmd.Flags().StringVar(&captureDevice, "device", "greaseweazle",
		"capture device (greaseweazle or fluxripper)")
	captureCmd.Flags().IntVarP(&captureCylinder, "cylinder", "c", 0, "cylinder to capture")
	captureCmd.Flags().IntVar(&captureHead, "head", 0, "head to capture")
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "save raw flux stream to this file")
	rootCmd.AddCommand(captureCmd)
}
