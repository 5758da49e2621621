package cmd

import (
	"fmt"
	"os"

	"github.com/sergev/fluxdec/autodetect"
	"github.com/sergev/fluxdec/config"
	"github.com/sergev/fluxdec/flux"

	"github.com/spf13/cobra"
)

var analyzeTickRate float64

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Classify the data rate and encoding of a flux capture",
	Long: "Analyze a raw flux capture file: build the interval histogram over one " +
		"rotation, cross-check against the spectral peak, and report the data " +
		"rate, encoding and rotational speed hypothesis.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file, err := os.Open(args[0])
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open capture file: %w", err))
		}
		defer file.Close()

		reader := flux.NewStreamReader(file)
		events := reader.ReadAll()
		if len(events) == 0 {
			cobra.CheckErr(fmt.Errorf("no flux events in %s", args[0]))
		}

		tickRate := analyzeTickRate
		if tickRate == 0 {
			tickRate = config.TickRateHz
		}

		det, err := autodetect.New(tickRate)
		if err != nil {
			cobra.CheckErr(err)
		}

		hyp, err := det.Analyze(events)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("analysis failed: %w", err))
		}

		stats := det.Histogram().Stats()
		fmt.Printf("Events: %d (%d stream overflows)\n", len(events), reader.Overflows())
		fmt.Printf("Intervals: %d, peak bin %d, mean %d ticks\n",
			stats.TotalCount, stats.PeakBin, stats.MeanInterval)
		if !hyp.Determined {
			fmt.Printf("Result: undetermined (confidence %d), capture another rotation\n",
				hyp.Confidence)
			return
		}
		fmt.Printf("Encoding: %v\n", hyp.Encoding)
		fmt.Printf("Data Rate: %d bits/sec\n", hyp.Rate)
		fmt.Printf("Rotation Speed: %d RPM (nominal %d)\n", hyp.RPM, hyp.RPMNominal)
		fmt.Printf("Confidence: %d\n", hyp.Confidence)
		fmt.Printf("Drive Profile: 0x%08x\n", autodetect.PackProfile(hyp, false))
	},
}

func init() {
	analyzeCmd.Flags().Float64Var(&analyzeTickRate, "tickrate", 0,
		"capture clock in Hz (default from config profile)")
	rootCmd.AddCommand(analyzeCmd)
}
