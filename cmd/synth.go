package cmd

import (
	"fmt"
	"os"

	"github.com/sergev/fluxdec/config"
	"github.com/sergev/fluxdec/decoder"
	"github.com/sergev/fluxdec/flux"

	"github.com/spf13/cobra"
)

var (
	synthEncoding string
	synthRate     uint16
	synthRPM      uint16
	synthCylinder int
	synthHead     int
	synthSectors  int
	synthFill     uint8
)

var synthCmd = &cobra.Command{
	Use:   "synth FILE",
	Short: "Generate a synthetic flux capture of a formatted track",
	Long: "Synthesize one rotation of a formatted track at a known encoding and " +
		"data rate, and write it as a raw flux capture file. Useful for testing " +
		"the decode pipeline against known-good input.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var enc decoder.Encoding
		switch synthEncoding {
		case "fm":
			enc = decoder.EncFM
		case "mfm":
			enc = decoder.EncMFM
		default:
			cobra.CheckErr(fmt.Errorf("unknown encoding %q (must be fm or mfm)", synthEncoding))
		}

		sectors := make([][]byte, synthSectors)
		for i := range sectors {
			sec := make([]byte, 512)
			for j := range sec {
				sec[j] = synthFill
			}
			sectors[i] = sec
		}

		// Track capacity in raw bitcells: two per data bit over one rotation.
		halfBits := int(float64(synthRate) * 1000 * 2 * 60 / float64(synthRPM))
		writer := decoder.NewWriter(enc, halfBits)
		bits, err := writer.EncodeTrack(sectors, synthCylinder, synthHead, synthRate)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to encode track: %w", err))
		}

		transitions, err := decoder.GenerateFlux(bits, synthRate, config.TickRateHz)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to generate flux: %w", err))
		}
		events := decoder.CoverRotation(transitions, synthRate, synthRPM, config.TickRateHz)

		file, err := os.Create(args[0])
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to create output file: %w", err))
		}
		defer file.Close()

		sw := flux.NewStreamWriter(file)
		for _, ev := range events {
			if err := sw.WriteEvent(ev); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to write flux stream: %w", err))
			}
		}

		fmt.Printf("Wrote %d flux events (%d sectors, %s %d kbps, %d RPM) to %s\n",
			len(events), synthSectors, synthEncoding, synthRate, synthRPM, args[0])
	},
}

func init() {
	synthCmd.Flags().StringVarP(&synthEncoding, "encoding", "e", "mfm", "track encoding (fm or mfm)")
	synthCmd.Flags().Uint16VarP(&synthRate, "rate", "r", 250, "data rate in kbps")
	synthCmd.Flags().Uint16Var(&synthRPM, "rpm", 300, "rotational speed")
	synthCmd.Flags().IntVarP(&synthCylinder, "cylinder", "c", 0, "cylinder number in sector headers")
	synthCmd.Flags().IntVar(&synthHead, "head", 0, "head number in sector headers")
	synthCmd.Flags().IntVarP(&synthSectors, "sectors", "s", 9, "sectors per track")
	synthCmd.Flags().Uint8Var(&synthFill, "fill", 0xe5, "sector fill byte")
	rootCmd.AddCommand(synthCmd)
}
