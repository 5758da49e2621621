package cmd

import (
	"fmt"
	"os"

	"github.com/sergev/fluxdec/config"
	"github.com/sergev/fluxdec/decoder"
	"github.com/sergev/fluxdec/engine"
	"github.com/sergev/fluxdec/flux"

	"github.com/spf13/cobra"
)

var decodeOutput string

var decodeCmd = &cobra.Command{
	Use:   "decode FILE",
	Short: "Decode a flux capture into sector data",
	Long: "Decode a raw flux capture file: recover the bit clock with the PLL, " +
		"demodulate FM or MFM, align on sync marks and emit CRC-checked records. " +
		"Valid sector payloads are concatenated to the output file in the order " +
		"they appear on the track.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file, err := os.Open(args[0])
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open capture file: %w", err))
		}
		defer file.Close()

		var out *os.File
		if decodeOutput != "" {
			out, err = os.Create(decodeOutput)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to create output file: %w", err))
			}
			defer out.Close()
		}

		eng, err := engine.New(config.TickRateHz, engine.Continuous,
			engine.WithRecordHandler(func(rec decoder.Record) {
				printRecord(rec)
				if out != nil && rec.Mark != decoder.MarkHeader && rec.CRCValid {
					if _, err := out.Write(rec.Fields); err != nil {
						cobra.CheckErr(fmt.Errorf("failed to write sector data: %w", err))
					}
				}
			}))
		if err != nil {
			cobra.CheckErr(err)
		}
		defer eng.Close()

		reader := flux.NewStreamReader(file)
		err = eng.Run(reader)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("decode failed: %w", err))
		}

		status := eng.Status()
		fmt.Printf("Revolutions: %d\n", status.Revolutions)
		fmt.Printf("Records: %d (%d CRC ok, %d CRC bad)\n",
			status.Records, status.CRCPass, status.CRCFail)
		fmt.Printf("Final PLL state: %v at %d bits/sec\n", status.LockState, status.DataRate)
	},
}

func printRecord(rec decoder.Record) {
	crc := "ok"
	if !rec.CRCValid {
		crc = "BAD"
	}
	switch rec.Mark {
	case decoder.MarkHeader:
		if len(rec.Fields) >= 4 {
			fmt.Printf("Header: cyl %d head %d sector %d size %d, CRC %s\n",
				rec.Fields[0], rec.Fields[1], rec.Fields[2], 128<<rec.Fields[3], crc)
		}
	case decoder.MarkData:
		fmt.Printf("Data: %d bytes, CRC %s\n", len(rec.Fields), crc)
	case decoder.MarkDeleted:
		fmt.Printf("Deleted data: %d bytes, CRC %s\n", len(rec.Fields), crc)
	}
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeOutput, "output", "o", "",
		"write valid sector payloads to this file")
	rootCmd.AddCommand(decodeCmd)
}
