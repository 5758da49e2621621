package cmd

import (
	"github.com/sergev/fluxdec/config"
	"github.com/sergev/fluxdec/engine"
	"github.com/sergev/fluxdec/greaseweazle"
	"github.com/sergev/fluxdec/rawusb"

	"github.com/spf13/cobra"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "fluxdec",
	Short: "Recover bitstreams from raw magnetic flux captures",
	Long: "The fluxdec tool decodes raw flux transition streams from floppy media " +
		"into validated sector data, inferring data rate, encoding and rotational " +
		"speed along the way. It reads capture files or talks to Greaseweazle and " +
		"FluxRipper hardware directly.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cobra.CheckErr(config.Initialize())
		if debugFlag {
			engine.DebugFlag = true
			greaseweazle.DebugFlag = true
			rawusb.DebugFlag = true
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "enable debug output")
}
