package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voicelink",
	Short: "VoiceLink is a P2P voice session coordinator.",
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
