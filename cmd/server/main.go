// Command salon-voice runs the salon phone assistant.
//
// Usage:
//
//	salon-voice serve              # Twilio Media Streams gateway
//	salon-voice replay call.ulaw   # run a recorded call through the pipeline
//	salon-voice outbox --purge     # export stored call events
//
// Configuration is read from the environment and an optional .env file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "salon-voice",
	Short: "Salon phone assistant call pipeline",
	Long: `salon-voice answers salon phone calls over Twilio Media Streams:
it segments caller speech, transcribes it, extracts the caller's intent and
speaks replies back on the call.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(outboxCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
