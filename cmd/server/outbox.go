package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexiqai/salon-voice-gateway/internal/events"
	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/store"
)

var outboxFlags struct {
	dir   string
	purge bool
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Export stored call events as JSON lines",
	Long: `Outbox prints every event in the event store, oldest first, one JSON
object per line. With --purge the exported events are deleted afterwards.

The gateway must not be running against the same directory.`,
	Args: cobra.NoArgs,
	RunE: runOutbox,
}

func init() {
	outboxCmd.Flags().StringVar(&outboxFlags.dir, "dir", os.Getenv("EVENT_STORE_DIR"), "event store directory")
	outboxCmd.Flags().BoolVar(&outboxFlags.purge, "purge", false, "delete events after exporting them")
}

func runOutbox(cmd *cobra.Command, args []string) error {
	if outboxFlags.dir == "" {
		return errors.New("no event store: set --dir or EVENT_STORE_DIR")
	}
	s, err := store.Open(store.Options{Dir: outboxFlags.dir, Logger: observability.GetLogger()})
	if err != nil {
		return err
	}
	defer s.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	if err := events.ReadOutbox(s, func(e events.Event) error {
		return enc.Encode(e)
	}); err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}

	if outboxFlags.purge {
		n, err := events.PurgeOutbox(s)
		if err != nil {
			return fmt.Errorf("purge outbox: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "purged %d events\n", n)
	}
	return nil
}
