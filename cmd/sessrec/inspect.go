package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/llnl/session-recorder/library"
	"github.com/llnl/session-recorder/session"
)

func newInspectCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <session-id|path>",
		Short: "Summarize a recorded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.init(cmd); err != nil {
				return err
			}
			defer a.close()
			lib, err := a.library()
			if err != nil {
				return err
			}
			defer lib.Close()

			s, err := lib.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sum := session.Summarize(s.Loaded)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			return writeSummary(cmd.OutOrStdout(), s, sum)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeSummary(w io.Writer, s *library.Session, sum session.Summary) error {
	var stored int64
	for _, r := range s.Manifest.ResourceStorage {
		stored += r.Size
	}
	c := sum.Counts
	fmt.Fprintf(w, "session   %s\n", sum.SessionID)
	fmt.Fprintf(w, "location  %s\n", s.Path)
	fmt.Fprintf(w, "duration  %s\n", (time.Duration(sum.DurationMs) * time.Millisecond).Round(time.Second))
	fmt.Fprintf(w, "actions   %d (%d clicks, %d inputs, %d navigations, %d voice segments, %d notes)\n",
		sum.TotalActions, c.Clicks, c.Inputs, c.Navigations, c.VoiceSegments, c.Notes)
	fmt.Fprintf(w, "resources %d (%s)\n", len(s.Manifest.ResourceStorage), humanize.Bytes(uint64(stored)))
	fmt.Fprintf(w, "network   %d entries\n", len(s.Network))
	fmt.Fprintf(w, "console   %d entries\n", len(s.Console))
	fmt.Fprintf(w, "errors    %d\n", sum.ErrorCount)
	if len(sum.FeaturesDetected) > 0 {
		fmt.Fprintf(w, "features  %s\n", strings.Join(sum.FeaturesDetected, ", "))
	}
	for _, u := range sum.URLs {
		fmt.Fprintf(w, "url       %s (%d)\n", u.URL, u.ActionCount)
	}
	if sum.TranscriptPreview != "" {
		_, err := fmt.Fprintf(w, "voice     %q\n", sum.TranscriptPreview)
		return err
	}
	return nil
}
