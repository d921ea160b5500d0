package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/llnl/session-recorder/catalog"
)

func newListCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd); err != nil {
				return err
			}
			defer a.close()
			lib, err := a.library()
			if err != nil {
				return err
			}
			entries, err := lib.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			return writeEntries(cmd, entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum sessions to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeEntries(cmd *cobra.Command, entries []*catalog.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no sessions (run `sessrec index` to register existing recordings)")
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tACTIONS\tVOICE\tLOCATION")
	for _, e := range entries {
		var dur string
		if e.EndTime > 0 {
			dur = (time.Duration(e.EndTime-e.StartTime) * time.Millisecond).Round(time.Second).String()
		}
		loc := e.Archive
		if loc == "" {
			loc = e.Path
		}
		voice := "-"
		if e.HasVoice {
			voice = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID,
			humanize.Time(time.UnixMilli(e.StartTime)),
			dur,
			e.ActionCount,
			voice,
			loc,
		)
	}
	return tw.Flush()
}

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Register the recordings of the output directory in the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd); err != nil {
				return err
			}
			defer a.close()
			lib, err := a.library()
			if err != nil {
				return err
			}
			n, err := lib.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d sessions\n", n)
			return err
		},
	}
}
