package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/proctor-client/internal/journal"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history [test-id]",
		Short: "Show locally journaled sessions, or the results of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Journal.Path == "" {
				return errors.New("journal is disabled, set journal.path")
			}
			jr, err := journal.Open(a.cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer jr.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if len(args) == 0 {
				sessions, err := jr.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "TEST\tSTARTED\tENDED\tOUTCOME\tSUSPICIOUS")
				for _, s := range sessions {
					ended := "-"
					if s.EndedAt != nil {
						ended = s.EndedAt.Local().Format(time.DateTime)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n",
						s.TestID, s.StartedAt.Local().Format(time.DateTime), ended, s.Outcome, s.SuspiciousCount)
				}
				return nil
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid test id %q", args[0])
			}
			if _, err := jr.Session(cmd.Context(), id); err != nil {
				if errors.Is(err, journal.ErrNotFound) {
					return fmt.Errorf("no journaled session for test %d", id)
				}
				return err
			}
			results, err := jr.Results(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "SEQ\tRECORDED\tFACES\tEDGE DENSITY\tSUSPICIOUS")
			for _, r := range results {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%.4f\t%t\n",
					r.Seq, r.RecordedAt.Local().Format(time.DateTime), r.Result.FacesDetected,
					r.Result.EdgeDensity, r.Result.SuspiciousActivity)
			}
			return nil
		},
	}
}
