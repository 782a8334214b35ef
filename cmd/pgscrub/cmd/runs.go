/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/segmentio/ksuid"
	"github.com/spf13/cobra"

	"github.com/ssargent/pgscrub/pkg/journal"
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the history of obfuscation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return current.listRuns(cmd.OutOrStdout(), limit)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and where each table was written",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.showRun(cmd.OutOrStdout(), args[0])
	},
}

func (e *env) openJournal() (*journal.Journal, error) {
	if e.cfg.Journal.Dir == "" {
		return nil, errors.New("the journal is disabled (journal.dir is empty)")
	}
	return e.container.OpenJournal(e.cfg.Journal.Dir)
}

func (e *env) listRuns(w io.Writer, limit int) error {
	j, err := e.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.List(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tCOMMAND\tSTATUS\tDURATION\tSIZE\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Command, r.Status,
			r.Duration().Round(time.Millisecond), humanize.Bytes(uint64(r.BytesWritten)), r.Output)
	}
	return tw.Flush()
}

func (e *env) showRun(w io.Writer, rawID string) error {
	id, err := ksuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", rawID, err)
	}

	j, err := e.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	r, err := j.Get(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Run:      %s\n", r.ID)
	fmt.Fprintf(w, "Command:  %s\n", r.Command)
	fmt.Fprintf(w, "Source:   %s\n", r.Source)
	fmt.Fprintf(w, "Output:   %s\n", r.Output)
	fmt.Fprintf(w, "Started:  %s (%s)\n", r.StartedAt.Local().Format(time.DateTime), humanize.Time(r.StartedAt))
	fmt.Fprintf(w, "Duration: %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Status:   %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", r.Error)
		return nil
	}
	fmt.Fprintf(w, "Archive:  %s, %s\n\n", r.Version, humanize.Bytes(uint64(r.BytesWritten)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DUMP ID\tTABLE\tMODE\tROWS\tOMITTED\tOFFSET\tSIZE")
	for _, t := range r.Tables {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			t.DumpID, t.Table, t.Mode, t.Rows, t.OmittedRows, t.Offset, humanize.Bytes(uint64(t.Bytes)))
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show (0 for all)")
}
