/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ssargent/pgscrub/pkg/pgcustom"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <archive>",
	Short: "Print the header and table of contents of an archive",
	Long: `Decode the prelude, header and table of contents of a custom-format
archive. With --data the data blocks are walked as well and their sizes
reported.

Examples:
  pgscrub inspect ./clean.pgcustom
  pgscrub inspect ./clean.pgcustom --data`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		withData, _ := cmd.Flags().GetBool("data")

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer f.Close()

		return inspectArchive(bufio.NewReaderSize(f, 1<<20), cmd.OutOrStdout(), withData)
	},
}

func orDash(s sql.NullString) string {
	if !s.Valid || s.String == "" {
		return "-"
	}
	return s.String
}

func inspectArchive(r io.Reader, w io.Writer, withData bool) error {
	prelude, reader, head, err := pgcustom.ReadHeader(r)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Archive version: %s (format %s, int size %d, offset size %d)\n",
		reader.Version(), prelude.Format, prelude.IntSize, prelude.OffsetSize)
	fmt.Fprintf(w, "Database:        %s\n", head.DBName.String)
	fmt.Fprintf(w, "Dumped at:       %04d-%02d-%02d %02d:%02d:%02d\n",
		head.Year, head.Month, head.Mday, head.Hour, head.Min, head.Sec)
	fmt.Fprintf(w, "pg_dump:         %s (server %s)\n", head.PgDumpVersion.String, head.RemoteVersion.String)
	fmt.Fprintf(w, "Compression:     %d\n", head.Compression)
	fmt.Fprintf(w, "TOC entries:     %d (%d with data)\n\n", len(head.Entries), head.DataEntryCount())

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DUMP ID\tSECTION\tDESC\tNAMESPACE\tTAG\tOFFSET\tDEPS")
	for _, e := range head.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.DumpID, e.Section, orDash(e.Desc), orDash(e.Namespace), e.Name(), e.Offset, strings.Join(e.Deps, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !withData {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DUMP ID\tTABLE\tCHUNKS\tSIZE")
	var total int64
	for i := 0; i < head.DataEntryCount(); i++ {
		bh, err := reader.ReadDataBlockHead()
		if err != nil {
			return fmt.Errorf("data block %d: %w", i, err)
		}
		entry, err := head.DataEntry(bh.DumpID)
		if err != nil {
			return err
		}
		var chunks, size int64
		it := reader.Chunks()
		for it.Next() {
			chunks++
			size += int64(len(it.Chunk()))
		}
		if err := it.Err(); err != nil {
			return fmt.Errorf("table %s: %w", entry.Name(), err)
		}
		total += size
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", bh.DumpID, entry.Name(), chunks, humanize.Bytes(uint64(size)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTotal data: %s\n", humanize.Bytes(uint64(total)))
	return nil
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().Bool("data", false, "Walk the data blocks and report their sizes")
}
