/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/ssargent/pgscrub/pkg/pgdump"
)

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump a database and write an obfuscated archive",
	Long: `Run pg_dump against the configured database and rewrite its output
into an obfuscated custom-format archive.

Tables mapped to "omit" are passed to pg_dump with --exclude-table-data.
Every other table is rewritten with its column transforms; tables without
a mapping are copied unchanged and reported as warnings.

Examples:
  pgscrub dump
  pgscrub dump --output ./app.pgcustom --metrics-addr 127.0.0.1:9187
  pgscrub dump --config ./staging.yaml --log-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("output") {
			current.cfg.Output, _ = cmd.Flags().GetString("output")
		}
		if cmd.Flags().Changed("metrics-addr") {
			current.cfg.Metrics.Addr, _ = cmd.Flags().GetString("metrics-addr")
		}
		if err := current.cfg.ValidateDump(); err != nil {
			return err
		}
		return current.dump(cmd.Context(), cmd.OutOrStdout())
	},
}

func (e *env) dump(ctx context.Context, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db := e.cfg.Database
	creds := pgdump.Credentials{
		Host:     db.Host,
		Port:     db.Port,
		User:     db.User,
		Password: db.Password,
		Name:     db.Name,
		SSLMode:  db.SSLMode,
	}
	diag := pgdump.NewLogWriter(e.logger)
	defer diag.Flush()

	omitted := e.cfg.Tables.OmittedTables()
	src, err := e.container.StartDump(ctx, pgdump.Options{
		Path:             e.cfg.PgDump.Path,
		Credentials:      creds,
		ExcludeTableData: omitted,
		ExtraArgs:        e.cfg.PgDump.ExtraArgs,
		ReadAhead:        e.cfg.PgDump.ReadAhead,
		Stderr:           diag,
	})
	if err != nil {
		return err
	}
	e.logger.Info("pg_dump started",
		"database", creds.Redacted(),
		"output", e.cfg.Output,
		"omitted_tables", len(omitted))

	res, err := e.execute(ctx, src.Stdout(), runRequest{
		command: "dump",
		source:  creds.Redacted(),
		output:  e.cfg.Output,
		finish:  src.Wait,
	})
	if err != nil {
		src.Kill()
		return err
	}

	printSummary(w, e.cfg.Output, res)
	return nil
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringP("output", "o", "", "Output archive path (overrides config)")
	dumpCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while dumping")
}
