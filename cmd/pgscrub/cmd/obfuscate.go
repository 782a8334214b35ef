/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// obfuscateCmd represents the obfuscate command
var obfuscateCmd = &cobra.Command{
	Use:   "obfuscate <archive>",
	Short: "Obfuscate an existing archive file",
	Long: `Rewrite an uncompressed custom-format archive that was already written
by pg_dump --format=custom --compress=0. Tables mapped to "omit" keep
their definitions but lose all rows.

Examples:
  pgscrub obfuscate ./raw.pgcustom --output ./clean.pgcustom`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = current.cfg.Output
		}
		return current.obfuscateFile(cmd.Context(), args[0], output, cmd.OutOrStdout())
	},
}

func (e *env) obfuscateFile(ctx context.Context, input, output string, w io.Writer) error {
	if output == "" {
		return errors.New("an output path is required")
	}
	inAbs, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	outAbs, err := filepath.Abs(output)
	if err != nil {
		return err
	}
	if inAbs == outAbs {
		return fmt.Errorf("output %s would overwrite the input", output)
	}

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	res, err := e.execute(ctx, bufio.NewReaderSize(f, 1<<20), runRequest{
		command: "obfuscate",
		source:  inAbs,
		output:  output,
	})
	if err != nil {
		return err
	}
	printSummary(w, output, res)
	return nil
}

func init() {
	rootCmd.AddCommand(obfuscateCmd)

	obfuscateCmd.Flags().StringP("output", "o", "", "Output archive path (defaults to the configured output)")
}
