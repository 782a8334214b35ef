/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ssargent/pgscrub/pkg/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file with default settings and example table
mappings. Edit the database credentials and the tables section before the
first dump.

Examples:
  pgscrub init
  pgscrub init --config ./pgscrub.yaml --output ./dumps/app.pgcustom`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")
		return initializeConfig(cmd.OutOrStdout(), configPath(cmd), output, force)
	},
}

func initializeConfig(w io.Writer, path, output string, force bool) error {
	if config.ConfigExists(path) && !force {
		fmt.Fprintf(w, "Configuration already exists at %s. Use --force to overwrite it.\n", path)
		return nil
	}

	cfg, err := config.BootstrapConfig(path, output)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "✅ Wrote configuration to %s\n", path)
	fmt.Fprintf(w, "Output:  %s\n", cfg.Output)
	fmt.Fprintf(w, "Journal: %s\n", cfg.Journal.Dir)
	fmt.Fprintf(w, "\nEdit the database and tables sections, then run:\n")
	fmt.Fprintf(w, "  pgscrub dump --config %s\n", path)
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringP("output", "o", "", "Default output archive path")
	initCmd.Flags().Bool("force", false, "Overwrite an existing configuration")
}
