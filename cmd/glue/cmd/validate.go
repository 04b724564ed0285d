package cmd

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate and compose a manifest without starting it",
	Long: `Validate checks the manifest against the manifest schema, loads every
cache engine and plugin it names, registers the plugins and verifies their
dependencies. No connection is opened.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		s, err := composeManifest(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		if err := s.CheckDependencies(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, s.Info())
		}

		rows := make([][]string, 0, len(s.Connections()))
		for _, c := range s.Connections() {
			rows = append(rows, []string{
				strconv.Itoa(c.Index()),
				c.URI(),
				strings.Join(c.Labels(), ","),
				strings.Join(c.Plugins(), ","),
			})
		}
		printTable(out, []string{"INDEX", "URI", "LABELS", "PLUGINS"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
