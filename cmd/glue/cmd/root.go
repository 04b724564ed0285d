// Package cmd contains all CLI commands for glue.
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/internal/builtin"
	"github.com/sirosfoundation/go-glue/pkg/config"
	"github.com/sirosfoundation/go-glue/pkg/glue"
	"github.com/sirosfoundation/go-glue/pkg/logging"
	"github.com/sirosfoundation/go-glue/pkg/server"
)

var (
	// Global flags
	configFile   string
	manifestPath string
	logLevel     string
	output       string

	// appConfig is loaded before any subcommand runs.
	appConfig *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "glue",
	Short: "Compose servers from declarative manifests",
	Long: `glue builds a server from a manifest describing its options, cache
engines, connections and plugin registrations.

Examples:
  # Check a manifest without starting anything
  glue validate --manifest manifest.yaml

  # Compose and run the server until interrupted
  glue start --manifest manifest.yaml

  # List the plugins and cache engines a manifest can refer to
  glue plugins

Environment Variables:
  GLUE_MANIFEST          Manifest file (default: manifest.yaml)
  GLUE_RELATIVE_TO       Base directory for relative plugin identifiers
  GLUE_LOGGING_LEVEL     debug, info, warn or error
  GLUE_LOGGING_FORMAT    json or text
  GLUE_SHUTDOWN_TIMEOUT  Graceful shutdown timeout in seconds`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		appConfig = cfg
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "glue.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "Manifest file (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides configuration)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
}

// loadConfig loads the configuration and applies the command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if manifestPath != "" {
		cfg.Manifest = manifestPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger builds the process logger and puts gin in the matching mode.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if logging.ParseLevel(cfg.Logging.Level) == zap.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return logger, nil
}

// composeManifest loads the configured manifest and composes an unstarted
// server from it.
func composeManifest(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*server.Server, error) {
	m, err := glue.LoadManifest(cfg.Manifest)
	if err != nil {
		return nil, err
	}
	relativeTo, err := cfg.ResolveRelativeTo()
	if err != nil {
		return nil, err
	}

	composer := glue.New(glue.WithLoader(builtin.Registry()), glue.WithLogger(logger))
	return composer.Compose(ctx, m, &glue.Options{RelativeTo: relativeTo})
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	var formatted bytes.Buffer
	if err := json.Indent(&formatted, data, "", "  "); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, formatted.String())
	return err
}

// printTable prints data in a simple table format
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(w, "%-*s  ", widths[i], h)
	}
	fmt.Fprintln(w)

	for i := range headers {
		fmt.Fprintf(w, "%s  ", strings.Repeat("-", widths[i]))
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(w, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(w)
	}
}
