package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/internal/builtin"
	"github.com/sirosfoundation/go-glue/pkg/cache"
	"github.com/sirosfoundation/go-glue/pkg/server"
)

// moduleInfo describes one registry entry.
type moduleInfo struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Version string `json:"version,omitempty"`
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the bundled plugins and cache engines",
	RunE: func(cmd *cobra.Command, args []string) error {
		modules, err := listModules()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, modules)
		}

		rows := make([][]string, 0, len(modules))
		for _, m := range modules {
			rows = append(rows, []string{m.ID, m.Kind, m.Version})
		}
		printTable(out, []string{"ID", "KIND", "VERSION"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

func listModules() ([]moduleInfo, error) {
	registry := builtin.Registry()
	ids := registry.IDs()
	modules := make([]moduleInfo, 0, len(ids))
	for _, id := range ids {
		module, err := registry.Load(id)
		if err != nil {
			return nil, err
		}
		modules = append(modules, describe(id, module))
	}
	return modules, nil
}

func describe(id string, module any) moduleInfo {
	info := moduleInfo{ID: id, Kind: "unknown"}
	switch m := module.(type) {
	case server.Plugin:
		info.Kind = "plugin"
		info.Version = m.Attributes().Version
	case func() (server.Plugin, error):
		// factories only run at composition
		info.Kind = "plugin factory"
	case cache.Engine, cache.Factory, func(cache.Options, *zap.Logger) (cache.Engine, error):
		info.Kind = "cache"
	}
	return info
}
