package tools

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/codemode-ai/codemode/pkg/logger"
	"github.com/codemode-ai/codemode/pkg/storage"
)

// parseToolDoc decodes one descriptor document into a CLI or MCP config.
func parseToolDoc(raw []byte) (*CLIToolConfig, *MCPToolConfig, error) {
	var probe struct {
		Type string `yaml:"type"`
	}
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}
	switch probe.Type {
	case "mcp":
		var cfg MCPToolConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, nil, err
		}
		return nil, &cfg, nil
	default:
		var cfg CLIToolConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, nil, err
		}
		return &cfg, nil, nil
	}
}

// LoadDir loads every *.yaml / *.yml under dir into the registry: all CLI
// definitions aggregate into one adapter, each MCP definition gets its own.
// Unparseable or nameless files are logged and skipped. A failing MCP
// connect is logged and skipped; a failing CLI definition fails the load,
// since CLI configs are fully local and a broken one is a configuration
// bug.
func LoadDir(ctx context.Context, registry *Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var cliConfigs []CLIToolConfig
	var mcpConfigs []MCPToolConfig
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Warnw("skipping unreadable tool file", "file", entry.Name(), "error", err)
			continue
		}
		cli, mcp, err := parseToolDoc(raw)
		if err != nil {
			logger.Warnw("skipping unparseable tool file", "file", entry.Name(), "error", err)
			continue
		}
		if cli != nil {
			if cli.Name == "" {
				logger.Warnw("skipping nameless tool file", "file", entry.Name())
				continue
			}
			cliConfigs = append(cliConfigs, *cli)
		}
		if mcp != nil {
			if mcp.Name == "" {
				logger.Warnw("skipping nameless tool file", "file", entry.Name())
				continue
			}
			mcpConfigs = append(mcpConfigs, *mcp)
		}
	}

	return registerConfigs(ctx, registry, cliConfigs, mcpConfigs)
}

// LoadStore is LoadDir over a storage-backed tool store.
func LoadStore(ctx context.Context, registry *Registry, store storage.ToolStore) error {
	specs, err := store.List(ctx)
	if err != nil {
		return err
	}

	var cliConfigs []CLIToolConfig
	var mcpConfigs []MCPToolConfig
	for _, spec := range specs {
		cli, mcp, err := parseToolDoc(spec.Raw)
		if err != nil {
			logger.Warnw("skipping unparseable tool descriptor", "tool", spec.Name, "error", err)
			continue
		}
		if cli != nil {
			if cli.Name == "" {
				cli.Name = spec.Name
			}
			cliConfigs = append(cliConfigs, *cli)
		}
		if mcp != nil {
			if mcp.Name == "" {
				mcp.Name = spec.Name
			}
			mcpConfigs = append(mcpConfigs, *mcp)
		}
	}

	return registerConfigs(ctx, registry, cliConfigs, mcpConfigs)
}

func registerConfigs(ctx context.Context, registry *Registry, cliConfigs []CLIToolConfig, mcpConfigs []MCPToolConfig) error {
	if len(cliConfigs) > 0 {
		adapter, err := NewCLIAdapter(cliConfigs)
		if err != nil {
			return err
		}
		if err := registry.RegisterAdapter(ctx, adapter); err != nil {
			return err
		}
	}
	for _, cfg := range mcpConfigs {
		adapter, err := NewMCPAdapter(ctx, cfg)
		if err != nil {
			logger.Warnw("skipping unreachable mcp tool", "tool", cfg.Name, "error", err)
			continue
		}
		if err := registry.RegisterAdapter(ctx, adapter); err != nil {
			_ = adapter.Close()
			return err
		}
	}
	return nil
}
