package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/codemode-ai/codemode/pkg/errors"
)

const defaultCLITimeout = 60 * time.Second

// CLIRecipe is one named invocation template of a CLI tool. Template
// entries are argv elements; `{param}` placeholders are substituted from
// the call arguments with no shell involved.
type CLIRecipe struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Template    []string `yaml:"template" json:"template"`
}

// CLIToolConfig defines one command-line tool.
type CLIToolConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Tags        []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	TimeoutSec  int               `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Recipes     []CLIRecipe       `yaml:"recipes,omitempty" json:"recipes,omitempty"`
}

func (c *CLIToolConfig) validate() error {
	if c.Name == "" {
		return errors.NewInvalidName("cli tool has no name", nil)
	}
	if c.Command == "" {
		return errors.Newf(errors.KindMisconfigured, "cli tool %q has no command", c.Name)
	}
	for _, recipe := range c.Recipes {
		if recipe.Name == "" {
			return errors.Newf(errors.KindMisconfigured, "cli tool %q has an unnamed recipe", c.Name)
		}
	}
	return nil
}

func (c *CLIToolConfig) timeout() time.Duration {
	if c.TimeoutSec > 0 {
		return time.Duration(c.TimeoutSec) * time.Second
	}
	return defaultCLITimeout
}

// CLIAdapter aggregates configured command-line tools. Each tool's recipes
// become its callables; a tool without recipes is called in escape-hatch
// form with its arguments appended as --key value pairs.
type CLIAdapter struct {
	configs map[string]*CLIToolConfig
}

// NewCLIAdapter validates the configs and builds the adapter.
func NewCLIAdapter(configs []CLIToolConfig) (*CLIAdapter, error) {
	byName := make(map[string]*CLIToolConfig, len(configs))
	for i := range configs {
		cfg := configs[i]
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[cfg.Name]; dup {
			return nil, errors.Newf(errors.KindAlreadyExists, "cli tool %q defined twice", cfg.Name)
		}
		byName[cfg.Name] = &cfg
	}
	return &CLIAdapter{configs: byName}, nil
}

// Tools implements Adapter.
func (a *CLIAdapter) Tools(context.Context) ([]Tool, error) {
	toolList := make([]Tool, 0, len(a.configs))
	for _, cfg := range a.configs {
		tool := Tool{
			Name:        cfg.Name,
			Description: cfg.Description,
			Timeout:     cfg.timeout(),
			Tags:        map[string]bool{},
		}
		for _, tag := range cfg.Tags {
			tool.Tags[tag] = true
		}
		for _, recipe := range cfg.Recipes {
			tool.Callables = append(tool.Callables, Callable{
				Name:        recipe.Name,
				Description: recipe.Description,
				Params:      templateParams(recipe.Template),
			})
		}
		toolList = append(toolList, tool)
	}
	return toolList, nil
}

// templateParams extracts the `{param}` placeholders of a template, in
// order of first appearance.
func templateParams(template []string) []Param {
	var params []Param
	seen := map[string]bool{}
	for _, elem := range template {
		for _, name := range placeholders(elem) {
			if !seen[name] {
				seen[name] = true
				params = append(params, Param{Name: name, Required: true})
			}
		}
	}
	return params
}

func placeholders(elem string) []string {
	var names []string
	for {
		open := strings.IndexByte(elem, '{')
		if open < 0 {
			return names
		}
		end := strings.IndexByte(elem[open:], '}')
		if end < 0 {
			return names
		}
		names = append(names, elem[open+1:open+end])
		elem = elem[open+end+1:]
	}
}

// Call implements Adapter.
func (a *CLIAdapter) Call(ctx context.Context, tool, callable string, args map[string]any) (any, error) {
	cfg, ok := a.configs[tool]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "tool %q not found", tool)
	}

	argv, err := a.buildArgv(cfg, callable, args)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.Command, argv...)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for key, value := range cfg.Env {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, errors.Newf(errors.KindTimeout, "tool %q timed out after %s", tool, cfg.timeout())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.Newf(errors.KindCallFailed, "tool %q failed: %s", tool, msg)
	}

	// JSON output becomes structured data; anything else is the raw text.
	out := strings.TrimSpace(stdout.String())
	var decoded any
	if err := json.Unmarshal([]byte(out), &decoded); err == nil && out != "" {
		return decoded, nil
	}
	return out, nil
}

func (a *CLIAdapter) buildArgv(cfg *CLIToolConfig, callable string, args map[string]any) ([]string, error) {
	argv := append([]string{}, cfg.Args...)
	if callable == "" {
		// Escape hatch: no recipe, arguments become --key value flags in
		// sorted order for reproducibility.
		for _, key := range sortedKeys(args) {
			argv = append(argv, "--"+key, stringify(args[key]))
		}
		return argv, nil
	}

	var recipe *CLIRecipe
	for i := range cfg.Recipes {
		if cfg.Recipes[i].Name == callable {
			recipe = &cfg.Recipes[i]
			break
		}
	}
	if recipe == nil {
		return nil, errors.Newf(errors.KindNotFound, "tool %q has no recipe %q", cfg.Name, callable)
	}

	for _, elem := range recipe.Template {
		expanded := elem
		for _, name := range placeholders(elem) {
			value, ok := args[name]
			if !ok {
				return nil, errors.Newf(errors.KindCallFailed, "recipe %s.%s requires argument %q", cfg.Name, callable, name)
			}
			expanded = strings.ReplaceAll(expanded, "{"+name+"}", stringify(value))
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close implements Adapter. CLI tools hold no persistent resources.
func (*CLIAdapter) Close() error {
	return nil
}
