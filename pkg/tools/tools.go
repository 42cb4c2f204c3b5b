// Package tools provides the tool registry and the adapters that bridge
// external capability (CLI programs, MCP servers) into a flat, searchable
// tool namespace.
package tools

import (
	"context"
	"time"
)

// Param describes one callable parameter for schema display.
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Callable is one named operation of a tool. CLI tools call these recipes;
// MCP tools expose one callable per remote tool.
type Callable struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"params,omitempty"`
}

// Tool is one entry in the registry namespace.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Callables   []Callable      `json:"callables,omitempty"`
	Tags        map[string]bool `json:"tags,omitempty"`
	Timeout     time.Duration   `json:"-"`
}

// HasTag reports whether the tool carries the tag.
func (t *Tool) HasTag(tag string) bool {
	return t.Tags[tag]
}

// Callable returns the named callable, or nil. An empty name selects the
// escape-hatch form and always returns nil.
func (t *Tool) Callable(name string) *Callable {
	for i := range t.Callables {
		if t.Callables[i].Name == name {
			return &t.Callables[i]
		}
	}
	return nil
}

// Adapter turns an external capability source into tools. Adapters are
// registered eagerly: Tools is called once at registration time.
type Adapter interface {
	// Tools lists the tools this adapter serves.
	Tools(ctx context.Context) ([]Tool, error)

	// Call invokes callable on tool with the given arguments. callable may
	// be empty for tools without named callables.
	Call(ctx context.Context, tool, callable string, args map[string]any) (any, error)

	// Close releases the adapter's resources.
	Close() error
}

// SearchHit is one registry search result.
type SearchHit struct {
	Tool  *Tool   `json:"tool"`
	Score float64 `json:"score"`
}
