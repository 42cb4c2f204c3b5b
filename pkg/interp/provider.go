// Package interp is the Starlark execution core: a persistent REPL-style
// engine with the tools/skills/artifacts/deps namespaces injected into its
// globals.
package interp

import "context"

// ResourceProvider is what the injected namespaces call into. Values
// cross this boundary in JSON-safe form (nil, bool, float64/int64,
// string, []byte, []any, map[string]any) so the same interface serves the
// in-process engine, the kernel RPC dispatcher, and the container server.
type ResourceProvider interface {
	ToolsList(ctx context.Context) (any, error)
	ToolsSearch(ctx context.Context, query string, limit int) (any, error)
	ToolsCall(ctx context.Context, name, callable string, args map[string]any) (any, error)
	ToolsRecipes(ctx context.Context, name string) (any, error)

	SkillsList(ctx context.Context) (any, error)
	SkillsSearch(ctx context.Context, query string, limit int) (any, error)
	SkillsGet(ctx context.Context, name string) (any, error)
	SkillsCreate(ctx context.Context, name, source, description string) (any, error)
	SkillsDelete(ctx context.Context, name string) error
	SkillsInvoke(ctx context.Context, name string, kwargs map[string]any) (any, error)

	ArtifactsList(ctx context.Context) (any, error)
	ArtifactsLoad(ctx context.Context, name string) (any, error)
	ArtifactsSave(ctx context.Context, name string, data any, description string, metadata map[string]any) (any, error)
	ArtifactsGet(ctx context.Context, name string) (any, error)
	ArtifactsDelete(ctx context.Context, name string) error
	ArtifactsExists(ctx context.Context, name string) (bool, error)
	ArtifactsPath() string

	DepsList(ctx context.Context) (any, error)
	DepsAdd(ctx context.Context, pkg string) error
	DepsRemove(ctx context.Context, pkg string) (any, error)
	DepsSync(ctx context.Context) (any, error)
}
