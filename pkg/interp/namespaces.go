package interp

import (
	"context"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

const ctxLocalKey = "codemode.ctx"

// threadCtx returns the context of the current Exec, stored in thread
// locals by the engine.
func threadCtx(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(ctxLocalKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// namespace is the common starlark.Value plumbing of the four injected
// namespaces.
type namespace struct {
	name string
}

func (n *namespace) String() string        { return "<" + n.name + " namespace>" }
func (n *namespace) Type() string          { return n.name }
func (n *namespace) Freeze()               {}
func (n *namespace) Truth() starlark.Bool  { return starlark.True }
func (n *namespace) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: %s", n.name) }

// errUnderscore rejects leading-underscore attribute lookups so namespace
// objects never mask dunder-style probes from user code.
func errUnderscore(ns, attr string) error {
	return fmt.Errorf("%s has no attribute %q", ns, attr)
}

func callResult(value any, err error) (starlark.Value, error) {
	if err != nil {
		return nil, err
	}
	return ToStarlark(value)
}

// toolsNamespace exposes tools.list/search/call/recipes plus
// tools.<name>(...) attribute sugar.
type toolsNamespace struct {
	namespace
	provider ResourceProvider
}

func newToolsNamespace(provider ResourceProvider) *toolsNamespace {
	return &toolsNamespace{namespace{"tools"}, provider}
}

func (t *toolsNamespace) AttrNames() []string {
	return []string{"call", "list", "recipes", "search"}
}

func (t *toolsNamespace) Attr(name string) (starlark.Value, error) {
	switch name {
	case "list":
		return starlark.NewBuiltin("tools.list", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return callResult(t.provider.ToolsList(threadCtx(thread)))
		}), nil
	case "search":
		return starlark.NewBuiltin("tools.search", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var query string
			limit := 10
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "query", &query, "limit?", &limit); err != nil {
				return nil, err
			}
			return callResult(t.provider.ToolsSearch(threadCtx(thread), query, limit))
		}), nil
	case "call":
		return starlark.NewBuiltin("tools.call", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var toolName string
			var toolArgs *starlark.Dict
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &toolName, "args?", &toolArgs); err != nil {
				return nil, err
			}
			argMap := map[string]any{}
			if toolArgs != nil {
				if m, ok := ToGo(toolArgs).(map[string]any); ok {
					argMap = m
				}
			}
			return callResult(t.provider.ToolsCall(threadCtx(thread), toolName, "", argMap))
		}), nil
	case "recipes":
		return starlark.NewBuiltin("tools.recipes", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var toolName string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &toolName); err != nil {
				return nil, err
			}
			return callResult(t.provider.ToolsRecipes(threadCtx(thread), toolName))
		}), nil
	}
	if strings.HasPrefix(name, "_") {
		return nil, errUnderscore("tools", name)
	}
	return &toolProxy{provider: t.provider, tool: name}, nil
}

// toolProxy is the value of tools.<name>: callable in escape-hatch form,
// with attribute access selecting a specific callable.
type toolProxy struct {
	provider ResourceProvider
	tool     string
}

func (p *toolProxy) String() string        { return "<tool " + p.tool + ">" }
func (p *toolProxy) Type() string          { return "tool" }
func (p *toolProxy) Freeze()               {}
func (p *toolProxy) Truth() starlark.Bool  { return starlark.True }
func (p *toolProxy) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: tool") }
func (p *toolProxy) Name() string          { return "tools." + p.tool }

func (p *toolProxy) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: pass arguments by keyword", p.Name())
	}
	return callResult(p.provider.ToolsCall(threadCtx(thread), p.tool, "", kwargsToMap(kwargs)))
}

func (p *toolProxy) AttrNames() []string { return nil }

func (p *toolProxy) Attr(name string) (starlark.Value, error) {
	if strings.HasPrefix(name, "_") {
		return nil, errUnderscore("tool "+p.tool, name)
	}
	return &callableProxy{provider: p.provider, tool: p.tool, callable: name}, nil
}

// callableProxy is tools.<name>.<callable>.
type callableProxy struct {
	provider ResourceProvider
	tool     string
	callable string
}

func (p *callableProxy) String() string        { return "<tool " + p.tool + "." + p.callable + ">" }
func (p *callableProxy) Type() string          { return "tool_callable" }
func (p *callableProxy) Freeze()               {}
func (p *callableProxy) Truth() starlark.Bool  { return starlark.True }
func (p *callableProxy) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: tool_callable") }
func (p *callableProxy) Name() string          { return "tools." + p.tool + "." + p.callable }

func (p *callableProxy) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: pass arguments by keyword", p.Name())
	}
	return callResult(p.provider.ToolsCall(threadCtx(thread), p.tool, p.callable, kwargsToMap(kwargs)))
}

// skillsNamespace exposes skills.list/search/get/create/delete/invoke plus
// skills.<name>(...) sugar.
type skillsNamespace struct {
	namespace
	provider ResourceProvider
}

func newSkillsNamespace(provider ResourceProvider) *skillsNamespace {
	return &skillsNamespace{namespace{"skills"}, provider}
}

func (s *skillsNamespace) AttrNames() []string {
	return []string{"create", "delete", "get", "invoke", "list", "search"}
}

func (s *skillsNamespace) Attr(name string) (starlark.Value, error) {
	switch name {
	case "list":
		return starlark.NewBuiltin("skills.list", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return callResult(s.provider.SkillsList(threadCtx(thread)))
		}), nil
	case "search":
		return starlark.NewBuiltin("skills.search", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var query string
			limit := 5
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "query", &query, "limit?", &limit); err != nil {
				return nil, err
			}
			return callResult(s.provider.SkillsSearch(threadCtx(thread), query, limit))
		}), nil
	case "get":
		return starlark.NewBuiltin("skills.get", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var skillName string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &skillName); err != nil {
				return nil, err
			}
			return callResult(s.provider.SkillsGet(threadCtx(thread), skillName))
		}), nil
	case "create":
		return starlark.NewBuiltin("skills.create", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var skillName, source, description string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &skillName, "source", &source, "description?", &description); err != nil {
				return nil, err
			}
			return callResult(s.provider.SkillsCreate(threadCtx(thread), skillName, source, description))
		}), nil
	case "delete":
		return starlark.NewBuiltin("skills.delete", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var skillName string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &skillName); err != nil {
				return nil, err
			}
			return starlark.None, s.provider.SkillsDelete(threadCtx(thread), skillName)
		}), nil
	case "invoke":
		return starlark.NewBuiltin("skills.invoke", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("skills.invoke: want the skill name followed by keyword arguments")
			}
			skillName, ok := starlark.AsString(args[0])
			if !ok {
				return nil, fmt.Errorf("skills.invoke: name must be a string")
			}
			return callResult(s.provider.SkillsInvoke(threadCtx(thread), skillName, kwargsToMap(kwargs)))
		}), nil
	}
	if strings.HasPrefix(name, "_") {
		return nil, errUnderscore("skills", name)
	}
	return &skillProxy{provider: s.provider, skill: name}, nil
}

// skillProxy is skills.<name>: calling it invokes the skill.
type skillProxy struct {
	provider ResourceProvider
	skill    string
}

func (p *skillProxy) String() string        { return "<skill " + p.skill + ">" }
func (p *skillProxy) Type() string          { return "skill" }
func (p *skillProxy) Freeze()               {}
func (p *skillProxy) Truth() starlark.Bool  { return starlark.True }
func (p *skillProxy) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: skill") }
func (p *skillProxy) Name() string          { return "skills." + p.skill }

func (p *skillProxy) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: pass arguments by keyword", p.Name())
	}
	return callResult(p.provider.SkillsInvoke(threadCtx(thread), p.skill, kwargsToMap(kwargs)))
}

// artifactsNamespace exposes artifact persistence plus the raw path.
type artifactsNamespace struct {
	namespace
	provider ResourceProvider
}

func newArtifactsNamespace(provider ResourceProvider) *artifactsNamespace {
	return &artifactsNamespace{namespace{"artifacts"}, provider}
}

func (a *artifactsNamespace) AttrNames() []string {
	return []string{"delete", "exists", "get", "list", "load", "path", "save"}
}

func (a *artifactsNamespace) Attr(name string) (starlark.Value, error) {
	switch name {
	case "path":
		return starlark.String(a.provider.ArtifactsPath()), nil
	case "list":
		return starlark.NewBuiltin("artifacts.list", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return callResult(a.provider.ArtifactsList(threadCtx(thread)))
		}), nil
	case "load":
		return starlark.NewBuiltin("artifacts.load", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var artifactName string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &artifactName); err != nil {
				return nil, err
			}
			return callResult(a.provider.ArtifactsLoad(threadCtx(thread), artifactName))
		}), nil
	case "save":
		return starlark.NewBuiltin("artifacts.save", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var artifactName, description string
			var data starlark.Value
			var metadata *starlark.Dict
			if err := starlark.UnpackArgs(b.Name(), args, kwargs,
				"name", &artifactName, "data", &data, "description?", &description, "metadata?", &metadata); err != nil {
				return nil, err
			}
			var metaMap map[string]any
			if metadata != nil {
				if m, ok := ToGo(metadata).(map[string]any); ok {
					metaMap = m
				}
			}
			return callResult(a.provider.ArtifactsSave(threadCtx(thread), artifactName, ToGo(data), description, metaMap))
		}), nil
	case "get":
		return starlark.NewBuiltin("artifacts.get", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var artifactName string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &artifactName); err != nil {
				return nil, err
			}
			return callResult(a.provider.ArtifactsGet(threadCtx(thread), artifactName))
		}), nil
	case "delete":
		return starlark.NewBuiltin("artifacts.delete", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var artifactName string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &artifactName); err != nil {
				return nil, err
			}
			return starlark.None, a.provider.ArtifactsDelete(threadCtx(thread), artifactName)
		}), nil
	case "exists":
		return starlark.NewBuiltin("artifacts.exists", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var artifactName string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &artifactName); err != nil {
				return nil, err
			}
			exists, err := a.provider.ArtifactsExists(threadCtx(thread), artifactName)
			if err != nil {
				return nil, err
			}
			return starlark.Bool(exists), nil
		}), nil
	}
	if strings.HasPrefix(name, "_") {
		return nil, errUnderscore("artifacts", name)
	}
	return nil, nil
}

// depsNamespace exposes dependency management.
type depsNamespace struct {
	namespace
	provider ResourceProvider
}

func newDepsNamespace(provider ResourceProvider) *depsNamespace {
	return &depsNamespace{namespace{"deps"}, provider}
}

func (d *depsNamespace) AttrNames() []string {
	return []string{"add", "list", "remove", "sync"}
}

func (d *depsNamespace) Attr(name string) (starlark.Value, error) {
	switch name {
	case "list":
		return starlark.NewBuiltin("deps.list", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return callResult(d.provider.DepsList(threadCtx(thread)))
		}), nil
	case "add":
		return starlark.NewBuiltin("deps.add", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var pkg string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pkg", &pkg); err != nil {
				return nil, err
			}
			return starlark.None, d.provider.DepsAdd(threadCtx(thread), pkg)
		}), nil
	case "remove":
		return starlark.NewBuiltin("deps.remove", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var pkg string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pkg", &pkg); err != nil {
				return nil, err
			}
			return callResult(d.provider.DepsRemove(threadCtx(thread), pkg))
		}), nil
	case "sync":
		return starlark.NewBuiltin("deps.sync", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return callResult(d.provider.DepsSync(threadCtx(thread)))
		}), nil
	}
	return nil, nil
}
