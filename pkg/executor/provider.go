package executor

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/codemode-ai/codemode/pkg/deps"
	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/interp"
	"github.com/codemode-ai/codemode/pkg/skills"
	"github.com/codemode-ai/codemode/pkg/storage"
	"github.com/codemode-ai/codemode/pkg/tools"
)

// StorageProvider implements interp.ResourceProvider over the host-side
// resources: the tool registry, the skill library, and the artifact and
// dependency stores. The in-process engine calls it directly; the kernel
// host and the container server dispatch RPC onto it.
type StorageProvider struct {
	registry  *tools.Registry
	library   *skills.Library
	artifacts storage.ArtifactStore
	depsStore storage.DepsStore
	installer deps.Installer

	allowRuntimeDeps bool
}

// ProviderOption configures a StorageProvider.
type ProviderOption func(*StorageProvider)

// WithRuntimeDeps controls whether agent code may call deps.add and
// deps.remove. deps.sync stays available either way: replaying the
// declared set is how a fresh environment catches up.
func WithRuntimeDeps(allowed bool) ProviderOption {
	return func(p *StorageProvider) { p.allowRuntimeDeps = allowed }
}

// NewStorageProvider wires a provider. installer may be nil, in which
// case dependency operations only touch the record store. depsStore may
// be nil; an in-memory store is substituted so deps.add keeps working,
// at the cost of declarations not outliving the process.
func NewStorageProvider(
	registry *tools.Registry,
	library *skills.Library,
	artifacts storage.ArtifactStore,
	depsStore storage.DepsStore,
	installer deps.Installer,
	opts ...ProviderOption,
) *StorageProvider {
	if depsStore == nil {
		depsStore = storage.NewMemoryDepsStore()
	}
	p := &StorageProvider{
		registry:         registry,
		library:          library,
		artifacts:        artifacts,
		depsStore:        depsStore,
		installer:        installer,
		allowRuntimeDeps: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// jsonSafe projects a value through encoding/json so only nil, bool,
// float64, string, []any and map[string]any cross the provider boundary.
func jsonSafe(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewInternal("serializing provider result", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.NewInternal("deserializing provider result", err)
	}
	return out, nil
}

// ToolsList implements interp.ResourceProvider.
func (p *StorageProvider) ToolsList(context.Context) (any, error) {
	return jsonSafe(p.registry.List())
}

// ToolsSearch implements interp.ResourceProvider.
func (p *StorageProvider) ToolsSearch(ctx context.Context, query string, limit int) (any, error) {
	hits, err := p.registry.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		out = append(out, map[string]any{
			"name":        hit.Tool.Name,
			"description": hit.Tool.Description,
			"score":       hit.Score,
		})
	}
	return jsonSafe(out)
}

// ToolsCall implements interp.ResourceProvider.
func (p *StorageProvider) ToolsCall(ctx context.Context, name, callable string, args map[string]any) (any, error) {
	return p.registry.Call(ctx, name, callable, args)
}

// ToolsRecipes implements interp.ResourceProvider.
func (p *StorageProvider) ToolsRecipes(ctx context.Context, name string) (any, error) {
	recipes, err := p.registry.Recipes(name)
	if err != nil {
		return nil, err
	}
	return jsonSafe(recipes)
}

// SkillsList implements interp.ResourceProvider.
func (p *StorageProvider) SkillsList(ctx context.Context) (any, error) {
	skillList, err := p.library.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(skillList))
	for _, s := range skillList {
		out = append(out, skillSummary(s))
	}
	return jsonSafe(out)
}

// SkillsSearch implements interp.ResourceProvider.
func (p *StorageProvider) SkillsSearch(ctx context.Context, query string, limit int) (any, error) {
	hits, err := p.library.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		summary := skillSummary(hit.Skill)
		summary["score"] = hit.Score
		out = append(out, summary)
	}
	return jsonSafe(out)
}

// SkillsGet implements interp.ResourceProvider. The full source is
// included so agents can read a skill before editing it.
func (p *StorageProvider) SkillsGet(ctx context.Context, name string) (any, error) {
	skill, err := p.library.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return jsonSafe(skill)
}

// SkillsCreate implements interp.ResourceProvider.
func (p *StorageProvider) SkillsCreate(ctx context.Context, name, source, description string) (any, error) {
	skill, err := p.library.Add(ctx, name, source, description)
	if err != nil {
		return nil, err
	}
	return jsonSafe(skillSummary(skill))
}

// SkillsDelete implements interp.ResourceProvider.
func (p *StorageProvider) SkillsDelete(ctx context.Context, name string) error {
	return p.library.Remove(ctx, name)
}

// SkillsInvoke implements interp.ResourceProvider. The skill runs in a
// fresh interpreter scope with the same provider, so skills see the
// namespaces but never the calling session's globals.
func (p *StorageProvider) SkillsInvoke(ctx context.Context, name string, kwargs map[string]any) (any, error) {
	skill, err := p.library.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return interp.EvalSkill(ctx, p, skill.Name, skill.Source, kwargs)
}

// ArtifactsList implements interp.ResourceProvider.
func (p *StorageProvider) ArtifactsList(ctx context.Context) (any, error) {
	artifacts, err := p.artifacts.List(ctx)
	if err != nil {
		return nil, err
	}
	return jsonSafe(artifacts)
}

// ArtifactsLoad implements interp.ResourceProvider.
func (p *StorageProvider) ArtifactsLoad(ctx context.Context, name string) (any, error) {
	return p.artifacts.Load(ctx, name)
}

// ArtifactsSave implements interp.ResourceProvider.
func (p *StorageProvider) ArtifactsSave(ctx context.Context, name string, data any, description string, metadata map[string]any) (any, error) {
	artifact, err := p.artifacts.Save(ctx, name, data, description, metadata)
	if err != nil {
		return nil, err
	}
	return jsonSafe(artifact)
}

// ArtifactsGet implements interp.ResourceProvider. A missing artifact
// yields nil, not an error.
func (p *StorageProvider) ArtifactsGet(ctx context.Context, name string) (any, error) {
	artifact, err := p.artifacts.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, nil
	}
	return jsonSafe(artifact)
}

// ArtifactsDelete implements interp.ResourceProvider.
func (p *StorageProvider) ArtifactsDelete(ctx context.Context, name string) error {
	return p.artifacts.Delete(ctx, name)
}

// ArtifactsExists implements interp.ResourceProvider.
func (p *StorageProvider) ArtifactsExists(ctx context.Context, name string) (bool, error) {
	return p.artifacts.Exists(ctx, name)
}

// ArtifactsPath implements interp.ResourceProvider.
func (p *StorageProvider) ArtifactsPath() string {
	return p.artifacts.Path()
}

// DepsList implements interp.ResourceProvider.
func (p *StorageProvider) DepsList(ctx context.Context) (any, error) {
	pkgs, err := p.depsStore.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(pkgs)
	return jsonSafe(pkgs)
}

// DepsAdd implements interp.ResourceProvider: record the package, then
// install it if an installer is wired.
func (p *StorageProvider) DepsAdd(ctx context.Context, pkg string) error {
	if !p.allowRuntimeDeps {
		return errors.NewCallFailed("runtime dependency modification disabled", nil)
	}
	if err := deps.ValidatePackageSpec(pkg); err != nil {
		return err
	}
	if err := p.depsStore.Add(ctx, pkg); err != nil {
		return err
	}
	if p.installer == nil {
		return nil
	}
	result, err := p.installer.Install(ctx, []string{pkg})
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return errors.Newf(errors.KindCallFailed, "package %q failed to install", pkg)
	}
	return nil
}

// DepsRemove implements interp.ResourceProvider, reporting whether the
// package was recorded.
func (p *StorageProvider) DepsRemove(ctx context.Context, pkg string) (any, error) {
	if !p.allowRuntimeDeps {
		return nil, errors.NewCallFailed("runtime dependency modification disabled", nil)
	}
	removed, err := p.depsStore.Remove(ctx, pkg)
	if err != nil {
		return nil, err
	}
	if removed && p.installer != nil {
		if _, err := p.installer.Uninstall(ctx, []string{pkg}); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// DepsSync implements interp.ResourceProvider: install everything the
// record store declares. Available even when runtime modification is
// disabled.
func (p *StorageProvider) DepsSync(ctx context.Context) (any, error) {
	pkgs, err := p.depsStore.List(ctx)
	if err != nil {
		return nil, err
	}
	if p.installer == nil || len(pkgs) == 0 {
		return jsonSafe(map[string]any{"installed": []string{}, "already_present": []string{}, "failed": []string{}})
	}
	result, err := p.installer.Install(ctx, pkgs)
	if err != nil {
		return nil, err
	}
	return jsonSafe(result)
}

func skillSummary(s *skills.Skill) map[string]any {
	params := make([]map[string]any, 0, len(s.Parameters))
	for _, param := range s.Parameters {
		entry := map[string]any{"name": param.Name}
		if param.HasDefault {
			entry["default"] = param.Default
		}
		params = append(params, entry)
	}
	return map[string]any{
		"name":        s.Name,
		"description": s.Description,
		"parameters":  params,
	}
}
