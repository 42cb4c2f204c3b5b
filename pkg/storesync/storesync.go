// Package storesync moves tool and skill catalogs between a local
// directory layout and a Redis store: bootstrap (push), pull, diff, and
// list, the operations behind `codemode store`.
package storesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/logger"
	"github.com/codemode-ai/codemode/pkg/storage"
)

// Catalog type filters.
const (
	TypeTools  = "tools"
	TypeSkills = "skills"
)

// Entry identifies one catalog item on either side of a sync.
type Entry struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// Stats reports how many items an operation moved.
type Stats struct {
	Tools  int `json:"tools"`
	Skills int `json:"skills"`
}

// Diff buckets catalog items by how the source differs from the target.
type Diff struct {
	Added     []string `json:"added"`
	Modified  []string `json:"modified"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
}

// ContentHash is the short identity hash used by diff.
func ContentHash(name, description, source string) string {
	sum := sha256.Sum256([]byte(name + ":" + description + ":" + source))
	return hex.EncodeToString(sum[:])[:12]
}

func wantType(filter, itemType string) bool {
	return filter == "" || filter == itemType
}

func validateFilter(filter string) error {
	if filter != "" && filter != TypeTools && filter != TypeSkills {
		return errors.Newf(errors.KindMisconfigured, "unknown type filter %q", filter)
	}
	return nil
}

// Bootstrap pushes the catalogs under srcDir into the Redis store. With
// clear set, target entries of the selected types are removed first.
func Bootstrap(ctx context.Context, srcDir, redisURL, prefix, typeFilter string, clear bool) (*Stats, error) {
	if err := validateFilter(typeFilter); err != nil {
		return nil, err
	}
	src := storage.NewFileBackend(srcDir)
	target, err := storage.NewRedisBackend(redisURL, prefix)
	if err != nil {
		return nil, err
	}
	defer target.Close()
	return push(ctx, src, target, typeFilter, clear)
}

func push(ctx context.Context, src, target storage.Backend, typeFilter string, clear bool) (*Stats, error) {
	stats := &Stats{}

	if wantType(typeFilter, TypeTools) {
		if clear {
			if err := clearTools(ctx, target); err != nil {
				return nil, err
			}
		}
		specs, err := src.ToolStore().List(ctx)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			if err := target.ToolStore().Put(ctx, spec.Name, spec.Raw); err != nil {
				return nil, fmt.Errorf("pushing tool %q: %w", spec.Name, err)
			}
			stats.Tools++
		}
	}

	if wantType(typeFilter, TypeSkills) {
		if clear {
			if err := clearSkills(ctx, target); err != nil {
				return nil, err
			}
		}
		recs, err := src.SkillStore().List(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if err := target.SkillStore().Put(ctx, rec); err != nil {
				return nil, fmt.Errorf("pushing skill %q: %w", rec.Name, err)
			}
			stats.Skills++
		}
	}

	logger.Infow("bootstrap complete", "tools", stats.Tools, "skills", stats.Skills)
	return stats, nil
}

func clearTools(ctx context.Context, backend storage.Backend) error {
	specs, err := backend.ToolStore().List(ctx)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if err := backend.ToolStore().Delete(ctx, spec.Name); err != nil && !errors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func clearSkills(ctx context.Context, backend storage.Backend) error {
	recs, err := backend.SkillStore().List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := backend.SkillStore().Delete(ctx, rec.Name); err != nil && !errors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// Pull copies the catalogs from the Redis store into destDir.
func Pull(ctx context.Context, redisURL, prefix, destDir string) (*Stats, error) {
	src, err := storage.NewRedisBackend(redisURL, prefix)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dest := storage.NewFileBackend(destDir)
	return push(ctx, src, dest, "", false)
}

// List enumerates the Redis store's catalog entries with their hashes.
func List(ctx context.Context, redisURL, prefix, typeFilter string) ([]Entry, error) {
	if err := validateFilter(typeFilter); err != nil {
		return nil, err
	}
	backend, err := storage.NewRedisBackend(redisURL, prefix)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	entries, err := catalogEntries(ctx, backend, typeFilter)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// catalogEntries hashes every item of the selected types, keyed
// "type/name".
func catalogEntries(ctx context.Context, backend storage.Backend, typeFilter string) (map[string]Entry, error) {
	entries := map[string]Entry{}

	if wantType(typeFilter, TypeTools) {
		specs, err := backend.ToolStore().List(ctx)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			key := TypeTools + "/" + spec.Name
			entries[key] = Entry{Type: TypeTools, Name: spec.Name, Hash: ContentHash(spec.Name, "", string(spec.Raw))}
		}
	}
	if wantType(typeFilter, TypeSkills) {
		recs, err := backend.SkillStore().List(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			key := TypeSkills + "/" + rec.Name
			entries[key] = Entry{Type: TypeSkills, Name: rec.Name, Hash: ContentHash(rec.Name, rec.Description, rec.Source)}
		}
	}
	return entries, nil
}

// DiffDir compares the local catalogs against the Redis store.
func DiffDir(ctx context.Context, srcDir, redisURL, prefix string) (*Diff, error) {
	target, err := storage.NewRedisBackend(redisURL, prefix)
	if err != nil {
		return nil, err
	}
	defer target.Close()
	return diffBackends(ctx, storage.NewFileBackend(srcDir), target)
}

func diffBackends(ctx context.Context, src, target storage.Backend) (*Diff, error) {
	srcEntries, err := catalogEntries(ctx, src, "")
	if err != nil {
		return nil, err
	}
	targetEntries, err := catalogEntries(ctx, target, "")
	if err != nil {
		return nil, err
	}

	diff := &Diff{Added: []string{}, Modified: []string{}, Removed: []string{}, Unchanged: []string{}}
	for key, srcEntry := range srcEntries {
		targetEntry, ok := targetEntries[key]
		switch {
		case !ok:
			diff.Added = append(diff.Added, key)
		case srcEntry.Hash != targetEntry.Hash:
			diff.Modified = append(diff.Modified, key)
		default:
			diff.Unchanged = append(diff.Unchanged, key)
		}
	}
	for key := range targetEntries {
		if _, ok := srcEntries[key]; !ok {
			diff.Removed = append(diff.Removed, key)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Modified)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Unchanged)
	return diff, nil
}
