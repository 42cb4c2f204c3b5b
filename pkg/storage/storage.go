// Package storage provides the unified storage backend for tools, skills,
// artifacts, and declared dependencies, with file-based and Redis-based
// implementations.
//
// A Backend exposes four lazily created sub-stores. Executors running in
// another process never receive a live Backend; they get the serializable
// Access descriptor and reconstruct their own view with OpenAccess.
package storage

import (
	"context"
	"time"

	"github.com/codemode-ai/codemode/pkg/errors"
)

// Backend is the unified storage interface. Sub-store accessors return
// idempotent singletons per backend instance.
type Backend interface {
	// ToolStore returns the tool descriptor store.
	ToolStore() ToolStore

	// SkillStore returns the skill source store.
	SkillStore() SkillStore

	// ArtifactStore returns the artifact blob store.
	ArtifactStore() ArtifactStore

	// DepsStore returns the declared-dependency store.
	DepsStore() DepsStore

	// Access returns the serializable access descriptor for cross-process
	// handoff.
	Access() Access

	// Close releases any connections held by the backend.
	Close() error
}

// ToolSpec is a raw tool descriptor document. Parsing is the tool loader's
// concern; storage only moves the bytes.
type ToolSpec struct {
	Name string
	Raw  []byte
}

// ToolStore persists tool descriptor documents.
type ToolStore interface {
	List(ctx context.Context) ([]ToolSpec, error)
	Get(ctx context.Context, name string) (*ToolSpec, error)
	Put(ctx context.Context, name string, raw []byte) error
	Delete(ctx context.Context, name string) error

	// Path is the directory (file backend) or key prefix (Redis backend),
	// for display only.
	Path() string
}

// SkillRecord is a persisted skill: name, description, and source text.
// The file backend derives Description from the module docstring.
type SkillRecord struct {
	Name        string
	Description string
	Source      string
}

// SkillStore persists skill sources.
type SkillStore interface {
	List(ctx context.Context) ([]SkillRecord, error)
	Get(ctx context.Context, name string) (*SkillRecord, error)
	Put(ctx context.Context, rec SkillRecord) error
	Delete(ctx context.Context, name string) error
	Path() string
}

// Artifact type tags recorded on save so load returns the originally
// intended form.
const (
	ArtifactTypeBytes = "bytes"
	ArtifactTypeText  = "text"
	ArtifactTypeJSON  = "json"
)

// Artifact is the metadata for a stored blob.
type Artifact struct {
	Name        string         `json:"name"`
	Path        string         `json:"path"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ArtifactStore persists named blobs with metadata. Save accepts []byte
// (stored raw), string (stored UTF-8), or any JSON-serializable value; Load
// returns the matching Go form based on the recorded type tag.
type ArtifactStore interface {
	Save(ctx context.Context, name string, data any, description string, metadata map[string]any) (*Artifact, error)
	Load(ctx context.Context, name string) (any, error)
	Get(ctx context.Context, name string) (*Artifact, error)
	List(ctx context.Context) ([]Artifact, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
	Path() string
}

// DepsStore persists declared dependency records (package spec strings).
type DepsStore interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, pkg string) error
	Remove(ctx context.Context, pkg string) (bool, error)
	Path() string
}

// Access type tags.
const (
	AccessTypeFile  = "file"
	AccessTypeRedis = "redis"
)

// Access is the serializable storage handoff descriptor: either absolute
// paths per sub-store, or a Redis URL plus key prefixes.
type Access struct {
	Type  string       `json:"type"`
	File  *FileAccess  `json:"file,omitempty"`
	Redis *RedisAccess `json:"redis,omitempty"`
}

// FileAccess names the directories of a file backend.
type FileAccess struct {
	ToolsPath     string `json:"tools_path"`
	SkillsPath    string `json:"skills_path"`
	ArtifactsPath string `json:"artifacts_path"`
	DepsPath      string `json:"deps_path"`
}

// RedisAccess names the connection URL and key prefixes of a Redis backend.
type RedisAccess struct {
	URL             string `json:"url"`
	ToolsPrefix     string `json:"tools_prefix"`
	SkillsPrefix    string `json:"skills_prefix"`
	ArtifactsPrefix string `json:"artifacts_prefix"`
	DepsPrefix      string `json:"deps_prefix"`
}

// OpenAccess reconstructs a Backend from a serialized access descriptor.
// This is how an out-of-process executor attaches to the host's storage.
func OpenAccess(access Access) (Backend, error) {
	switch access.Type {
	case AccessTypeFile:
		if access.File == nil {
			return nil, errors.NewMisconfigured("file access descriptor missing paths", nil)
		}
		return NewFileBackendFromAccess(*access.File), nil
	case AccessTypeRedis:
		if access.Redis == nil {
			return nil, errors.NewMisconfigured("redis access descriptor missing connection info", nil)
		}
		return NewRedisBackendFromAccess(*access.Redis)
	default:
		return nil, errors.Newf(errors.KindMisconfigured, "unknown storage access type %q", access.Type)
	}
}
