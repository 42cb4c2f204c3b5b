package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"

	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/logger"
)

const (
	artifactIndexFile = ".artifacts.json"
	artifactLockFile  = ".artifacts.lock"
	depsFileName      = "requirements.txt"
	skillFileExt      = ".py"
)

// FileBackend stores everything under a base directory: tools/ (YAML),
// skills/ (source files), artifacts/ (blobs plus a metadata sidecar index),
// deps/ (a requirements list). Directories are created on first use so a
// from-scratch layout never crashes.
type FileBackend struct {
	toolsDir     string
	skillsDir    string
	artifactsDir string
	depsDir      string

	mu        sync.Mutex
	tools     *fileToolStore
	skills    *fileSkillStore
	artifacts *fileArtifactStore
	deps      *fileDepsStore
}

// NewFileBackend creates a file backend rooted at base, using the
// conventional tools/, skills/, artifacts/, deps/ subdirectories.
func NewFileBackend(base string) *FileBackend {
	abs, err := filepath.Abs(base)
	if err != nil {
		abs = base
	}
	return &FileBackend{
		toolsDir:     filepath.Join(abs, "tools"),
		skillsDir:    filepath.Join(abs, "skills"),
		artifactsDir: filepath.Join(abs, "artifacts"),
		depsDir:      filepath.Join(abs, "deps"),
	}
}

// NewFileBackendFromAccess creates a file backend whose sub-store
// directories were chosen by someone else, e.g. bind mounts inside a
// container.
func NewFileBackendFromAccess(access FileAccess) *FileBackend {
	return &FileBackend{
		toolsDir:     access.ToolsPath,
		skillsDir:    access.SkillsPath,
		artifactsDir: access.ArtifactsPath,
		depsDir:      access.DepsPath,
	}
}

// ToolStore implements Backend.
func (b *FileBackend) ToolStore() ToolStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tools == nil {
		b.tools = &fileToolStore{dir: b.toolsDir}
	}
	return b.tools
}

// SkillStore implements Backend.
func (b *FileBackend) SkillStore() SkillStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.skills == nil {
		b.skills = &fileSkillStore{dir: b.skillsDir}
	}
	return b.skills
}

// ArtifactStore implements Backend.
func (b *FileBackend) ArtifactStore() ArtifactStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.artifacts == nil {
		b.artifacts = &fileArtifactStore{dir: b.artifactsDir}
	}
	return b.artifacts
}

// DepsStore implements Backend.
func (b *FileBackend) DepsStore() DepsStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deps == nil {
		b.deps = &fileDepsStore{dir: b.depsDir}
	}
	return b.deps
}

// Access implements Backend.
func (b *FileBackend) Access() Access {
	return Access{
		Type: AccessTypeFile,
		File: &FileAccess{
			ToolsPath:     b.toolsDir,
			SkillsPath:    b.skillsDir,
			ArtifactsPath: b.artifactsDir,
			DepsPath:      b.depsDir,
		},
	}
}

// Close implements Backend. File backends hold no connections.
func (*FileBackend) Close() error {
	return nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

// atomicWrite writes data to path via a temp file and rename.
func atomicWrite(path string, data []byte) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// fileToolStore keeps one YAML file per tool under dir.
type fileToolStore struct {
	dir string
}

func (s *fileToolStore) Path() string { return s.dir }

func (s *fileToolStore) List(_ context.Context) ([]ToolSpec, error) {
	if err := ensureDir(s.dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var specs []ToolSpec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			logger.Warnw("skipping unreadable tool descriptor", "file", entry.Name(), "error", err)
			continue
		}
		specs = append(specs, ToolSpec{
			Name: strings.TrimSuffix(entry.Name(), ext),
			Raw:  raw,
		})
	}
	return specs, nil
}

func (s *fileToolStore) Get(_ context.Context, name string) (*ToolSpec, error) {
	if err := ValidateFlatName(name); err != nil {
		return nil, err
	}
	if err := ensureDir(s.dir); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, name+".yaml"))
	if os.IsNotExist(err) {
		return nil, errors.Newf(errors.KindNotFound, "tool descriptor %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	return &ToolSpec{Name: name, Raw: raw}, nil
}

func (s *fileToolStore) Put(_ context.Context, name string, raw []byte) error {
	if err := ValidateFlatName(name); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.dir, name+".yaml"), raw)
}

func (s *fileToolStore) Delete(_ context.Context, name string) error {
	if err := ValidateFlatName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, name+".yaml"))
	if os.IsNotExist(err) {
		return errors.Newf(errors.KindNotFound, "tool descriptor %q not found", name)
	}
	return err
}

// fileSkillStore keeps one source file per skill under dir. The description
// is derived from the module docstring, so the source file remains the
// single authority.
type fileSkillStore struct {
	dir string
}

func (s *fileSkillStore) Path() string { return s.dir }

func (s *fileSkillStore) List(_ context.Context) ([]SkillRecord, error) {
	if err := ensureDir(s.dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var recs []SkillRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), skillFileExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), skillFileExt)
		source, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			logger.Warnw("skipping unreadable skill file", "file", entry.Name(), "error", err)
			continue
		}
		recs = append(recs, SkillRecord{
			Name:        name,
			Description: Docstring(string(source)),
			Source:      string(source),
		})
	}
	return recs, nil
}

func (s *fileSkillStore) Get(_ context.Context, name string) (*SkillRecord, error) {
	if err := ValidateFlatName(name); err != nil {
		return nil, err
	}
	if err := ensureDir(s.dir); err != nil {
		return nil, err
	}
	source, err := os.ReadFile(filepath.Join(s.dir, name+skillFileExt))
	if os.IsNotExist(err) {
		return nil, errors.Newf(errors.KindNotFound, "skill %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	return &SkillRecord{
		Name:        name,
		Description: Docstring(string(source)),
		Source:      string(source),
	}, nil
}

func (s *fileSkillStore) Put(_ context.Context, rec SkillRecord) error {
	if err := ValidateFlatName(rec.Name); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.dir, rec.Name+skillFileExt), []byte(rec.Source))
}

func (s *fileSkillStore) Delete(_ context.Context, name string) error {
	if err := ValidateFlatName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, name+skillFileExt))
	if os.IsNotExist(err) {
		return errors.Newf(errors.KindNotFound, "skill %q not found", name)
	}
	return err
}

// Docstring returns the first line of a leading triple-quoted string
// literal, or "" when the source has none.
func Docstring(source string) string {
	trimmed := strings.TrimLeft(source, " \t\r\n")
	const quote = `"""`
	if !strings.HasPrefix(trimmed, quote) {
		return ""
	}
	rest := trimmed[len(quote):]
	end := strings.Index(rest, quote)
	if end < 0 {
		return ""
	}
	doc := strings.TrimSpace(rest[:end])
	if i := strings.IndexByte(doc, '\n'); i >= 0 {
		doc = strings.TrimSpace(doc[:i])
	}
	return doc
}

// artifactIndexEntry is the sidecar record for one artifact.
type artifactIndexEntry struct {
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// fileArtifactStore keeps one file per artifact plus a sidecar index so
// List never opens every blob. The index is guarded by a file lock because
// the host and a container may share the directory via a bind mount.
type fileArtifactStore struct {
	dir string
}

func (s *fileArtifactStore) Path() string { return s.dir }

func (s *fileArtifactStore) withIndex(fn func(index map[string]artifactIndexEntry) (bool, error)) error {
	if err := ensureDir(s.dir); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(s.dir, artifactLockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking artifact index: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	index := s.readIndex()
	dirty, err := fn(index)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.dir, artifactIndexFile), data)
}

// readIndex loads the sidecar index; a corrupt index is logged and treated
// as empty rather than surfaced as a crash.
func (s *fileArtifactStore) readIndex() map[string]artifactIndexEntry {
	index := map[string]artifactIndexEntry{}
	data, err := os.ReadFile(filepath.Join(s.dir, artifactIndexFile))
	if os.IsNotExist(err) {
		return index
	}
	if err != nil {
		logger.Warnw("unreadable artifact index", "dir", s.dir, "error", err)
		return index
	}
	if err := json.Unmarshal(data, &index); err != nil {
		logger.Warnw("corrupt artifact index, starting empty", "dir", s.dir, "error", err)
		return map[string]artifactIndexEntry{}
	}
	return index
}

func (s *fileArtifactStore) Save(_ context.Context, name string, data any, description string, metadata map[string]any) (*Artifact, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var (
		payload  []byte
		typeTag  string
		jsonData []byte
		err      error
	)
	switch v := data.(type) {
	case []byte:
		payload, typeTag = v, ArtifactTypeBytes
	case string:
		payload, typeTag = []byte(v), ArtifactTypeText
	default:
		jsonData, err = json.Marshal(v)
		if err != nil {
			return nil, errors.New(errors.KindInternal, fmt.Sprintf("artifact %q is not JSON-serializable", name), err)
		}
		payload, typeTag = jsonData, ArtifactTypeJSON
	}

	filePath := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := atomicWrite(filePath, payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := artifactIndexEntry{
		Description: description,
		Type:        typeTag,
		Metadata:    metadata,
		CreatedAt:   now,
	}
	if err := s.withIndex(func(index map[string]artifactIndexEntry) (bool, error) {
		index[name] = entry
		return true, nil
	}); err != nil {
		return nil, err
	}

	return &Artifact{
		Name:        name,
		Path:        filePath,
		Description: description,
		Type:        typeTag,
		Metadata:    metadata,
		CreatedAt:   now,
	}, nil
}

func (s *fileArtifactStore) Load(_ context.Context, name string) (any, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	filePath := filepath.Join(s.dir, filepath.FromSlash(name))
	payload, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, errors.Newf(errors.KindNotFound, "artifact %q not found", name)
	}
	if err != nil {
		return nil, err
	}

	typeTag := ""
	if entry, ok := s.readIndex()[name]; ok {
		typeTag = entry.Type
	}
	switch typeTag {
	case ArtifactTypeBytes:
		return payload, nil
	case ArtifactTypeJSON:
		var value any
		if err := json.Unmarshal(payload, &value); err != nil {
			return string(payload), nil
		}
		return value, nil
	case ArtifactTypeText:
		return string(payload), nil
	default:
		// Legacy entry without a tag: JSON by extension, text when valid
		// UTF-8, bytes otherwise.
		if strings.HasSuffix(name, ".json") {
			var value any
			if err := json.Unmarshal(payload, &value); err == nil {
				return value, nil
			}
		}
		if utf8.Valid(payload) {
			return string(payload), nil
		}
		return payload, nil
	}
}

func (s *fileArtifactStore) Get(_ context.Context, name string) (*Artifact, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	entry, ok := s.readIndex()[name]
	if !ok {
		return nil, nil
	}
	return s.entryToArtifact(name, entry), nil
}

func (s *fileArtifactStore) List(_ context.Context) ([]Artifact, error) {
	if err := ensureDir(s.dir); err != nil {
		return nil, err
	}
	index := s.readIndex()
	artifacts := make([]Artifact, 0, len(index))
	for name, entry := range index {
		artifacts = append(artifacts, *s.entryToArtifact(name, entry))
	}
	return artifacts, nil
}

func (s *fileArtifactStore) Exists(_ context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	_, ok := s.readIndex()[name]
	return ok, nil
}

func (s *fileArtifactStore) Delete(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	filePath := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.withIndex(func(index map[string]artifactIndexEntry) (bool, error) {
		if _, ok := index[name]; !ok {
			return false, nil
		}
		delete(index, name)
		return true, nil
	})
}

func (s *fileArtifactStore) entryToArtifact(name string, entry artifactIndexEntry) *Artifact {
	return &Artifact{
		Name:        name,
		Path:        filepath.Join(s.dir, filepath.FromSlash(name)),
		Description: entry.Description,
		Type:        entry.Type,
		Metadata:    entry.Metadata,
		CreatedAt:   entry.CreatedAt,
	}
}

// fileDepsStore keeps declared dependencies as a requirements list, one
// spec per line.
type fileDepsStore struct {
	dir string
	mu  sync.Mutex
}

func (s *fileDepsStore) Path() string { return s.dir }

func (s *fileDepsStore) file() string {
	return filepath.Join(s.dir, depsFileName)
}

func (s *fileDepsStore) read() ([]string, error) {
	if err := ensureDir(s.dir); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.file())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pkgs = append(pkgs, line)
	}
	return pkgs, nil
}

func (s *fileDepsStore) write(pkgs []string) error {
	var sb strings.Builder
	for _, pkg := range pkgs {
		sb.WriteString(pkg)
		sb.WriteByte('\n')
	}
	return atomicWrite(s.file(), []byte(sb.String()))
}

func (s *fileDepsStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *fileDepsStore) Add(_ context.Context, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkgs, err := s.read()
	if err != nil {
		return err
	}
	for _, existing := range pkgs {
		if existing == pkg {
			return nil
		}
	}
	return s.write(append(pkgs, pkg))
}

func (s *fileDepsStore) Remove(_ context.Context, pkg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkgs, err := s.read()
	if err != nil {
		return false, err
	}
	kept := pkgs[:0]
	removed := false
	for _, existing := range pkgs {
		if existing == pkg {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return false, nil
	}
	return true, s.write(kept)
}
