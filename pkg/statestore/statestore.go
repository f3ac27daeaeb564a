// Package statestore implements the spec-mandated single-file JSON state
// store: load/save of the persisted State blob plus an advisory,
// sibling-lock-file mutual exclusion. It deliberately does not reach for
// a database or a remote backend — spec.md's Non-goals explicitly
// exclude remote/distributed state backends and anything beyond a
// best-effort single-file lock, so this stays on the standard library
// (os, encoding/json, path/filepath) rather than introducing one of the
// pack's storage libraries (see DESIGN.md).
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drifthq/drift/pkg/codec"
	"github.com/drifthq/drift/pkg/drifterr"
	"github.com/drifthq/drift/pkg/resource"
)

// manifestFile is the package-manifest marker statestore walks ancestor
// directories for when resolving a ".drft/"-prefixed path.
const manifestFile = "drift.yaml"

const (
	lockRetries  = 10
	lockInterval = 100 * time.Millisecond
)

// FileStore is the file-based implementation of resource.StateStore.
type FileStore struct {
	path     string
	registry *codec.Registry
	locked   bool
}

// New resolves path (honoring the ".drft/" package-root convention) and
// returns a store bound to it. registry must already have every resource
// and state type the stack can produce registered.
func New(path string, registry *codec.Registry) (*FileStore, error) {
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: resolved, registry: registry}, nil
}

// ResolvePath implements §4.B's path resolution rule: a path beginning
// with ".drft/" is resolved relative to the nearest ancestor directory
// containing a package-manifest file; any other relative path resolves
// against the current working directory; absolute paths are used
// verbatim.
func ResolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}

	const prefix = ".drft/"
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		root, err := findPackageRoot()
		if err != nil {
			return "", err
		}
		return filepath.Join(root, path), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("statestore: resolve cwd: %w", err)
	}
	return filepath.Join(cwd, path), nil
}

func findPackageRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, manifestFile)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// No ancestor manifest found; fall back to the cwd itself.
			cwd, _ := os.Getwd()
			return cwd, nil
		}
		dir = parent
	}
}

// Load returns the persisted state, or an empty state named "default" if
// the file does not exist. A malformed file is a hard error.
func (s *FileStore) Load(_ context.Context) (*resource.State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return resource.NewEmptyState("default"), nil
	}
	if err != nil {
		return nil, drifterr.NewState("failed to read state file", err).WithDetail("path", s.path)
	}

	var envelope struct {
		Version   string                     `json:"version"`
		Stack     string                     `json:"stack"`
		Resources map[string]json.RawMessage `json:"resources"`
		Metadata  map[string]any             `json:"metadata,omitempty"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, drifterr.NewState("malformed state file", err).WithDetail("path", s.path)
	}

	st := &resource.State{
		Version:   envelope.Version,
		Stack:     envelope.Stack,
		Metadata:  envelope.Metadata,
		Resources: make(map[string]resource.ResourceState, len(envelope.Resources)),
	}

	for id, raw := range envelope.Resources {
		rs, err := s.decodeResourceState(raw)
		if err != nil {
			return nil, drifterr.NewState("malformed resource state", err).
				WithDetail("path", s.path).WithResource(id)
		}
		st.Resources[id] = rs
	}

	return st, nil
}

// decodeResourceState decodes a single ResourceState JSON blob, resolving
// its nested Resource's dependency-id list into nothing (ids only; this
// store does not reconstruct live dependency pointers — that two-pass
// rewiring is the planner's job once it has the full resource set from
// the stack definition alongside actual state).
func (s *FileStore) decodeResourceState(raw json.RawMessage) (resource.ResourceState, error) {
	decoded, err := s.registry.Decode(raw, s.resourceFieldMapper())
	if err != nil {
		var unresolved *codec.UnresolvedTypeError
		if asUnresolved(err, &unresolved) {
			// Forward-compatibility fallback: the concrete state subtype
			// (e.g. a provider-specific state no longer registered) can't
			// be resolved, but the nested resource usually still can be —
			// reconstruct the base ResourceState carrying just that.
			var fallback struct {
				Resource json.RawMessage `json:"resource"`
			}
			if uerr := json.Unmarshal(raw, &fallback); uerr != nil {
				return nil, uerr
			}
			if len(fallback.Resource) == 0 {
				return resource.NewPlainState(nil), nil
			}
			decoded, derr := s.registry.Decode(fallback.Resource, nil)
			if derr != nil {
				return resource.NewPlainState(nil), nil
			}
			r, ok := decoded.(resource.Resource)
			if !ok {
				return resource.NewPlainState(nil), nil
			}
			return resource.NewPlainState(r), nil
		}
		return nil, err
	}
	rs, ok := decoded.(resource.ResourceState)
	if !ok {
		return nil, fmt.Errorf("decoded value is not a ResourceState: %T", decoded)
	}
	return rs, nil
}

// resourceFieldMapper decodes a ResourceState's nested "resource" field —
// an interface-typed field the reflective codec cannot resolve on its own
// (§4.A) — into a concrete Resource by recursively decoding it through the
// same registry. Dependency ids inside that nested resource are left as
// plain strings at this pass; wiring them to live Resource references is
// the planner's job once the full desired resource set is at hand.
func (s *FileStore) resourceFieldMapper() codec.FieldMapper {
	return func(fieldName string, raw json.RawMessage) (any, bool, error) {
		if fieldName != "resource" {
			return nil, false, nil
		}
		decoded, err := s.registry.Decode(raw, nil)
		if err != nil {
			return nil, false, err
		}
		r, ok := decoded.(resource.Resource)
		if !ok {
			return nil, false, fmt.Errorf("decoded value is not a Resource: %T", decoded)
		}
		return r, true, nil
	}
}

func asUnresolved(err error, target **codec.UnresolvedTypeError) bool {
	u, ok := err.(*codec.UnresolvedTypeError)
	if ok {
		*target = u
	}
	return ok
}

// Save writes state as canonical pretty-printed JSON, creating any
// missing parent directories.
func (s *FileStore) Save(_ context.Context, st *resource.State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return drifterr.NewState("failed to create state directory", err).WithDetail("path", s.path)
	}

	resources := make(map[string]json.RawMessage, len(st.Resources))
	for id, rs := range st.Resources {
		raw, err := s.registry.Encode(rs)
		if err != nil {
			return drifterr.NewState("failed to encode resource state", err).WithResource(id)
		}
		resources[id] = raw
	}

	envelope := struct {
		Version   string                     `json:"version"`
		Stack     string                     `json:"stack"`
		Resources map[string]json.RawMessage `json:"resources"`
		Metadata  map[string]any             `json:"metadata,omitempty"`
	}{
		Version:   st.Version,
		Stack:     st.Stack,
		Resources: resources,
		Metadata:  st.Metadata,
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return drifterr.NewState("failed to marshal state", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return drifterr.NewState("failed to write state file", err).WithDetail("path", s.path)
	}
	return nil
}

func (s *FileStore) lockPath() string {
	return s.path + ".lock"
}

// Lock acquires the advisory lock, retrying lockRetries times at
// lockInterval on contention before failing with a KindState error. It is
// not crash-safe: a stale lock left by a killed process must be removed
// manually.
func (s *FileStore) Lock(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return drifterr.NewState("failed to create state directory", err)
	}

	content := []byte(fmt.Sprintf("pid: %d\ntimestamp: %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339)))

	var lastErr error
	for attempt := 0; attempt <= lockRetries; attempt++ {
		f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.Write(content)
			cerr := f.Close()
			if werr != nil {
				return drifterr.NewState("failed to write lock file", werr)
			}
			if cerr != nil {
				return drifterr.NewState("failed to close lock file", cerr)
			}
			s.locked = true
			return nil
		}
		lastErr = err
		if attempt < lockRetries {
			time.Sleep(lockInterval)
		}
	}

	return drifterr.NewState("failed to acquire state lock", lastErr).WithDetail("path", s.lockPath())
}

// Unlock removes the lock file best-effort.
func (s *FileStore) Unlock(_ context.Context) error {
	s.locked = false
	err := os.Remove(s.lockPath())
	if err != nil && !os.IsNotExist(err) {
		return drifterr.NewState("failed to release state lock", err)
	}
	return nil
}

var _ resource.StateStore = (*FileStore)(nil)
