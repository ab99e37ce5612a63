package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const manifestName = "manifest.json"

// FileStore persists snapshots as one JSON document per slice under a
// directory, with a manifest naming the saved slices and their version.
// Writes go through a temporary file and rename, so readers never observe
// a partially written document.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed snapshot store rooted at dir. The
// directory is created if missing.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the snapshot directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save implements the Store interface.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for name, raw := range snap.Slices {
		if name == "" || name != filepath.Base(name) {
			return fmt.Errorf("slice name %q is not a valid file name", name)
		}
		if err := s.writeAtomic(sliceFile(name), raw); err != nil {
			return fmt.Errorf("save slice %q: %w", name, err)
		}
	}

	manifest, err := buildManifest(snap)
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	if err := s.writeAtomic(manifestName, manifest); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// Load implements the Store interface.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest, err := os.ReadFile(filepath.Join(s.dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if !gjson.ValidBytes(manifest) {
		return nil, fmt.Errorf("manifest is not valid JSON")
	}

	snap := &Snapshot{
		Version: gjson.GetBytes(manifest, "version").Uint(),
		Slices:  make(map[string]json.RawMessage),
	}
	for _, entry := range gjson.GetBytes(manifest, "slices").Array() {
		name := entry.String()
		raw, err := os.ReadFile(filepath.Join(s.dir, sliceFile(name)))
		if err != nil {
			return nil, fmt.Errorf("read slice %q: %w", name, err)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("slice %q is not valid JSON", name)
		}
		snap.Slices[name] = raw
	}
	return snap, nil
}

// writeAtomic writes data to name via a temp file and rename.
func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// buildManifest assembles the manifest document. Slice names appear in
// sorted order so repeated saves of the same tree are byte-identical.
func buildManifest(snap *Snapshot) ([]byte, error) {
	names := make([]string, 0, len(snap.Slices))
	for name := range snap.Slices {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := []byte(`{}`)
	var err error
	if doc, err = sjson.SetBytes(doc, "version", snap.Version); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetBytes(doc, "saved_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetBytes(doc, "slices", names); err != nil {
		return nil, err
	}
	return doc, nil
}

func sliceFile(name string) string {
	return name + ".json"
}

// Clear removes all saved state. Used by tests and explicit resets.
func (s *FileStore) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
