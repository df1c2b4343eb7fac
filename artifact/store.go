// Package artifact persists trained objects (the fitted preprocessor and the
// estimator) as whole files addressed by path.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	ErrNotFound = errors.New("artifact not found")
	ErrCorrupt  = errors.New("artifact corrupt")
)

// NotFoundError 制品不存在 (通常是尚未运行训练)
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %s not found (has a training run completed?)", e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CorruptError 制品无法解码或未通过格式校验
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("artifact %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// Store 制品存储
//
// Objects are encoded as JSON; any format versioning is the object's own
// concern, enforced through its json.Unmarshaler.
type Store struct {
	fileMode os.FileMode
}

func NewStore() *Store {
	return &Store{fileMode: 0o644}
}

// Save writes v to path. The payload is written to a temp file in the same
// directory and renamed into place, so readers observe the old or the new
// file and never a partial one.
func (s *Store) Save(path string, v any) (err error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(payload); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync artifact %s: %w", path, err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close artifact %s: %w", path, err)
	}
	if err = os.Chmod(tmpPath, s.fileMode); err != nil {
		return fmt.Errorf("chmod artifact %s: %w", path, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace artifact %s: %w", path, err)
	}
	return nil
}

// Load decodes the artifact at path into v.
func (s *Store) Load(path string, v any) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &NotFoundError{Path: path}
		}
		return fmt.Errorf("read artifact %s: %w", path, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &CorruptError{Path: path, Err: err}
	}
	return nil
}

// Exists reports whether an artifact file is present at path.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
