package security

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscapes  = errors.New("path escapes backup directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
)

// PathValidator confines file operations to one directory using os.Root.
// Backups are read and written through it so a crafted name cannot reach
// outside the chosen directory, even through symlinks.
type PathValidator struct {
	root     *os.Root
	rootPath string
}

// New opens a PathValidator rooted at dir
func New(dir string) (*PathValidator, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory: %w", err)
	}

	return &PathValidator{
		root:     root,
		rootPath: absPath,
	}, nil
}

// Close releases resources held by the PathValidator
func (pv *PathValidator) Close() error {
	if pv.root != nil {
		return pv.root.Close()
	}
	return nil
}

// Root returns the absolute directory the validator is confined to
func (pv *PathValidator) Root() string {
	return pv.rootPath
}

// ValidateAndNormalize validates a user-provided path and returns it as a
// clean, slash-separated relative path. It rejects:
// - Empty paths
// - Absolute paths
// - Paths that escape the root (using ..)
// - Windows reserved names (CON, NUL, etc.)
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	// filepath.IsLocal rejects absolute paths, escaping paths, reserved names
	if !filepath.IsLocal(userPath) {
		if filepath.IsAbs(userPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	cleanPath := filepath.Clean(userPath)

	relPath, err := filepath.Rel(pv.rootPath, filepath.Join(pv.rootPath, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	return filepath.ToSlash(relPath), nil
}

func (pv *PathValidator) platformPath(path string) (string, error) {
	platformPath := filepath.FromSlash(path)
	if _, err := pv.ValidateAndNormalize(platformPath); err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	return filepath.Clean(platformPath), nil
}

// WriteFileInRoot writes data to path inside the root, truncating any
// existing file
func (pv *PathValidator) WriteFileInRoot(path string, data []byte, perm os.FileMode) error {
	p, err := pv.platformPath(path)
	if err != nil {
		return err
	}

	f, err := pv.root.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MkdirAllInRoot creates path and any missing parents inside the root
func (pv *PathValidator) MkdirAllInRoot(path string, perm os.FileMode) error {
	p, err := pv.platformPath(path)
	if err != nil {
		return err
	}

	current := ""
	for _, part := range strings.Split(p, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		err := pv.root.Mkdir(current, perm)
		if err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
	}
	return nil
}

// ReadFileInRoot reads path inside the root
func (pv *PathValidator) ReadFileInRoot(path string) ([]byte, error) {
	p, err := pv.platformPath(path)
	if err != nil {
		return nil, err
	}

	f, err := pv.root.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// StatInRoot stats path inside the root
func (pv *PathValidator) StatInRoot(path string) (os.FileInfo, error) {
	p, err := pv.platformPath(path)
	if err != nil {
		return nil, err
	}
	return pv.root.Stat(p)
}
