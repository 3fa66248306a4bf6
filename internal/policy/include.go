package policy

import (
	"os"
	"path/filepath"
	"sort"
)

// OSIncludeResolver resolves @include/@includedir against the real
// filesystem, applying the same ownership/permission checks as the main
// policy file: must be owned by root, not world-writable, not
// group-writable unless group is root.
type OSIncludeResolver struct {
	// SecureOpen, when set, is used to validate ownership/permissions
	// before reading; nil disables the check (used in tests).
	SecureOpen func(path string) (*os.File, error)
}

func (r OSIncludeResolver) open(path string) (*os.File, error) {
	if r.SecureOpen != nil {
		return r.SecureOpen(path)
	}
	return os.Open(path)
}

func (r OSIncludeResolver) ReadFile(path string) (string, error) {
	f, err := r.open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		b = append(b, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(b), nil
}

func (r OSIncludeResolver) ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		// sudoers skips dotfiles and files with a "." extension (package
		// manager backups, editor swap files).
		if len(name) == 0 || name[0] == '.' || filepath.Ext(name) != "" {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}
