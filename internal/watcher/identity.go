package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Key identifies an indexed document.
type Key struct {
	DocumentSet string
	Filename    string
}

// Identify maps a path under root to its document set and filename. The
// first directory level names the set; files directly under root belong to
// defaultSet. Filenames use forward slashes.
func Identify(root, path, defaultSet string) (Key, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Key{}, err
	}
	if !filepath.IsLocal(rel) {
		return Key{}, fmt.Errorf("%s is outside %s", path, root)
	}
	rel = filepath.ToSlash(rel)
	set, name, nested := strings.Cut(rel, "/")
	if !nested {
		return Key{DocumentSet: defaultSet, Filename: rel}, nil
	}
	return Key{DocumentSet: set, Filename: name}, nil
}

// Hidden reports whether any segment of path below root starts with a dot.
func Hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}
