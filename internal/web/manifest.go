package web

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"path"
	"strings"
)

// Manifest maps asset names to fingerprinted URLs so browsers can cache
// them forever. Unknown names resolve to their plain URL.
type Manifest struct {
	prefix  string
	entries map[string]string
}

// NewManifest hashes every file in fsys. prefix is the URL the assets are
// mounted under, e.g. "/static/".
func NewManifest(fsys fs.FS, prefix string) (*Manifest, error) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	m := &Manifest{prefix: prefix, entries: make(map[string]string)}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		m.entries[p] = prefix + p + "?v=" + hex.EncodeToString(sum[:])[:12]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// URL returns the fingerprinted URL for name.
func (m *Manifest) URL(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if u, ok := m.entries[name]; ok {
		return u
	}
	return m.prefix + name
}

// Len reports how many assets were fingerprinted.
func (m *Manifest) Len() int {
	return len(m.entries)
}
