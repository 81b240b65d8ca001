// Package artifacts stores the files a run produces (screenshots, raw tool
// output, the composite report) on the local filesystem.
//
// Every run owns one namespace, a directory named after the session id:
//
//	<root>/<namespace>/<name>
//
// Each artifact is also addressable over HTTP as
// <publicBase>/artifacts/<namespace>/<name>.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/perfsandbox/internal/logging"
)

var (
	// ErrNotFound is returned when an artifact or namespace does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidName is returned for names that could escape their namespace.
	ErrInvalidName = errors.New("invalid artifact name")
)

// Config controls where artifacts live and how they are linked.
type Config struct {
	// Root is the directory holding one subdirectory per namespace.
	Root string
	// PublicBaseURL is prefixed to artifact links, e.g. http://localhost:8080.
	PublicBaseURL string
}

// DefaultConfig returns a store rooted in ./data/artifacts.
func DefaultConfig() Config {
	return Config{
		Root:          filepath.Join("data", "artifacts"),
		PublicBaseURL: "http://localhost:8080",
	}
}

// Store is safe for concurrent use. Writes are atomic per file, so
// concurrent writers to different names never see each other's partial data.
type Store struct {
	root   string
	base   string
	logger logging.Logger
}

// Info describes one stored artifact.
type Info struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	URL     string    `json:"url"`
}

// New creates the root directory if needed.
func New(cfg Config, logger logging.Logger) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("artifacts: root directory is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		root:   root,
		base:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger: logger.With(logging.F("component", "artifacts")),
	}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Reset empties ns, creating it if it does not exist.
func (s *Store) Reset(ns string) error {
	dir, err := s.dir(ns)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("reset namespace %s: %w", ns, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reset namespace %s: %w", ns, err)
	}
	return nil
}

// Write stores data as ns/name, replacing any previous contents.
func (s *Store) Write(ns, name string, data []byte) error {
	path, err := s.Path(ns, name)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s/%s: %w", ns, name, err)
	}
	s.logger.Debug("artifact written",
		logging.F("namespace", ns), logging.F("name", name), logging.F("bytes", len(data)))
	return nil
}

// Read returns the contents of ns/name.
func (s *Store) Read(ns, name string) ([]byte, error) {
	path, err := s.Path(ns, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, name)
		}
		return nil, fmt.Errorf("read artifact %s/%s: %w", ns, name, err)
	}
	return data, nil
}

// Path returns the filesystem path of ns/name without touching the disk.
func (s *Store) Path(ns, name string) (string, error) {
	dir, err := s.dir(ns)
	if err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ResolveURL returns the public link of ns/name.
func (s *Store) ResolveURL(ns, name string) string {
	return s.base + "/artifacts/" + url.PathEscape(ns) + "/" + url.PathEscape(name)
}

// List returns the artifacts of ns sorted by name. Temp files are hidden.
func (s *Store) List(ns string) ([]Info, error) {
	dir, err := s.dir(ns)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: namespace %s", ErrNotFound, ns)
		}
		return nil, fmt.Errorf("list namespace %s: %w", ns, err)
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:    e.Name(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
			URL:     s.ResolveURL(ns, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes ns and everything in it. Removing a missing namespace is
// not an error.
func (s *Store) Remove(ns string) error {
	dir, err := s.dir(ns)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove namespace %s: %w", ns, err)
	}
	return nil
}

// Purge deletes every run namespace left by a previous process. Entries in
// the root that are not run namespaces are left alone.
func (s *Store) Purge() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("purge artifacts: %w", err)
	}
	purged := 0
	for _, e := range entries {
		if !isRunNamespace(e) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("purge artifacts: %w", err)
		}
		purged++
	}
	if purged > 0 {
		s.logger.Info("purged stale artifacts", logging.F("namespaces", purged))
	}
	return nil
}

// isRunNamespace reports whether e is a directory named after a session id.
func isRunNamespace(e fs.DirEntry) bool {
	if !e.IsDir() {
		return false
	}
	_, err := uuid.Parse(e.Name())
	return err == nil
}

// Sweep removes run namespaces not modified since now-olderThan, except
// those in keep. It returns the removed namespaces.
func (s *Store) Sweep(olderThan time.Duration, keep map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("sweep artifacts: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	var removed []string
	for _, e := range entries {
		if !isRunNamespace(e) || keep[e.Name()] {
			continue
		}
		fi, err := e.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			s.logger.Warn("sweep failed", logging.F("namespace", e.Name()), logging.Err(err))
			continue
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}

// Writer returns a writer scoped to ns.
func (s *Store) Writer(ns string) *NamespaceWriter {
	return &NamespaceWriter{store: s, ns: ns}
}

// NamespaceWriter writes into a single namespace. It satisfies
// tools.ArtifactWriter.
type NamespaceWriter struct {
	store *Store
	ns    string
}

func (w *NamespaceWriter) Write(name string, data []byte) error {
	return w.store.Write(w.ns, name, data)
}

func (w *NamespaceWriter) URL(name string) string {
	return w.store.ResolveURL(w.ns, name)
}

func (w *NamespaceWriter) Namespace() string { return w.ns }

func (s *Store) dir(ns string) (string, error) {
	if err := validateName(ns); err != nil {
		return "", fmt.Errorf("namespace: %w", err)
	}
	return filepath.Join(s.root, ns), nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains '..'", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	}
	return nil
}
