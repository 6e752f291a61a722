package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
)

// Loader walks knowledge roots and reads every file whose name ends in one
// of the configured extensions. It keeps no state between calls.
type Loader struct {
	extensions     []string
	skipUnreadable bool
	logger         *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithExtensions sets the file suffixes to load. Matching is
// case-sensitive. ".pdf" enables text extraction from PDF files.
func WithExtensions(exts ...string) Option {
	return func(l *Loader) {
		if len(exts) > 0 {
			l.extensions = exts
		}
	}
}

// WithSkipUnreadable makes the loader log and skip files that fail to read
// instead of aborting the whole load.
func WithSkipUnreadable(skip bool) Option {
	return func(l *Loader) { l.skipUnreadable = skip }
}

// WithLogger sets the logger used for skip-and-warn diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader. By default only ".md" files are read and any
// unreadable file aborts the load.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		extensions: []string{".md"},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads all matching documents under roots, in root order and walk
// order within each root. A root that does not exist contributes nothing.
func (l *Loader) Load(roots []Root) ([]Document, error) {
	var docs []Document
	for _, root := range roots {
		found, err := l.loadRoot(root)
		if err != nil {
			return nil, err
		}
		docs = append(docs, found...)
	}
	return docs, nil
}

func (l *Loader) loadRoot(root Root) ([]Document, error) {
	if root.FS == nil {
		return nil, nil
	}

	var docs []Document
	err := fs.WalkDir(root.FS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return l.unreadable(root, p, err)
		}
		if d.IsDir() || !l.matches(p) {
			return nil
		}

		content, err := l.read(root.FS, p)
		if err != nil {
			return l.unreadable(root, p, err)
		}
		docs = append(docs, Document{
			Origin:   root.Origin,
			Filename: path.Base(p),
			Content:  content,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// unreadable either aborts the walk with an UnreadableDocumentError or, in
// skip mode, logs and lets the walk continue.
func (l *Loader) unreadable(root Root, p string, err error) error {
	uerr := &UnreadableDocumentError{Root: root.Path, Path: p, Err: err}
	if !l.skipUnreadable {
		return uerr
	}
	l.logger.Warn("skipping unreadable knowledge document", "root", root.Path, "path", p, "error", err)
	return nil
}

func (l *Loader) matches(p string) bool {
	for _, ext := range l.extensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

func (l *Loader) read(fsys fs.FS, p string) (string, error) {
	if strings.HasSuffix(p, ".pdf") {
		return readPDF(fsys, p)
	}
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}
