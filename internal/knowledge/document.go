// Package knowledge reads the local knowledge base that is injected as
// context into every chat prompt.
package knowledge

import (
	"fmt"
	"io/fs"
	"os"
)

// Origin tags which knowledge root a document came from.
type Origin int

const (
	// OriginScope documents describe what the assistant may talk about and
	// take priority over general documentation.
	OriginScope Origin = iota
	OriginDoc
)

func (o Origin) String() string {
	switch o {
	case OriginScope:
		return "SCOPE"
	case OriginDoc:
		return "DOCUMENTATION"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// Document is one knowledge file read into memory.
type Document struct {
	Origin   Origin
	Filename string // base name, directory segments discarded
	Content  string
}

// Root is a directory tree scanned for documents. FS is rooted at the
// directory itself; Path is only used in log and error messages.
type Root struct {
	Origin Origin
	Path   string
	FS     fs.FS
}

// DirRoot returns a Root backed by the operating system directory at path.
func DirRoot(origin Origin, path string) Root {
	return Root{Origin: origin, Path: path, FS: os.DirFS(path)}
}

// UnreadableDocumentError reports a knowledge file that was found but could
// not be read or decoded.
type UnreadableDocumentError struct {
	Root string
	Path string
	Err  error
}

func (e *UnreadableDocumentError) Error() string {
	return fmt.Sprintf("unreadable document %s in %s: %v", e.Path, e.Root, e.Err)
}

func (e *UnreadableDocumentError) Unwrap() error {
	return e.Err
}
