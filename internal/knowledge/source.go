package knowledge

import "context"

// Source yields the current knowledge documents.
type Source interface {
	Documents(ctx context.Context) ([]Document, error)
}

// RootSource re-reads its roots on every call.
type RootSource struct {
	Loader *Loader
	Roots  []Root
}

// Documents loads all documents from the configured roots.
func (s RootSource) Documents(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Loader.Load(s.Roots)
}
