package resolve

import (
	"context"
	"strings"

	"github.com/kalambet/campusnav/internal/storage"
)

// BuildingFinder looks a building up by free-text name.
type BuildingFinder interface {
	FindBuilding(ctx context.Context, name string) (*storage.Building, error)
}

// Resolver maps a location phrase from an intent to a stored building.
type Resolver struct {
	store BuildingFinder
}

// New creates a Resolver over store.
func New(store BuildingFinder) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the first building whose name or aliases contain name,
// ignoring case. A blank name resolves to nil without querying the store.
// A nil building with a nil error means nothing matched; an error means the
// store could not be read.
func (r *Resolver) Resolve(ctx context.Context, name string) (*storage.Building, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	return r.store.FindBuilding(ctx, name)
}
