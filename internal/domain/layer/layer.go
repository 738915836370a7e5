package layer

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Layer is a named set of map items served as one clustered index
// (immutable value object).
type Layer struct {
	name      string
	clustered bool
	createdAt int64
	revision  int
}

// ValidateName checks a layer name: alphanumeric with underscores and
// hyphens, 1-64 chars, not starting with a separator.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("layer name is required: %w", domain.ErrInvalidArgument)
	}
	if len(name) > 64 {
		return fmt.Errorf("layer name too long (max 64): %w", domain.ErrInvalidArgument)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("layer name must be alphanumeric with underscores and hyphens: %w",
			domain.ErrInvalidArgument)
	}
	return nil
}

// New validates and creates a Layer. Clustered layers are re-clustered
// before they are served.
func New(name string, clustered bool) (Layer, error) {
	if err := ValidateName(name); err != nil {
		return Layer{}, err
	}
	return Layer{
		name:      name,
		clustered: clustered,
		createdAt: time.Now().UnixMilli(),
		revision:  1,
	}, nil
}

// Reconstruct creates a Layer without validation (storage hydration).
func Reconstruct(name string, clustered bool, createdAt int64, revision int) Layer {
	return Layer{name: name, clustered: clustered, createdAt: createdAt, revision: revision}
}

// Name returns the layer name.
func (l Layer) Name() string { return l.name }

// Clustered reports whether the layer is served clustered.
func (l Layer) Clustered() bool { return l.clustered }

// CreatedAt returns the creation timestamp (unix millis).
func (l Layer) CreatedAt() int64 { return l.createdAt }

// Revision increases with every change to the layer's item set.
func (l Layer) Revision() int { return l.revision }

// Bump returns a copy with the next revision.
func (l Layer) Bump() Layer {
	l.revision++
	return l
}

// WithClustered returns a copy with the clustered flag set.
func (l Layer) WithClustered(clustered bool) Layer {
	l.clustered = clustered
	return l
}

// Entry is a stored item: the id it was assigned when first added and the
// spec it was built from.
type Entry struct {
	ID   item.ID
	Spec item.Spec
}
