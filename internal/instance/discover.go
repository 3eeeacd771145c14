package instance

import (
	"context"
	"fmt"
	"slices"

	"github.com/nerrad567/instance-watch/internal/store"
)

// Lister lists instance objects. store.Store satisfies it.
type Lister interface {
	ListInstances(ctx context.Context) ([]store.Object, error)
}

// Options controls discovery filtering.
type Options struct {
	// SelfID is the watcher's own instance id; it is never watched.
	SelfID string

	// Exclude is the raw operator exclusion list, see NormalizeExclusions.
	Exclude string
}

// Discover builds the catalog from the instance objects in the store.
//
// Instances are skipped when they are SelfID, when their mode is not
// supported, or when they are excluded. Instances that are not scheduled
// lose any schedule expression.
//
// Returns:
//   - *Catalog: The watched instances
//   - []string: Invalid exclusion tokens, to be logged as warnings
//   - error: ErrDiscovery if listing fails, an id is malformed, an object
//     lacks its mode, or no instance remains
func Discover(ctx context.Context, lister Lister, opts Options) (*Catalog, []string, error) {
	excluded, warnings := NormalizeExclusions(opts.Exclude)

	objects, err := lister.ListInstances(ctx)
	if err != nil {
		return nil, warnings, fmt.Errorf("%w: listing instances: %w", ErrDiscovery, err)
	}

	var found []Instance
	for _, obj := range objects {
		if !obj.IsInstance() {
			continue
		}
		id := obj.InstanceID()
		if err := ValidateID(id); err != nil {
			return nil, warnings, fmt.Errorf("%w: %w", ErrDiscovery, err)
		}
		if obj.Common.Mode == "" {
			return nil, warnings, fmt.Errorf("%w: instance %s has no mode", ErrDiscovery, id)
		}
		if id == opts.SelfID || slices.Contains(excluded, id) {
			continue
		}

		mode := ParseMode(obj.Common.Mode)
		if mode == ModeUnsupported {
			continue
		}

		inst := Instance{ID: id, Mode: mode}
		if obj.Common.Enabled != nil {
			inst.Enabled = *obj.Common.Enabled
		}
		if mode == ModeScheduled {
			inst.Schedule = obj.Common.Schedule
		}
		found = append(found, inst)
	}

	if len(found) == 0 {
		return nil, warnings, fmt.Errorf("%w: no instances to watch", ErrDiscovery)
	}
	return NewCatalog(found...), warnings, nil
}
