// Package zones provides a uniform read/write/list capability over the four
// logical storage tiers the pipeline flows through.
package zones

import "context"

// Zone is a logical storage tier with a defined producer/consumer contract.
type Zone string

const (
	ZoneRaw       Zone = "raw"
	ZoneClean     Zone = "clean"
	ZoneProcessed Zone = "processed"
	ZoneCurated   Zone = "curated"
)

// AllZones returns the zones in pipeline flow order.
func AllZones() []Zone {
	return []Zone{ZoneRaw, ZoneClean, ZoneProcessed, ZoneCurated}
}

// IsValid reports whether z names a known zone.
func (z Zone) IsValid() bool {
	switch z {
	case ZoneRaw, ZoneClean, ZoneProcessed, ZoneCurated:
		return true
	}
	return false
}

// Store abstracts the physical object store behind the zones. Writes to a
// path must be atomic from a reader's perspective: a partially written object
// is never observable. Get returns model.ErrNotFound (wrapped) on a miss.
type Store interface {
	Put(ctx context.Context, zone Zone, path string, data []byte) error
	Get(ctx context.Context, zone Zone, path string) ([]byte, error)
	List(ctx context.Context, zone Zone, prefix string) ([]string, error)
	Exists(ctx context.Context, zone Zone, path string) (bool, error)
}
