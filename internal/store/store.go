package store

import (
	"context"
	"encoding/json"
)

// Surface names for the governance document surfaces. Each surface is
// a single JSON document holding an append-only list of records.
const (
	SurfaceTrustHistory      = "trust_history"
	SurfaceReflectionHistory = "reflection_history"
	SurfaceFreezeHistory     = "freeze_history"
	SurfaceRerouteLog        = "reroute_log"
	SurfaceDriftViolations   = "drift_violations"
	SurfaceRevisionLog       = "revision_log"
	SurfaceMemory            = "memory"
	SurfaceThresholds        = "thresholds"
)

// Store is the persistence collaborator for governance surfaces. The
// API is full-document: Load reads the whole surface,
// AppendOrReplace writes the whole surface back. There is no partial
// patch operation; callers own read/merge/write.
type Store interface {
	Load(ctx context.Context, surface string) ([]json.RawMessage, error)
	AppendOrReplace(ctx context.Context, surface string, records []json.RawMessage) error
	Close() error
}

// Append loads a surface, appends one marshaled record, and writes the
// surface back. Shared convenience for the append-only surfaces.
func Append(ctx context.Context, s Store, surface string, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	existing, err := s.Load(ctx, surface)
	if err != nil {
		return err
	}

	return s.AppendOrReplace(ctx, surface, append(existing, data))
}

// Replace marshals records and replaces the surface wholesale.
func Replace(ctx context.Context, s Store, surface string, records []interface{}) error {
	raw := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		raw = append(raw, data)
	}
	return s.AppendOrReplace(ctx, surface, raw)
}
