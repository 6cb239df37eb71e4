package thresholds

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// DefaultProject is the name of the base threshold set. It always
// exists and is the merge base for every project-specific override.
const DefaultProject = "default"

// Threshold names understood by the governance gates.
const (
	MinConfidence      = "min_confidence"
	MinTrustScore      = "min_trust_score"
	MinTrustDelta      = "min_trust_delta"
	MaxDrift           = "max_drift"
	MaxReflectionDepth = "max_reflection_depth"
	MaxContradictions  = "max_contradictions"
	Demotion           = "demotion"
	Warning            = "warning"
	Promotion          = "promotion"
	DecayRate          = "decay_rate"
	RequireOverride    = "require_override"
)

// compiledDefaults are the factory settings restored by Reset("default").
func compiledDefaults() types.ThresholdSet {
	return types.ThresholdSet{
		MinConfidence:      0.6,
		MinTrustScore:      0.5,
		MinTrustDelta:      -0.2,
		MaxDrift:           0.4,
		MaxReflectionDepth: 3,
		MaxContradictions:  2,
		Demotion:           0.3,
		Warning:            0.5,
		Promotion:          0.75,
		DecayRate:          0.05,
	}
}

// projectRecord is the persisted shape of one threshold set.
type projectRecord struct {
	ProjectID string             `json:"project_id"`
	Values    types.ThresholdSet `json:"values"`
}

// Store holds per-project threshold sets. The in-memory copy is the
// source of truth between loads; persistence goes through the external
// document store.
type Store struct {
	mu       sync.RWMutex
	sets     map[string]types.ThresholdSet
	backend  store.Store
}

// New creates a threshold store seeded with the compiled-in defaults.
func New(backend store.Store) *Store {
	return &Store{
		sets:    map[string]types.ThresholdSet{DefaultProject: compiledDefaults()},
		backend: backend,
	}
}

// Load replaces in-memory sets with the persisted ones. The default
// set always survives: a persisted default merges over the compiled-in
// constants so new threshold names pick up factory values.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	records, err := s.backend.Load(ctx, store.SurfaceThresholds)
	if err != nil {
		return fmt.Errorf("failed to load thresholds: %w", err)
	}

	sets := map[string]types.ThresholdSet{DefaultProject: compiledDefaults()}
	for _, raw := range records {
		var rec projectRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Printf("[Thresholds] Skipping malformed threshold record: %v", err)
			continue
		}
		if rec.ProjectID == "" {
			continue
		}
		base := sets[rec.ProjectID]
		if base == nil {
			base = types.ThresholdSet{}
		}
		for k, v := range rec.Values {
			base[k] = v
		}
		sets[rec.ProjectID] = base
	}

	s.mu.Lock()
	s.sets = sets
	s.mu.Unlock()
	return nil
}

// Get returns the effective threshold set for a project: the project
// override shallow-merged over default. Unknown projects resolve to
// the default set only.
func (s *Store) Get(projectID string) types.ThresholdSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := s.sets[DefaultProject].Clone()
	if projectID == "" || projectID == DefaultProject {
		return merged
	}
	for k, v := range s.sets[projectID] {
		merged[k] = v
	}
	return merged
}

// Update merges partial into the project's set, creating the set when
// absent. Existing keys not named in partial are untouched.
func (s *Store) Update(ctx context.Context, projectID string, partial types.ThresholdSet) error {
	if projectID == "" {
		projectID = DefaultProject
	}

	s.mu.Lock()
	set := s.sets[projectID]
	if set == nil {
		set = types.ThresholdSet{}
		s.sets[projectID] = set
	}
	for k, v := range partial {
		set[k] = v
	}
	s.mu.Unlock()

	return s.persist(ctx)
}

// Reset restores the default set to the compiled-in constants, or
// removes a project override entirely so lookups fall back to default.
func (s *Store) Reset(ctx context.Context, projectID string) error {
	s.mu.Lock()
	if projectID == "" || projectID == DefaultProject {
		s.sets[DefaultProject] = compiledDefaults()
	} else {
		delete(s.sets, projectID)
	}
	s.mu.Unlock()

	return s.persist(ctx)
}

// Projects lists the project ids with explicit sets, default included.
func (s *Store) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.sets))
	for id := range s.sets {
		out = append(out, id)
	}
	return out
}

func (s *Store) persist(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	s.mu.RLock()
	records := make([]interface{}, 0, len(s.sets))
	for id, set := range s.sets {
		records = append(records, projectRecord{ProjectID: id, Values: set.Clone()})
	}
	s.mu.RUnlock()

	if err := store.Replace(ctx, s.backend, store.SurfaceThresholds, records); err != nil {
		return fmt.Errorf("failed to persist thresholds: %w", err)
	}
	return nil
}
