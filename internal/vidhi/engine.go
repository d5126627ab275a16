package vidhi

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// Config tunes extraction and matching.
type Config struct {
	MinSessions       int     // distinct sessions required before a pattern is learned
	MinSuccessRate    float64 // below this a vidhi is a retirement candidate
	MinSequenceLength int
	MaxSequenceLength int
}

// DefaultConfig returns the standard extraction thresholds.
func DefaultConfig() Config {
	return Config{
		MinSessions:       3,
		MinSuccessRate:    0.5,
		MinSequenceLength: 2,
		MaxSequenceLength: 5,
	}
}

func (c Config) clamped() Config {
	def := DefaultConfig()
	if c.MinSessions <= 0 {
		c.MinSessions = def.MinSessions
	}
	if c.MinSuccessRate <= 0 || c.MinSuccessRate >= 1 {
		c.MinSuccessRate = def.MinSuccessRate
	}
	if c.MinSequenceLength < 2 {
		c.MinSequenceLength = def.MinSequenceLength
	}
	if c.MaxSequenceLength < c.MinSequenceLength {
		c.MaxSequenceLength = def.MaxSequenceLength
	}
	return c
}

// Storage is the persistence surface the engine needs. The store package
// implements it over SQLite.
type Storage interface {
	SaveVidhi(v Vidhi) error
	DeleteVidhi(id string) error
	LoadVidhis(project string) ([]Vidhi, error)
	LoadSessions(project string) ([]types.Session, error)
}

// ExtractResult summarizes one extraction run.
type ExtractResult struct {
	NewVidhis              int
	Reinforced             int
	TotalSequencesAnalyzed int
	DurationMs             int64
}

// Engine is the procedure engine for one project.
type Engine struct {
	mu      sync.RWMutex
	cfg     Config
	project string
	store   Storage
	clock   types.Clock
	rng     *rand.Rand
	group   singleflight.Group
	vidhis  map[string]*Vidhi
}

// NewEngine creates a procedure engine. Pass a nil clock for wall time.
func NewEngine(project string, cfg Config, store Storage, clock types.Clock) *Engine {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Engine{
		cfg:     cfg.clamped(),
		project: project,
		store:   store,
		clock:   clock,
		rng:     rand.New(rand.NewSource(clock.Now().UnixNano())),
		vidhis:  make(map[string]*Vidhi),
	}
}

// LoadAll populates the in-memory cache from storage.
func (e *Engine) LoadAll() error {
	loaded, err := e.store.LoadVidhis(e.project)
	if err != nil {
		return fmt.Errorf("vidhi: load %s: %w", e.project, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vidhis = make(map[string]*Vidhi, len(loaded))
	for i := range loaded {
		v := loaded[i]
		e.vidhis[v.ID] = &v
	}
	logging.Vidhi("loaded %d vidhis for project %s", len(loaded), e.project)
	return nil
}

// Extract mines the project's sessions for recurring tool sequences. At most
// one extraction per project runs at a time; concurrent callers share the
// in-flight result.
func (e *Engine) Extract(ctx context.Context) (ExtractResult, error) {
	res, err, _ := e.group.Do(e.project, func() (interface{}, error) {
		return e.extract(ctx)
	})
	if err != nil {
		return ExtractResult{}, err
	}
	return res.(ExtractResult), nil
}

// GetVidhi returns one vidhi by id.
func (e *Engine) GetVidhi(id string) (Vidhi, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vidhis[id]
	if !ok {
		return Vidhi{}, false
	}
	return v.clone(), true
}

// GetVidhis returns the top K vidhis ranked by a fresh Thompson sample each.
func (e *Engine) GetVidhis(topK int) []Vidhi {
	e.mu.Lock()
	defer e.mu.Unlock()

	type scored struct {
		v *Vidhi
		u float64
	}
	ranked := make([]scored, 0, len(e.vidhis))
	for _, v := range e.vidhis {
		ranked = append(ranked, scored{v, e.sampleBeta(float64(v.SuccessCount+1), float64(v.FailureCount+1))})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].u > ranked[j].u })

	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}
	out := make([]Vidhi, len(ranked))
	for i, s := range ranked {
		out[i] = s.v.clone()
	}
	return out
}

// RecordOutcome updates a vidhi's success statistics. Unknown ids no-op.
func (e *Engine) RecordOutcome(id string, success bool) {
	e.mu.Lock()
	v, ok := e.vidhis[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	if success {
		v.SuccessCount++
	} else {
		v.FailureCount++
	}
	v.refreshSuccessRate()
	v.Touch(e.clock.Now())
	snapshot := v.clone()
	e.mu.Unlock()

	e.persist(snapshot)
	logging.VidhiDebug("outcome for %s: success=%t rate=%.3f", id, success, snapshot.SuccessRate)
}

// Persist writes a vidhi to storage and updates the cache.
func (e *Engine) Persist(v Vidhi) error {
	if err := e.store.SaveVidhi(v); err != nil {
		return fmt.Errorf("vidhi: persist %s: %w", v.ID, err)
	}
	e.mu.Lock()
	stored := v.clone()
	e.vidhis[v.ID] = &stored
	e.mu.Unlock()
	return nil
}

// Retire removes a vidhi from memory and storage.
func (e *Engine) Retire(id string) error {
	e.mu.Lock()
	_, ok := e.vidhis[id]
	delete(e.vidhis, id)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if err := e.store.DeleteVidhi(id); err != nil {
		return fmt.Errorf("vidhi: retire %s: %w", id, err)
	}
	logging.Vidhi("retired vidhi %s", id)
	logging.Audit(logging.AuditEvent{EventType: logging.AuditVidhiRetired, Target: id, Success: true})
	return nil
}

// persist is the best-effort internal write path.
func (e *Engine) persist(v Vidhi) {
	if err := e.store.SaveVidhi(v); err != nil {
		logging.Get(logging.CategoryVidhi).Warn("persist %s failed: %v", v.ID, err)
	}
}
