package draw

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"proctordraw/pkg/types"
)

// Options configures an Engine.
type Options struct {
	// Seed feeds the PCG generator. Zero seeds from the clock.
	Seed uint64
	// NamePolicy defaults to CaseInsensitive.
	NamePolicy NamePolicy
	// Now defaults to time.Now and drives proctor ids.
	Now func() time.Time
}

// Engine picks one unfilled slot uniformly at random and binds a claimant
// to it. An Engine is not safe for concurrent use.
type Engine struct {
	rng    *rand.Rand
	ids    *IDGenerator
	policy NamePolicy
}

// NewEngine creates an engine from opts.
func NewEngine(opts Options) *Engine {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	policy := opts.NamePolicy
	if policy == "" {
		policy = CaseInsensitive
	}
	return &Engine{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ids:    NewIDGenerator(opts.Now),
		policy: policy,
	}
}

// Policy returns the engine's name matching policy.
func (e *Engine) Policy() NamePolicy {
	return e.policy
}

// Draw binds name to a random available slot of roster and returns the
// bound assignment. The roster is mutated in place only on success.
func (e *Engine) Draw(roster types.Roster, name string) (types.Assignment, error) {
	claimant, err := types.NormalizeClaimantName(name)
	if err != nil {
		return types.Assignment{}, err
	}

	if existing, ok := roster.FindBound(e.policy.Matcher(claimant)); ok {
		return types.Assignment{}, fmt.Errorf("%w: %q holds %s", types.ErrAlreadyDrawn, claimant, existing.Key())
	}

	available := roster.Available()
	if len(available) == 0 {
		return types.Assignment{}, types.ErrNoSlotsAvailable
	}

	chosen := available[e.rng.IntN(len(available))]
	// Other instances bind into the same roster, so ids must also exceed
	// every id already stored there.
	proctor := types.Proctor{ID: e.ids.NextAfter(roster.MaxProctorID()), Name: claimant}

	return roster.Bind(chosen.Key(), proctor)
}

// IDGenerator issues time-derived proctor ids that strictly increase even
// when several are requested within the same millisecond.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator creates a generator reading now, or time.Now when nil.
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Next returns the next id.
func (g *IDGenerator) Next() int64 {
	return g.NextAfter(0)
}

// NextAfter returns the next id, strictly greater than floor.
func (g *IDGenerator) NextAfter(floor int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	if id <= floor {
		id = floor + 1
	}
	g.last = id
	return id
}
