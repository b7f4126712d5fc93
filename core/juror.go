package core

import (
	"sync"
	"time"
)

// JurorStatus is the lifecycle state of a registered juror.
type JurorStatus int

const (
	JurorActive JurorStatus = iota
	JurorServing
	JurorInactive
	JurorSlashed
)

// Juror is a stake-backed participant eligible for community jury duty.
type Juror struct {
	DID             DID
	Stake           uint64
	Status          JurorStatus
	EligibleCourts  []string
	Reputation      float64
	CasesTotal      uint64
	CasesCoherent   uint64
	RegisteredAt    time.Time
	LastActiveAt    time.Time
}

const (
	minJurorReputation = 0.1
	maxJurorReputation = 1.0
)

// JurorPoolConfig bundles the tunables the pool needs.
type JurorPoolConfig struct {
	MinStakeUSDC      uint64
	MaxEffectiveStake uint64
}

// Pool manages juror registration, stake, status, and stake-weighted
// random selection for community disputes.
type Pool struct {
	mu     sync.RWMutex
	jurors map[DID]*Juror
	cfg    JurorPoolConfig
	now    func() time.Time
}

// NewPool constructs a juror pool.
func NewPool(cfg JurorPoolConfig) *Pool {
	return &Pool{jurors: make(map[DID]*Juror), cfg: cfg, now: time.Now}
}

// Register enrolls a new juror. Duplicate DIDs and stakes below the
// configured minimum are rejected.
func (p *Pool) Register(did DID, stake uint64, courts []string) error {
	if !did.Valid() {
		return ValidationErrorf("register juror: did %q does not parse", did)
	}
	if stake < p.cfg.MinStakeUSDC {
		return ValidationErrorf("register juror: stake %d below minimum %d", stake, p.cfg.MinStakeUSDC)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.jurors[did]; exists {
		return ConflictErrorf("register juror: %q already registered", did)
	}
	now := p.now()
	p.jurors[did] = &Juror{
		DID:            did,
		Stake:          stake,
		Status:         JurorActive,
		EligibleCourts: append([]string(nil), courts...),
		Reputation:     maxJurorReputation,
		RegisteredAt:   now,
		LastActiveAt:   now,
	}
	return nil
}

// UpdateStake changes a registered juror's stake, re-applying the pool
// minimum.
func (p *Pool) UpdateStake(did DID, stake uint64) error {
	if stake < p.cfg.MinStakeUSDC {
		return ValidationErrorf("update stake: stake %d below minimum %d", stake, p.cfg.MinStakeUSDC)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jurors[did]
	if !ok {
		return NotFoundErrorf("update stake: juror %q not found", did)
	}
	j.Stake = stake
	return nil
}

// SetStatus transitions a juror to a new status.
func (p *Pool) SetStatus(did DID, status JurorStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jurors[did]
	if !ok {
		return NotFoundErrorf("set status: juror %q not found", did)
	}
	j.Status = status
	j.LastActiveAt = p.now()
	return nil
}

// Get returns a defensive copy of the juror record.
func (p *Pool) Get(did DID) (*Juror, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	j, ok := p.jurors[did]
	if !ok {
		return nil, NotFoundErrorf("juror %q not found", did)
	}
	cp := *j
	cp.EligibleCourts = append([]string(nil), j.EligibleCourts...)
	return &cp, nil
}

func (p *Pool) effectiveStake(j *Juror) uint64 {
	eff := uint64(float64(j.Stake) * j.Reputation)
	if p.cfg.MaxEffectiveStake > 0 && eff > p.cfg.MaxEffectiveStake {
		return p.cfg.MaxEffectiveStake
	}
	return eff
}

// eligible returns the jurors that are Active and serve the given court,
// sorted by DID so the order does not depend on Go's map iteration.
func (p *Pool) eligible(court string) []*Juror {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Juror
	for _, j := range p.jurors {
		if j.Status != JurorActive {
			continue
		}
		for _, c := range j.EligibleCourts {
			if c == court {
				cp := *j
				out = append(out, &cp)
				break
			}
		}
	}
	// Sort by DID so the same registered set always produces the same
	// candidate ordering for a given seed, independent of Go's randomized
	// map iteration. This is required for the selection algorithm's
	// "walk the eligible list" step to be reproducible.
	sortJurorsByDID(out)
	return out
}

func sortJurorsByDID(js []*Juror) {
	for i := 1; i < len(js); i++ {
		for j := i; j > 0 && js[j].DID < js[j-1].DID; j-- {
			js[j], js[j-1] = js[j-1], js[j]
		}
	}
}

const lcgMultiplier = 6364136223846793005

// Select runs the stake-weighted, seed-deterministic selection algorithm
// described in spec.md §4.4: a non-cryptographic LCG walk over cumulative
// effective stake, with a deterministic fallback fill on collision.
// Selected jurors transition Active -> Serving.
func (p *Pool) Select(court string, count int, seed uint64) ([]DID, error) {
	candidates := p.eligible(court)
	if len(candidates) < count {
		return nil, ValidationErrorf("select jurors: need %d eligible jurors for court %q, have %d", count, court, len(candidates))
	}

	stakes := make([]uint64, len(candidates))
	var total uint64
	for i, j := range candidates {
		stakes[i] = p.effectiveStake(j)
		total += stakes[i]
	}
	if total == 0 {
		return nil, ValidationErrorf("select jurors: total effective stake for court %q is zero", court)
	}

	selected := make(map[int]bool, count)
	order := make([]int, 0, count)
	rng := seed
	for len(order) < count {
		rng = rng*lcgMultiplier + 1
		target := rng % total
		var cum uint64
		picked := -1
		for i, s := range stakes {
			cum += s
			if cum > target && !selected[i] {
				picked = i
				break
			}
		}
		if picked == -1 {
			break // collision exhausted this draw; fall through to deterministic fill
		}
		selected[picked] = true
		order = append(order, picked)
	}

	if len(order) < count {
		for i := range candidates {
			if len(order) >= count {
				break
			}
			if !selected[i] {
				selected[i] = true
				order = append(order, i)
			}
		}
	}

	dids := make([]DID, 0, count)
	p.mu.Lock()
	for _, idx := range order {
		did := candidates[idx].DID
		dids = append(dids, did)
		if j, ok := p.jurors[did]; ok {
			j.Status = JurorServing
		}
	}
	p.mu.Unlock()
	return dids, nil
}

// ReturnToActive transitions a juror back to Active, used when a session
// finalizes.
func (p *Pool) ReturnToActive(did DID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if j, ok := p.jurors[did]; ok && j.Status == JurorServing {
		j.Status = JurorActive
		j.LastActiveAt = p.now()
	}
}

// ApplyCoherenceResult updates a juror's case counters and recomputed
// reputation after a community dispute's Schelling-point settlement.
func (p *Pool) ApplyCoherenceResult(did DID, coherent bool, coherenceRatio float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jurors[did]
	if !ok {
		return
	}
	j.CasesTotal++
	if coherent {
		j.CasesCoherent++
	}
	j.Status = JurorActive
	j.LastActiveAt = p.now()
	j.Reputation = clamp(0.9*coherenceRatio+0.1, minJurorReputation, maxJurorReputation)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
