package core

import (
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// MaxEndorsementHops is the farthest hop distance from the trust root
	// that still contributes to a score. Endorsements beyond this are kept
	// but always contribute zero.
	MaxEndorsementHops = 3
	// MaxEndorsementsCounted caps how many stored endorsements are walked
	// when computing the endorsement component of a score.
	MaxEndorsementsCounted = 10
	// ReferenceStake is the stake (in micro-units) that saturates the
	// stake component of the composite score.
	ReferenceStake = 10_000 * 1_000_000

	defaultWeightReputation  = 0.4
	defaultWeightStake       = 0.3
	defaultWeightEndorsement = 0.3

	anonymousEndorser = DID("did:agoramesh:base:anonymous")
)

// Endorsement is a one-way edge from an endorser DID to the trust record it
// is attached to, carrying the hop distance from the trust root.
type Endorsement struct {
	Endorser DID
	Hop      int
}

// Record is the in-memory trust state tracked for a single DID.
type Record struct {
	Stake          uint64
	Successes      uint64
	Failures       uint64
	LastActivity   int64 // unix seconds; 0 means "never"
	Endorsements   []Endorsement
}

// Score is the composite trust assessment returned by the engine.
type Score struct {
	Composite         float64
	Reputation        float64
	StakeScore        float64
	EndorsementScore  float64
}

// Weights configures how the three score components combine. They need not
// sum to 1 but default to (0.4, 0.3, 0.3) per spec.
type Weights struct {
	Reputation  float64
	Stake       float64
	Endorsement float64
}

// DefaultWeights returns the spec's default weighting.
func DefaultWeights() Weights {
	return Weights{Reputation: defaultWeightReputation, Stake: defaultWeightStake, Endorsement: defaultWeightEndorsement}
}

// OnchainTrustClient is the read-only interface to an external trust
// registry smart contract. The engine never writes through it.
type OnchainTrustClient interface {
	GetTrustScore(did DID) (int64, error)
}

// Engine is the trust scoring and bookkeeping service. It is safe for
// concurrent use: a single RWMutex guards the record map, matching the
// teacher's convention of one lock per logical shared map.
type Engine struct {
	mu      sync.RWMutex
	records map[DID]*Record
	weights Weights
	onchain OnchainTrustClient
	log     log.FieldLogger
	now     func() time.Time
}

// NewEngine constructs a trust engine with default weights. onchain may be
// nil if no registry client is wired.
func NewEngine(onchain OnchainTrustClient) *Engine {
	return &Engine{
		records: make(map[DID]*Record),
		weights: DefaultWeights(),
		onchain: onchain,
		log:     log.WithField("component", "trust"),
		now:     time.Now,
	}
}

// SetWeights overrides the default component weights.
func (e *Engine) SetWeights(w Weights) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = w
}

func (e *Engine) recordLocked(did DID) *Record {
	r, ok := e.records[did]
	if !ok {
		r = &Record{}
		e.records[did] = r
	}
	return r
}

// reputationOf computes the reputation component for a record snapshot at
// time now. n=0 yields 0; otherwise a volume-weighted base reputation is
// decayed by days since last activity, with new agents (no recorded
// activity) exempt from decay.
func reputationOf(r *Record, now time.Time) float64 {
	n := r.Successes + r.Failures
	if n == 0 {
		return 0
	}
	successRate := float64(r.Successes) / float64(n)
	volumeFactor := 0.5 + 0.5*math.Min(float64(n)/100.0, 1.0)
	base := successRate * volumeFactor

	daysSinceActivity := 0.0
	if r.LastActivity > 0 {
		elapsed := now.Sub(time.Unix(r.LastActivity, 0))
		daysSinceActivity = elapsed.Hours() / 24
		if daysSinceActivity < 0 {
			daysSinceActivity = 0
		}
	}
	decay := 1 - daysSinceActivity*0.05/14
	if decay < 0 {
		decay = 0
	}
	rep := base * decay
	return clamp01(rep)
}

func stakeScoreOf(stake uint64) float64 {
	s := math.Sqrt(float64(stake) / float64(ReferenceStake))
	if s > 1 {
		s = 1
	}
	return s
}

// endorsementScoreLocked walks up to MaxEndorsementsCounted endorsements in
// stored order, skipping any beyond MaxEndorsementHops, summing
// reputation(endorser)*0.9^hop, dividing by 3, capping at 1. Must be called
// with e.mu held (read or write).
func (e *Engine) endorsementScoreLocked(r *Record, now time.Time) float64 {
	var sum float64
	counted := 0
	for _, end := range r.Endorsements {
		if counted >= MaxEndorsementsCounted {
			break
		}
		if end.Hop > MaxEndorsementHops {
			continue
		}
		counted++
		endorserRep := 0.0
		if er, ok := e.records[end.Endorser]; ok {
			endorserRep = reputationOf(er, now)
		}
		sum += endorserRep * math.Pow(0.9, float64(end.Hop))
	}
	score := sum / 3.0
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// GetTrust computes the composite score for did. Unknown DIDs return a
// zero score without error (they simply have no trust record yet).
func (e *Engine) GetTrust(did DID) (Score, error) {
	if !did.Valid() {
		return Score{}, ValidationErrorf("get trust: did %q does not parse", did)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	r, ok := e.records[did]
	if !ok {
		return Score{}, nil
	}
	rep := reputationOf(r, now)
	stake := stakeScoreOf(r.Stake)
	endorse := e.endorsementScoreLocked(r, now)
	composite := clamp01(e.weights.Reputation*rep + e.weights.Stake*stake + e.weights.Endorsement*endorse)
	return Score{
		Composite:        composite,
		Reputation:       rep,
		StakeScore:       stake,
		EndorsementScore: endorse,
	}, nil
}

// RecordSuccess increments the success counter for did and marks it active
// now, resetting the decay timer.
func (e *Engine) RecordSuccess(did DID, amount uint64) error {
	if !did.Valid() {
		return ValidationErrorf("record success: did %q does not parse", did)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordLocked(did)
	r.Successes++
	r.LastActivity = e.now().Unix()
	e.log.WithField("did", did).WithField("amount", amount).Debug("recorded successful transaction")
	return nil
}

// RecordFailure increments the failure counter for did and marks it active
// now.
func (e *Engine) RecordFailure(did DID, reason string) error {
	if !did.Valid() {
		return ValidationErrorf("record failure: did %q does not parse", did)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordLocked(did)
	r.Failures++
	r.LastActivity = e.now().Unix()
	e.log.WithField("did", did).WithField("reason", reason).Warn("recorded failed transaction")
	return nil
}

// Endorse is the back-compat endorsement API. It validates did and weight
// but, by construction, records an anonymous hop-1 endorsement whose
// reputation is always zero - so weight does not affect scoring. This
// mirrors documented upstream behavior (see DESIGN.md Open Questions)
// rather than "fixing" it, since the back-compat contract is the point.
func (e *Engine) Endorse(target DID, weight float64) error {
	if !target.Valid() {
		return ValidationErrorf("endorse: did %q does not parse", target)
	}
	if weight < 0 || weight > 1 {
		return ValidationErrorf("endorse: weight %v out of range [0,1]", weight)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordLocked(target)
	r.Endorsements = append(r.Endorsements, Endorsement{Endorser: anonymousEndorser, Hop: 1})
	return nil
}

// AddEndorsementWithHop records a real endorsement from endorser to target
// at the given hop distance.
func (e *Engine) AddEndorsementWithHop(endorser, target DID, hop int) error {
	if !endorser.Valid() {
		return ValidationErrorf("add endorsement: endorser did %q does not parse", endorser)
	}
	if !target.Valid() {
		return ValidationErrorf("add endorsement: target did %q does not parse", target)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordLocked(target)
	r.Endorsements = append(r.Endorsements, Endorsement{Endorser: endorser, Hop: hop})
	return nil
}

// GetOnchainTrustScore returns the external registry's view of did's trust,
// or nil if no registry client is configured.
func (e *Engine) GetOnchainTrustScore(did DID) (*int64, error) {
	if e.onchain == nil {
		return nil, nil
	}
	score, err := e.onchain.GetTrustScore(did)
	if err != nil {
		return nil, wrapErr(KindExternal, err, "onchain trust lookup for %s", did)
	}
	return &score, nil
}

// SeedTrustData seeds raw counters for did, used on startup to restore
// state. A zero timestamp stamps the current time; a non-zero timestamp is
// used verbatim.
func (e *Engine) SeedTrustData(did DID, stake, successes, failures uint64, lastActivity time.Time) error {
	if !did.Valid() {
		return ValidationErrorf("seed trust: did %q does not parse", did)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.recordLocked(did)
	r.Stake = stake
	r.Successes = successes
	r.Failures = failures
	if lastActivity.IsZero() {
		r.LastActivity = e.now().Unix()
	} else {
		r.LastActivity = lastActivity.Unix()
	}
	return nil
}

// RecordFor returns a defensive copy of the raw record for did, or nil if
// none exists. Intended for introspection/tests, not scoring.
func (e *Engine) RecordFor(did DID) *Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.records[did]
	if !ok {
		return nil
	}
	cp := *r
	cp.Endorsements = append([]Endorsement(nil), r.Endorsements...)
	return &cp
}
