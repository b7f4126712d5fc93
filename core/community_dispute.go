package core

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is the tier-3 community dispute lifecycle state. Transitions
// are monotonic: Evidence -> Commit -> Reveal -> Completed -> Appeal, and a
// second Advance from Appeal is an error.
type SessionState int

const (
	SessionEvidence SessionState = iota
	SessionCommit
	SessionReveal
	SessionCompleted
	SessionAppeal
)

func (s SessionState) String() string {
	switch s {
	case SessionEvidence:
		return "Evidence"
	case SessionCommit:
		return "Commit"
	case SessionReveal:
		return "Reveal"
	case SessionCompleted:
		return "Completed"
	case SessionAppeal:
		return "Appeal"
	default:
		return "Unknown"
	}
}

// Vote is a single juror's commit-reveal ballot.
type Vote struct {
	Juror         DID
	Choice        Ruling
	Justification string
	Timestamp     time.Time
	Revealed      bool
	Commitment    [32]byte
}

// CommitDigest computes H(choice || nonce || salt) the way a juror client
// is expected to, for callers that want to build a commitment off-process.
// The state machine itself does not require verification (see spec.md
// §4.3); implementations SHOULD verify it, which VerifyReveal below does.
func CommitDigest(choice Ruling, nonce, salt []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{byte(choice)})
	h.Write(nonce)
	h.Write(salt)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyReveal checks a revealed choice/nonce/salt against a stored
// commitment digest.
func VerifyReveal(commitment [32]byte, choice Ruling, nonce, salt []byte) bool {
	return CommitDigest(choice, nonce, salt) == commitment
}

// CoherenceResult is a single juror's signed basis-point settlement for a
// completed session: positive for coherent voters, negative for
// incoherent ones, absent for non-revealers.
type CoherenceResult = int64

// Session is a tier-3 community dispute's voting record.
type Session struct {
	DisputeID       string
	Jurors          []DID
	Votes           map[DID]*Vote
	State           SessionState
	RequiredVotes   int
	EvidenceDeadline time.Time
	CommitDeadline  time.Time
	RevealDeadline  time.Time
	FinalRuling     *Ruling
	Coherence       map[DID]CoherenceResult
}

// CommunityConfig bundles the deadlines and stake-at-risk rate for tier-3
// disputes.
type CommunityConfig struct {
	EvidencePeriod  time.Duration // default 24h
	CommitPeriod    time.Duration // default 12h
	RevealPeriod    time.Duration // default 12h
	StakeAtRiskBps  int64
}

// DefaultCommunityConfig returns spec.md's defaults.
func DefaultCommunityConfig() CommunityConfig {
	return CommunityConfig{EvidencePeriod: 24 * time.Hour, CommitPeriod: 12 * time.Hour, RevealPeriod: 12 * time.Hour, StakeAtRiskBps: 500}
}

// CommunityArbitrator owns tier-3 community dispute sessions: selection,
// commit, reveal, completion, and coherence settlement against the juror
// pool.
type CommunityArbitrator struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	jurors   *Pool
	cfg      CommunityConfig
	now      func() time.Time
}

// NewCommunityArbitrator builds a tier-3 arbitrator backed by pool.
func NewCommunityArbitrator(pool *Pool, cfg CommunityConfig) *CommunityArbitrator {
	return &CommunityArbitrator{sessions: make(map[string]*Session), jurors: pool, cfg: cfg, now: time.Now}
}

// CreateSession selects jurorCount jurors for court via the pool's
// stake-weighted selection and opens a new voting session.
func (c *CommunityArbitrator) CreateSession(disputeID, court string, jurorCount int, seed uint64) (*Session, error) {
	jurors, err := c.jurors.Select(court, jurorCount, seed)
	if err != nil {
		return nil, err
	}
	now := c.now()
	s := &Session{
		DisputeID:        disputeID,
		Jurors:           jurors,
		Votes:            make(map[DID]*Vote),
		State:            SessionEvidence,
		RequiredVotes:    jurorCount,
		EvidenceDeadline: now.Add(c.cfg.EvidencePeriod),
		CommitDeadline:   now.Add(c.cfg.EvidencePeriod + c.cfg.CommitPeriod),
		RevealDeadline:   now.Add(c.cfg.EvidencePeriod + c.cfg.CommitPeriod + c.cfg.RevealPeriod),
		Coherence:        make(map[DID]CoherenceResult),
	}
	c.mu.Lock()
	c.sessions[disputeID] = s
	c.mu.Unlock()
	return s, nil
}

func (c *CommunityArbitrator) isJuror(s *Session, did DID) bool {
	for _, j := range s.Jurors {
		if j == did {
			return true
		}
	}
	return false
}

// AdvanceToCommit moves a session from Evidence to Commit.
func (c *CommunityArbitrator) AdvanceToCommit(disputeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[disputeID]
	if !ok {
		return NotFoundErrorf("session %q not found", disputeID)
	}
	if s.State != SessionEvidence {
		return ConflictErrorf("session %q: advance-to-commit requires Evidence, got %s", disputeID, s.State)
	}
	s.State = SessionCommit
	return nil
}

// Commit records juror's opaque commitment digest while the session is in
// the Commit state. Each juror may commit exactly once.
func (c *CommunityArbitrator) Commit(disputeID string, juror DID, commitment [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[disputeID]
	if !ok {
		return NotFoundErrorf("session %q not found", disputeID)
	}
	if s.State != SessionCommit {
		return ConflictErrorf("session %q: commit requires Commit state, got %s", disputeID, s.State)
	}
	if !c.isJuror(s, juror) {
		return ValidationErrorf("session %q: %q is not a selected juror", disputeID, juror)
	}
	if _, exists := s.Votes[juror]; exists {
		return ConflictErrorf("session %q: juror %q has already committed", disputeID, juror)
	}
	s.Votes[juror] = &Vote{Juror: juror, Choice: RulingNone, Commitment: commitment}
	return nil
}

// AdvanceToReveal moves a session from Commit to Reveal.
func (c *CommunityArbitrator) AdvanceToReveal(disputeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[disputeID]
	if !ok {
		return NotFoundErrorf("session %q not found", disputeID)
	}
	if s.State != SessionCommit {
		return ConflictErrorf("session %q: advance-to-reveal requires Commit, got %s", disputeID, s.State)
	}
	s.State = SessionReveal
	return nil
}

// Reveal records juror's choice and justification while the session is in
// the Reveal state. Digest verification is the caller's responsibility
// (see VerifyReveal); the state machine only enforces "had committed, has
// not yet revealed."
func (c *CommunityArbitrator) Reveal(disputeID string, juror DID, choice Ruling, justification string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[disputeID]
	if !ok {
		return NotFoundErrorf("session %q not found", disputeID)
	}
	if s.State != SessionReveal {
		return ConflictErrorf("session %q: reveal requires Reveal state, got %s", disputeID, s.State)
	}
	v, exists := s.Votes[juror]
	if !exists {
		return ConflictErrorf("session %q: juror %q has no prior commit", disputeID, juror)
	}
	if v.Revealed {
		return ConflictErrorf("session %q: juror %q has already revealed", disputeID, juror)
	}
	v.Choice = choice
	v.Justification = justification
	v.Timestamp = c.now()
	v.Revealed = true
	return nil
}

// finalRuling computes the plurality of revealed votes. Ties are broken
// deterministically by preferring, among the tied rulings, the one held by
// the juror with the longest case history (CasesTotal); if that is still
// tied, the lowest Ruling enum ordinal wins. This tie-break is an explicit
// implementation choice (spec.md permits any deterministic rule).
func (c *CommunityArbitrator) finalRuling(s *Session) *Ruling {
	counts := make(map[Ruling]int)
	longestHistory := make(map[Ruling]uint64)
	any := false
	for _, v := range s.Votes {
		if !v.Revealed {
			continue
		}
		any = true
		counts[v.Choice]++
		if j, err := c.jurors.Get(v.Juror); err == nil {
			if j.CasesTotal > longestHistory[v.Choice] {
				longestHistory[v.Choice] = j.CasesTotal
			}
		}
	}
	if !any {
		return nil
	}

	var best Ruling
	bestCount := -1
	bestHistory := uint64(0)
	first := true
	for r := RulingNone; r <= RulingSplit; r++ {
		n, ok := counts[r]
		if !ok {
			continue
		}
		switch {
		case first || n > bestCount:
			best, bestCount, bestHistory, first = r, n, longestHistory[r], false
		case n == bestCount:
			if longestHistory[r] > bestHistory || (longestHistory[r] == bestHistory && r < best) {
				best, bestHistory = r, longestHistory[r]
			}
		}
	}
	return &best
}

// Complete advances Reveal -> Completed, computing the final ruling and
// running Schelling-point coherence settlement. A second Advance call from
// Appeal is rejected.
func (c *CommunityArbitrator) Complete(disputeID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[disputeID]
	if !ok {
		return nil, NotFoundErrorf("session %q not found", disputeID)
	}
	if s.State != SessionReveal {
		return nil, ConflictErrorf("session %q: complete requires Reveal, got %s", disputeID, s.State)
	}

	final := c.finalRuling(s)
	s.FinalRuling = final
	s.State = SessionCompleted

	if final != nil {
		c.settleCoherence(s, *final)
	}
	for _, j := range s.Jurors {
		c.jurors.ReturnToActive(j)
	}
	return s, nil
}

// settleCoherence redistributes stake-at-risk basis points between
// coherent and incoherent revealed voters per spec.md's Schelling-point
// rule, and applies the per-juror results to the pool.
func (c *CommunityArbitrator) settleCoherence(s *Session, final Ruling) {
	var coherentCount, incoherentCount int64
	for _, v := range s.Votes {
		if !v.Revealed {
			continue
		}
		if v.Choice == final {
			coherentCount++
		} else {
			incoherentCount++
		}
	}

	slashPerIncoherent := c.cfg.StakeAtRiskBps
	var rewardPerCoherent int64
	if coherentCount > 0 && incoherentCount > 0 {
		rewardPerCoherent = (incoherentCount * slashPerIncoherent) / coherentCount
	}

	for _, v := range s.Votes {
		if !v.Revealed {
			continue
		}
		coherent := v.Choice == final
		if coherent {
			s.Coherence[v.Juror] = rewardPerCoherent
		} else {
			s.Coherence[v.Juror] = -slashPerIncoherent
		}
		ratio := 0.0
		if coherentCount+incoherentCount > 0 {
			ratio = float64(coherentCount) / float64(coherentCount+incoherentCount)
		}
		c.jurors.ApplyCoherenceResult(v.Juror, coherent, ratio)
	}
}

// Appeal transitions Completed -> Appeal, the one allowed slot for
// escalating a community verdict further (e.g. to an external Kleros
// court). A second call from Appeal is an error.
func (c *CommunityArbitrator) Appeal(disputeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[disputeID]
	if !ok {
		return NotFoundErrorf("session %q not found", disputeID)
	}
	if s.State != SessionCompleted {
		return ConflictErrorf("session %q: appeal requires Completed, got %s", disputeID, s.State)
	}
	s.State = SessionAppeal
	return nil
}

// GetSession returns a defensive copy of the session, or NotFound.
func (c *CommunityArbitrator) GetSession(disputeID string) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[disputeID]
	if !ok {
		return nil, NotFoundErrorf("session %q not found", disputeID)
	}
	cp := *s
	cp.Jurors = append([]DID(nil), s.Jurors...)
	cp.Votes = make(map[DID]*Vote, len(s.Votes))
	for k, v := range s.Votes {
		vv := *v
		cp.Votes[k] = &vv
	}
	cp.Coherence = make(map[DID]CoherenceResult, len(s.Coherence))
	for k, v := range s.Coherence {
		cp.Coherence[k] = v
	}
	return &cp, nil
}

// NewSessionID mints an opaque id for a dispute not already tracked by the
// caller's own id scheme (e.g. when a tier-2 dispute escalates to a fresh
// community session rather than reusing its own id).
func NewSessionID() string { return uuid.New().String() }
