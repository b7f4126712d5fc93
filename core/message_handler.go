package core

import (
	"encoding/json"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Topic names the handler routes by.
const (
	TopicDiscovery = "agoramesh/discovery/1.0.0"
	TopicCapability = "agoramesh/capability/1.0.0"
	TopicTrust      = "agoramesh/trust/1.0.0"
	TopicDisputes   = "agoramesh/disputes/1.0.0"
)

// clockSkewGrace is the 5-minute future-timestamp allowance spec.md grants
// for clock skew across peers.
const clockSkewGrace = 300 * time.Second

// trustUpdateDeviationCeiling is the largest absolute difference between a
// claimed and locally computed trust score before a TrustUpdate is
// rejected for an agent with meaningful history.
const trustUpdateDeviationCeiling = 0.20

// envelope peeks the discriminant tag shared by every message shape on
// every topic, mirroring the "type" tag the teacher's wire messages use.
type envelope struct {
	Type string `json:"type"`
}

// HandlerStats are the atomic counters the handler maintains for
// observability.
type HandlerStats struct {
	Received     atomic.Uint64
	Processed    atomic.Uint64
	ParseErrors  atomic.Uint64
	Discovery    atomic.Uint64
	Trust        atomic.Uint64
	Dispute      atomic.Uint64
	Unknown      atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of HandlerStats suitable for logging or
// an admin query surface.
type StatsSnapshot struct {
	Received, Processed, ParseErrors, Discovery, Trust, Dispute, Unknown uint64
}

func (s *HandlerStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:    s.Received.Load(),
		Processed:   s.Processed.Load(),
		ParseErrors: s.ParseErrors.Load(),
		Discovery:   s.Discovery.Load(),
		Trust:       s.Trust.Load(),
		Dispute:     s.Dispute.Load(),
		Unknown:     s.Unknown.Load(),
	}
}

// Services bundles the peer services the handler routes validated messages
// into. Trust and Arbitrator may be nil; Discovery should always be set.
type Services struct {
	Discovery  *Discovery
	Trust      *Engine
	Arbitrator *AIArbitrator
}

// Handler is the sole writer that translates external pub/sub messages
// into calls on Discovery, Trust, and Arbitrator. It owns all validation;
// downstream components assume well-formed input.
type Handler struct {
	svc   Services
	stats HandlerStats
	log   log.FieldLogger
	now   func() time.Time
}

// NewHandler builds a message handler bound to svc.
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc, log: log.WithField("component", "message_handler"), now: time.Now}
}

// Stats returns a snapshot of the handler's counters.
func (h *Handler) Stats() StatsSnapshot { return h.stats.Snapshot() }

// HandleMessage routes a raw message payload by topic. Parse errors and
// validation failures increment counters and are returned as KindTransport
// or KindValidation CoreErrors respectively; the handler never panics.
func (h *Handler) HandleMessage(topic string, payload []byte) error {
	h.stats.Received.Add(1)

	switch topic {
	case TopicDiscovery:
		h.stats.Discovery.Add(1)
		return h.handleDiscovery(payload)
	case TopicCapability:
		h.stats.Discovery.Add(1)
		return h.handleCapability(payload)
	case TopicTrust:
		h.stats.Trust.Add(1)
		return h.handleTrust(payload)
	case TopicDisputes:
		h.stats.Dispute.Add(1)
		return h.handleDispute(payload)
	default:
		h.stats.Unknown.Add(1)
		h.log.WithField("topic", topic).Warn("message on unknown topic")
		return nil
	}
}

func (h *Handler) parseErr(err error, context string) error {
	h.stats.ParseErrors.Add(1)
	h.log.WithError(err).Warn(context)
	return wrapErr(KindTransport, err, context)
}

func (h *Handler) validTimestamp(ts int64) error {
	if time.Unix(ts, 0).After(h.now().Add(clockSkewGrace)) {
		return ValidationErrorf("timestamp %d is more than %s in the future", ts, clockSkewGrace)
	}
	return nil
}

// --- discovery topic -------------------------------------------------

type cardAnnouncement struct {
	Type string `json:"type"`
	Card Card   `json:"card"`
}

type discoveryRequest struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleDiscovery(payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		// Backward compatibility: a raw CapabilityCard has no "type" tag
		// at all but is still valid JSON, so this branch only fires for
		// genuinely malformed bytes.
		return h.parseErr(err, "discovery message: invalid JSON")
	}

	switch env.Type {
	case "card_announcement":
		var msg cardAnnouncement
		if err := json.Unmarshal(payload, &msg); err != nil {
			return h.parseErr(err, "discovery message: invalid card_announcement")
		}
		return h.registerCard(&msg.Card)
	case "discovery_request":
		var msg discoveryRequest
		if err := json.Unmarshal(payload, &msg); err != nil {
			return h.parseErr(err, "discovery message: invalid discovery_request")
		}
		if err := h.validTimestamp(msg.Timestamp); err != nil {
			return err
		}
		h.stats.Processed.Add(1)
		return nil
	case "":
		// Legacy wire format: a raw card with no discriminant tag.
		var card Card
		if err := json.Unmarshal(payload, &card); err != nil {
			return h.parseErr(err, "discovery message: not a recognized shape")
		}
		return h.registerCard(&card)
	default:
		return h.parseErr(ValidationErrorf("discovery message: unrecognized type %q", env.Type), "discovery message")
	}
}

func (h *Handler) handleCapability(payload []byte) error {
	var card Card
	if err := json.Unmarshal(payload, &card); err != nil {
		return h.parseErr(err, "capability message: invalid card")
	}
	return h.registerCard(&card)
}

func (h *Handler) registerCard(card *Card) error {
	if err := card.Validate(); err != nil {
		h.log.WithError(err).Warn("rejected invalid capability card")
		return err
	}
	if h.svc.Discovery == nil {
		return nil
	}
	if err := h.svc.Discovery.Register(card); err != nil {
		return err
	}
	h.stats.Processed.Add(1)
	return nil
}

// --- trust topic -------------------------------------------------------

type trustUpdate struct {
	Type       string  `json:"type"`
	DID        string  `json:"did"`
	TrustScore float64 `json:"trust_score"`
	Timestamp  int64   `json:"timestamp"`
}

type reputationEvent struct {
	Type      string `json:"type"`
	DID       string `json:"did"`
	Success   bool   `json:"success"`
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

const reputationFailureReason = "reputation_event:failure"

func (h *Handler) handleTrust(payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return h.parseErr(err, "trust message: invalid JSON")
	}
	switch env.Type {
	case "trust_update":
		var msg trustUpdate
		if err := json.Unmarshal(payload, &msg); err != nil {
			return h.parseErr(err, "trust message: invalid trust_update")
		}
		return h.handleTrustUpdate(msg)
	case "reputation_event":
		var msg reputationEvent
		if err := json.Unmarshal(payload, &msg); err != nil {
			return h.parseErr(err, "trust message: invalid reputation_event")
		}
		return h.handleReputationEvent(msg)
	default:
		return h.parseErr(ValidationErrorf("trust message: unrecognized type %q", env.Type), "trust message")
	}
}

func (h *Handler) handleTrustUpdate(msg trustUpdate) error {
	did := DID(msg.DID)
	if !did.Valid() {
		return ValidationErrorf("trust_update: did %q does not parse", msg.DID)
	}
	if msg.TrustScore < 0 || msg.TrustScore > 1 {
		return ValidationErrorf("trust_update: score %v out of range [0,1]", msg.TrustScore)
	}
	if err := h.validTimestamp(msg.Timestamp); err != nil {
		return err
	}

	if h.svc.Trust != nil {
		if rec := h.svc.Trust.RecordFor(did); rec != nil && rec.Successes+rec.Failures > 0 {
			local, err := h.svc.Trust.GetTrust(did)
			if err == nil {
				deviation := msg.TrustScore - local.Composite
				if deviation < 0 {
					deviation = -deviation
				}
				if deviation > trustUpdateDeviationCeiling {
					return ValidationErrorf("trust_update: claimed score %v deviates %v from local %v for %s", msg.TrustScore, deviation, local.Composite, did)
				}
			}
		}
	}
	h.stats.Processed.Add(1)
	return nil
}

func (h *Handler) handleReputationEvent(msg reputationEvent) error {
	did := DID(msg.DID)
	if !did.Valid() {
		return ValidationErrorf("reputation_event: did %q does not parse", msg.DID)
	}
	if err := h.validTimestamp(msg.Timestamp); err != nil {
		return err
	}
	if h.svc.Trust != nil {
		var err error
		if msg.Success {
			err = h.svc.Trust.RecordSuccess(did, msg.Amount)
		} else {
			err = h.svc.Trust.RecordFailure(did, reputationFailureReason)
		}
		if err != nil {
			return err
		}
	}
	h.stats.Processed.Add(1)
	return nil
}

// --- disputes topic ------------------------------------------------

type createDispute struct {
	Type        string `json:"type"`
	EscrowID    string `json:"escrow_id"`
	ClientDID   string `json:"client_did"`
	ProviderDID string `json:"provider_did"`
	AmountUSDC  uint64 `json:"amount_usdc"`
	Timestamp   int64  `json:"timestamp"`
}

type submitEvidence struct {
	Type         string `json:"type"`
	DisputeID    string `json:"dispute_id"`
	SubmitterDID string `json:"submitter_did"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Timestamp    int64  `json:"timestamp"`
}

type disputeStatus struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleDispute(payload []byte) error {
	if h.svc.Arbitrator == nil {
		return ConflictErrorf("disputes: no arbitrator configured")
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return h.parseErr(err, "dispute message: invalid JSON")
	}
	switch env.Type {
	case "create_dispute":
		var msg createDispute
		if err := json.Unmarshal(payload, &msg); err != nil {
			return h.parseErr(err, "dispute message: invalid create_dispute")
		}
		if err := h.validTimestamp(msg.Timestamp); err != nil {
			return err
		}
		if _, err := h.svc.Arbitrator.CreateDispute(msg.EscrowID, DID(msg.ClientDID), DID(msg.ProviderDID), msg.AmountUSDC); err != nil {
			return err
		}
		h.stats.Processed.Add(1)
		return nil
	case "submit_evidence":
		var msg submitEvidence
		if err := json.Unmarshal(payload, &msg); err != nil {
			return h.parseErr(err, "dispute message: invalid submit_evidence")
		}
		if err := h.validTimestamp(msg.Timestamp); err != nil {
			return err
		}
		if err := validateEvidenceContent(msg.Title, msg.Description); err != nil {
			return err
		}
		err := h.svc.Arbitrator.SubmitEvidence(msg.DisputeID, Evidence{
			Submitter:   DID(msg.SubmitterDID),
			Tag:         EvidenceText,
			Title:       msg.Title,
			Description: msg.Description,
		})
		if err != nil {
			return err
		}
		h.stats.Processed.Add(1)
		return nil
	case "dispute_status":
		var msg disputeStatus
		if err := json.Unmarshal(payload, &msg); err != nil {
			return h.parseErr(err, "dispute message: invalid dispute_status")
		}
		if err := h.validTimestamp(msg.Timestamp); err != nil {
			return err
		}
		if _, err := h.svc.Arbitrator.GetDispute(msg.DisputeID); err != nil {
			return err
		}
		h.stats.Processed.Add(1)
		return nil
	default:
		return h.parseErr(ValidationErrorf("dispute message: unrecognized type %q", env.Type), "dispute message")
	}
}
