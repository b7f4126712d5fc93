package core

import (
	"fmt"
	"time"
)

// Tier is the dispute resolution class selected by disputed amount.
type Tier int

const (
	// TierAutomatic covers amounts below TierTwoMinUSDC; resolved at the
	// contract level, not by this core.
	TierAutomatic Tier = iota
	// TierAIAssisted covers [TierTwoMinUSDC, TierThreeMinUSDC).
	TierAIAssisted
	// TierCommunity covers amounts >= TierThreeMinUSDC.
	TierCommunity
)

// Amount boundaries in micro-USDC (1 USDC = 1_000_000 micro-units).
const (
	TierTwoMinUSDC   uint64 = 10 * 1_000_000
	TierThreeMinUSDC uint64 = 1_000 * 1_000_000
)

// SelectTier classifies a disputed amount (micro-USDC) into a resolution
// tier.
func SelectTier(amountMicroUSDC uint64) Tier {
	switch {
	case amountMicroUSDC < TierTwoMinUSDC:
		return TierAutomatic
	case amountMicroUSDC < TierThreeMinUSDC:
		return TierAIAssisted
	default:
		return TierCommunity
	}
}

// formatUSD renders a micro-USDC amount as a dollar string for
// user-visible error text (e.g. "$5.00"), matching spec.md's error-message
// example.
func formatUSD(microUSDC uint64) string {
	return fmt.Sprintf("$%.2f", float64(microUSDC)/1_000_000)
}

// DisputeState is the tier-2 AI-assisted dispute lifecycle state.
type DisputeState int

const (
	StateAwaitingEvidence DisputeState = iota
	StateAnalyzing
	StateRuled
	StateAppealed
	StateResolved
)

func (s DisputeState) String() string {
	switch s {
	case StateAwaitingEvidence:
		return "AwaitingEvidence"
	case StateAnalyzing:
		return "Analyzing"
	case StateRuled:
		return "Ruled"
	case StateAppealed:
		return "Appealed"
	case StateResolved:
		return "Resolved"
	default:
		return "Unknown"
	}
}

// IsActive reports whether the dispute is still being worked, per spec's
// `get_active_disputes` definition.
func (s DisputeState) IsActive() bool {
	return s == StateAwaitingEvidence || s == StateAnalyzing
}

// EvidenceTag classifies a piece of submitted evidence.
type EvidenceTag int

const (
	EvidenceText EvidenceTag = iota
	EvidenceImage
	EvidenceLog
	EvidenceContract
	EvidenceCommunication
	EvidenceOther
)

// Evidence is a single piece of material a party submits toward a dispute.
type Evidence struct {
	ID           string
	Submitter    DID
	Tag          EvidenceTag
	OtherLabel   string // set when Tag == EvidenceOther
	Title        string
	Description  string
	DataURI      string
	SubmittedAt  time.Time
}

const (
	evidenceTitleMax       = 256
	evidenceDescriptionMax = 10 * 1024
)

func validateEvidenceContent(title, description string) error {
	if len(title) == 0 || len(title) > evidenceTitleMax {
		return ValidationErrorf("evidence title length %d out of range [1,%d]", len(title), evidenceTitleMax)
	}
	if len(description) == 0 || len(description) > evidenceDescriptionMax {
		return ValidationErrorf("evidence description length %d out of range [1,%d]", len(description), evidenceDescriptionMax)
	}
	return nil
}

// Ruling enumerates the outcomes of an AI or community ruling.
type Ruling int

const (
	RulingNone Ruling = iota
	RulingFavorClient
	RulingFavorProvider
	RulingSplit
)

// AIRuling is the outcome of automated evidence analysis.
type AIRuling struct {
	Decision       Ruling
	Confidence     float64
	Reasoning      string
	KeyFactors     []string
	RelevantEvidence []string
	RuledAt        time.Time
	AppealDeadline time.Time
}

const defaultAppealWindow = 72 * time.Hour

// Dispute is a tier-2 AI-assisted dispute record.
type Dispute struct {
	ID               string
	EscrowID         string
	Client           DID
	Provider         DID
	AmountMicroUSDC  uint64
	State            DisputeState
	ClientEvidence   []Evidence
	ProviderEvidence []Evidence
	Ruling           *AIRuling
	EscalatedTo      string // Kleros community dispute id, if appealed
	CreatedAt        time.Time
	EvidenceDeadline time.Time
}
