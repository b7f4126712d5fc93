package core

import (
	"strings"
	"testing"
	"time"
)

const (
	testClient   = DID("did:agoramesh:base:client")
	testProvider = DID("did:agoramesh:base:provider")
)

func newTestArbitrator() *AIArbitrator {
	return NewAIArbitrator(DefaultArbitratorConfig(), nil)
}

func TestSelectTier(t *testing.T) {
	tests := []struct {
		amount uint64
		want   Tier
	}{
		{0, TierAutomatic},
		{TierTwoMinUSDC - 1, TierAutomatic},
		{TierTwoMinUSDC, TierAIAssisted},
		{TierThreeMinUSDC - 1, TierAIAssisted},
		{TierThreeMinUSDC, TierCommunity},
		{TierThreeMinUSDC * 10, TierCommunity},
	}
	for _, tt := range tests {
		if got := SelectTier(tt.amount); got != tt.want {
			t.Errorf("SelectTier(%d) = %v, want %v", tt.amount, got, tt.want)
		}
	}
}

func TestCreateDisputeRejectsAutomaticTier(t *testing.T) {
	a := newTestArbitrator()
	_, err := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC-1)
	if err == nil {
		t.Fatal("expected error for below-tier-2 amount")
	}
	if !strings.Contains(err.Error(), "Tier 2 minimum") {
		t.Errorf("error = %q, want mention of Tier 2 minimum", err.Error())
	}
}

func TestCreateDisputeRejectsCommunityTier(t *testing.T) {
	a := newTestArbitrator()
	_, err := a.CreateDispute("escrow-1", testClient, testProvider, TierThreeMinUSDC)
	if err == nil {
		t.Fatal("expected error for tier-3 amount")
	}
	if !strings.Contains(err.Error(), "Tier 3 minimum") {
		t.Errorf("error = %q, want mention of Tier 3 minimum", err.Error())
	}
}

func TestCreateDisputeRejectsMalformedDIDs(t *testing.T) {
	a := newTestArbitrator()
	if _, err := a.CreateDispute("escrow-1", DID("bad"), testProvider, TierTwoMinUSDC); err == nil {
		t.Error("expected error for malformed client did")
	}
	if _, err := a.CreateDispute("escrow-1", testClient, DID("bad"), TierTwoMinUSDC); err == nil {
		t.Error("expected error for malformed provider did")
	}
}

func TestCreateDisputeHappyPath(t *testing.T) {
	a := newTestArbitrator()
	id, err := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if err != nil {
		t.Fatalf("CreateDispute() err = %v", err)
	}
	d, err := a.GetDispute(id)
	if err != nil {
		t.Fatalf("GetDispute() err = %v", err)
	}
	if d.State != StateAwaitingEvidence {
		t.Errorf("State = %v, want AwaitingEvidence", d.State)
	}
	if d.Client != testClient || d.Provider != testProvider {
		t.Errorf("dispute parties = (%v, %v), want (%v, %v)", d.Client, d.Provider, testClient, testProvider)
	}
}

func mkEvidence(submitter DID, tag EvidenceTag, title, description string) Evidence {
	return Evidence{Submitter: submitter, Tag: tag, Title: title, Description: description}
}

func TestSubmitEvidence(t *testing.T) {
	a := newTestArbitrator()
	id, err := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if err != nil {
		t.Fatalf("CreateDispute() err = %v", err)
	}

	t.Run("client evidence accepted and assigned an id", func(t *testing.T) {
		err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceText, "title", "description"))
		if err != nil {
			t.Fatalf("SubmitEvidence() err = %v", err)
		}
		d, _ := a.GetDispute(id)
		if len(d.ClientEvidence) != 1 || d.ClientEvidence[0].ID == "" {
			t.Errorf("ClientEvidence = %+v, want one entry with an id", d.ClientEvidence)
		}
	})

	t.Run("unknown submitter rejected", func(t *testing.T) {
		err := a.SubmitEvidence(id, mkEvidence(DID("did:agoramesh:base:stranger"), EvidenceText, "t", "d"))
		if err == nil {
			t.Fatal("expected error for non-party submitter")
		}
	})

	t.Run("empty title rejected", func(t *testing.T) {
		err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceText, "", "description"))
		if err == nil {
			t.Fatal("expected error for empty title")
		}
	})

	t.Run("unknown dispute rejected", func(t *testing.T) {
		err := a.SubmitEvidence("nonexistent", mkEvidence(testClient, EvidenceText, "t", "d"))
		if err == nil || KindOf(err) != KindNotFound {
			t.Fatalf("err = %v, want KindNotFound", err)
		}
	})
}

func TestSubmitEvidenceCapPerParty(t *testing.T) {
	cfg := ArbitratorConfig{EvidencePeriod: 48 * time.Hour, MaxEvidencePerParty: 2}
	a := NewAIArbitrator(cfg, nil)
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)

	for i := 0; i < 2; i++ {
		if err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceText, "t", "d")); err != nil {
			t.Fatalf("SubmitEvidence() err = %v", err)
		}
	}
	if err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceText, "t", "d")); err == nil {
		t.Fatal("expected cap-reached error on third submission")
	}
}

func TestSubmitEvidenceAfterDeadlineRejected(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	a.now = func() time.Time { return time.Now().Add(49 * time.Hour) }
	err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceText, "t", "d"))
	if err == nil || KindOf(err) != KindConflict {
		t.Fatalf("err = %v, want KindConflict after deadline", err)
	}
}

func TestSubmitEvidenceAfterCloseRejected(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if err := a.CloseEvidencePeriod(id); err != nil {
		t.Fatalf("CloseEvidencePeriod() err = %v", err)
	}
	if err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceText, "t", "d")); err == nil {
		t.Fatal("expected error submitting evidence after close")
	}
}

func TestCloseEvidencePeriodTwiceIsConflict(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if err := a.CloseEvidencePeriod(id); err != nil {
		t.Fatalf("CloseEvidencePeriod() err = %v", err)
	}
	if err := a.CloseEvidencePeriod(id); err == nil {
		t.Fatal("expected conflict on second close")
	}
}

func TestRequestRulingFavorsStrongerEvidence(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	// Contract (3.0) + Log (2.5) = 5.5 for the client; nothing for the provider.
	if err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceContract, "t", "d")); err != nil {
		t.Fatalf("SubmitEvidence() err = %v", err)
	}
	if err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceLog, "t", "d")); err != nil {
		t.Fatalf("SubmitEvidence() err = %v", err)
	}

	ruling, err := a.RequestRuling(id)
	if err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	if ruling.Decision != RulingFavorClient {
		t.Errorf("Decision = %v, want RulingFavorClient", ruling.Decision)
	}
	wantConfidence := 0.75 + 0.05*5.5
	if wantConfidence > maxRulingConfidence {
		wantConfidence = maxRulingConfidence
	}
	if !almostEqual(ruling.Confidence, wantConfidence) {
		t.Errorf("Confidence = %v, want %v", ruling.Confidence, wantConfidence)
	}
	if len(ruling.RelevantEvidence) != 2 {
		t.Errorf("RelevantEvidence = %v, want 2 ids", ruling.RelevantEvidence)
	}

	d, _ := a.GetDispute(id)
	if d.State != StateRuled {
		t.Errorf("State = %v, want Ruled", d.State)
	}
}

func TestRequestRulingFavorsProvider(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if err := a.SubmitEvidence(id, mkEvidence(testProvider, EvidenceContract, "t", "d")); err != nil {
		t.Fatalf("SubmitEvidence() err = %v", err)
	}
	ruling, err := a.RequestRuling(id)
	if err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	if ruling.Decision != RulingFavorProvider {
		t.Errorf("Decision = %v, want RulingFavorProvider", ruling.Decision)
	}
}

func TestRequestRulingSplitsOnComparableEvidence(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceText, "t", "d")); err != nil {
		t.Fatalf("SubmitEvidence() err = %v", err)
	}
	if err := a.SubmitEvidence(id, mkEvidence(testProvider, EvidenceText, "t", "d")); err != nil {
		t.Fatalf("SubmitEvidence() err = %v", err)
	}
	ruling, err := a.RequestRuling(id)
	if err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	if ruling.Decision != RulingSplit {
		t.Errorf("Decision = %v, want RulingSplit (comparable scores)", ruling.Decision)
	}
	wantConfidence := 0.60 + 0.02*1.0
	if !almostEqual(ruling.Confidence, wantConfidence) {
		t.Errorf("Confidence = %v, want %v", ruling.Confidence, wantConfidence)
	}
}

func TestRequestRulingConfidenceCapsAtMax(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	for i := 0; i < 10; i++ {
		if err := a.SubmitEvidence(id, mkEvidence(testClient, EvidenceContract, "t", "d")); err != nil {
			t.Fatalf("SubmitEvidence() err = %v", err)
		}
	}
	ruling, err := a.RequestRuling(id)
	if err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	if ruling.Confidence != maxRulingConfidence {
		t.Errorf("Confidence = %v, want capped at %v", ruling.Confidence, maxRulingConfidence)
	}
}

func TestRequestRulingClosesAwaitingEvidenceAutomatically(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if _, err := a.RequestRuling(id); err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	d, _ := a.GetDispute(id)
	if d.State != StateRuled {
		t.Errorf("State = %v, want Ruled", d.State)
	}
}

func TestRequestRulingOnAlreadyRuledIsConflict(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if _, err := a.RequestRuling(id); err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	if _, err := a.RequestRuling(id); err == nil || KindOf(err) != KindConflict {
		t.Fatalf("err = %v, want KindConflict on second ruling", err)
	}
}

type stubKlerosClient struct {
	choices     uint64
	cost        uint64
	costErr     error
	klerosID    string
	createErr   error
	gotURI      string
	gotMinStake uint64
}

func (s *stubKlerosClient) ArbitrationCost() (uint64, uint64, error) {
	return s.choices, s.cost, s.costErr
}

func (s *stubKlerosClient) CreateDispute(evidenceURI string, choices uint64, costMicroUSDC uint64, minStakeMicroUSDC uint64) (string, error) {
	s.gotURI = evidenceURI
	s.gotMinStake = minStakeMicroUSDC
	return s.klerosID, s.createErr
}

func TestAppealHappyPath(t *testing.T) {
	kleros := &stubKlerosClient{choices: 3, cost: 50_000_000, klerosID: "kleros-42"}
	a := NewAIArbitrator(DefaultArbitratorConfig(), kleros)
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if _, err := a.RequestRuling(id); err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	klerosID, err := a.Appeal(id)
	if err != nil {
		t.Fatalf("Appeal() err = %v", err)
	}
	if klerosID != "kleros-42" {
		t.Errorf("Appeal() = %q, want %q", klerosID, "kleros-42")
	}
	d, _ := a.GetDispute(id)
	if d.State != StateAppealed || d.EscalatedTo != "kleros-42" {
		t.Errorf("dispute after appeal = %+v", d)
	}
	if !strings.Contains(kleros.gotURI, id) {
		t.Errorf("evidence URI %q should reference dispute id %q", kleros.gotURI, id)
	}
	if want := calculateMinKlerosStake(TierTwoMinUSDC); kleros.gotMinStake != want {
		t.Errorf("gotMinStake = %d, want %d", kleros.gotMinStake, want)
	}
}

func TestAppealRequiresRuled(t *testing.T) {
	kleros := &stubKlerosClient{klerosID: "kleros-1"}
	a := NewAIArbitrator(DefaultArbitratorConfig(), kleros)
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if _, err := a.Appeal(id); err == nil || KindOf(err) != KindConflict {
		t.Fatalf("err = %v, want KindConflict for non-Ruled dispute", err)
	}
}

func TestAppealRequiresKlerosClient(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if _, err := a.RequestRuling(id); err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	if _, err := a.Appeal(id); err == nil {
		t.Fatal("expected error appealing with no Kleros client configured")
	}
}

func TestAppealRejectsAfterDeadline(t *testing.T) {
	kleros := &stubKlerosClient{klerosID: "kleros-1"}
	a := NewAIArbitrator(DefaultArbitratorConfig(), kleros)
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if _, err := a.RequestRuling(id); err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	a.now = func() time.Time { return time.Now().Add(defaultAppealWindow + time.Hour) }
	if _, err := a.Appeal(id); err == nil || KindOf(err) != KindConflict {
		t.Fatalf("err = %v, want KindConflict past appeal deadline", err)
	}
}

func TestAppealWrapsKlerosArbitrationCostError(t *testing.T) {
	kleros := &stubKlerosClient{costErr: ValidationErrorf("kleros unavailable")}
	a := NewAIArbitrator(DefaultArbitratorConfig(), kleros)
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if _, err := a.RequestRuling(id); err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	if _, err := a.Appeal(id); err == nil || KindOf(err) != KindExternal {
		t.Fatalf("err = %v, want KindExternal wrapping the kleros cost failure", err)
	}
}

func TestAppealWrapsKlerosCreateDisputeError(t *testing.T) {
	kleros := &stubKlerosClient{choices: 3, cost: 1, createErr: ValidationErrorf("kleros create failed")}
	a := NewAIArbitrator(DefaultArbitratorConfig(), kleros)
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	if _, err := a.RequestRuling(id); err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	if _, err := a.Appeal(id); err == nil || KindOf(err) != KindExternal {
		t.Fatalf("err = %v, want KindExternal wrapping the kleros create-dispute failure", err)
	}
}

func TestResolve(t *testing.T) {
	a := newTestArbitrator()
	id, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)

	if err := a.Resolve(id); err == nil {
		t.Fatal("expected error resolving before a ruling exists")
	}
	if _, err := a.RequestRuling(id); err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}
	if err := a.Resolve(id); err != nil {
		t.Fatalf("Resolve() err = %v", err)
	}
	d, _ := a.GetDispute(id)
	if d.State != StateResolved {
		t.Errorf("State = %v, want Resolved", d.State)
	}
	if err := a.Resolve(id); err == nil {
		t.Fatal("expected conflict resolving an already-resolved dispute")
	}
}

func TestGetActiveDisputes(t *testing.T) {
	a := newTestArbitrator()
	activeID, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	ruledID, _ := a.CreateDispute("escrow-2", testClient, testProvider, TierTwoMinUSDC)
	if _, err := a.RequestRuling(ruledID); err != nil {
		t.Fatalf("RequestRuling() err = %v", err)
	}

	active := a.GetActiveDisputes()
	if len(active) != 1 || active[0].ID != activeID {
		t.Errorf("GetActiveDisputes() = %+v, want only %q", active, activeID)
	}
}

func TestGetDisputesByParty(t *testing.T) {
	a := newTestArbitrator()
	id1, _ := a.CreateDispute("escrow-1", testClient, testProvider, TierTwoMinUSDC)
	other := DID("did:agoramesh:base:other-client")
	id2, _ := a.CreateDispute("escrow-2", other, testProvider, TierTwoMinUSDC)

	clientDisputes := a.GetDisputesByParty(testClient)
	if len(clientDisputes) != 1 || clientDisputes[0].ID != id1 {
		t.Errorf("GetDisputesByParty(client) = %+v, want only %q", clientDisputes, id1)
	}
	providerDisputes := a.GetDisputesByParty(testProvider)
	ids := map[string]bool{}
	for _, d := range providerDisputes {
		ids[d.ID] = true
	}
	if !ids[id1] || !ids[id2] || len(providerDisputes) != 2 {
		t.Errorf("GetDisputesByParty(provider) = %+v, want both disputes", providerDisputes)
	}
}

func TestCalculateMinKlerosStake(t *testing.T) {
	tests := []struct {
		amount uint64
		want   uint64
	}{
		{1_000 * 1_000_000, 100 * 1_000_000},    // 10% = floor exactly
		{500 * 1_000_000, 100 * 1_000_000},      // 10% below floor, floor wins
		{5_000 * 1_000_000, 500 * 1_000_000},    // 10% above floor, 10% wins
	}
	for _, tt := range tests {
		if got := calculateMinKlerosStake(tt.amount); got != tt.want {
			t.Errorf("calculateMinKlerosStake(%d) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}
