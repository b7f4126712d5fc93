package core

import "testing"

func validTestCard() *Card {
	return &Card{
		Name:        "weather-bot",
		Description: "reports weather",
		ServiceURL:  "https://weather.example.com",
		Capabilities: []Capability{
			{ID: "cap-1", Name: "get_forecast", Description: "returns a forecast"},
		},
		Extension: &AgentExtension{DID: DID("did:agoramesh:base:weather-bot")},
	}
}

func TestCardValidate(t *testing.T) {
	t.Run("valid card passes", func(t *testing.T) {
		c := validTestCard()
		if err := c.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})

	t.Run("missing extension rejected", func(t *testing.T) {
		c := validTestCard()
		c.Extension = nil
		if err := c.Validate(); err == nil {
			t.Fatal("expected error for missing agoraMesh extension")
		} else if KindOf(err) != KindValidation {
			t.Errorf("expected KindValidation, got %v", KindOf(err))
		}
	})

	t.Run("malformed extension did rejected", func(t *testing.T) {
		c := validTestCard()
		c.Extension.DID = DID("not-a-did")
		if err := c.Validate(); err == nil {
			t.Fatal("expected error for malformed extension did")
		}
	})
}

func TestCardDID(t *testing.T) {
	c := validTestCard()
	if c.DID() != DID("did:agoramesh:base:weather-bot") {
		t.Errorf("DID() = %q, want %q", c.DID(), "did:agoramesh:base:weather-bot")
	}
}

func TestCardDeclaredTrustScore(t *testing.T) {
	t.Run("nil extension yields zero", func(t *testing.T) {
		c := &Card{}
		if got := c.declaredTrustScore(); got != 0 {
			t.Errorf("declaredTrustScore() = %v, want 0", got)
		}
	})

	t.Run("nil trust score yields zero", func(t *testing.T) {
		c := validTestCard()
		if got := c.declaredTrustScore(); got != 0 {
			t.Errorf("declaredTrustScore() = %v, want 0", got)
		}
	})

	t.Run("present trust score is returned", func(t *testing.T) {
		c := validTestCard()
		score := 0.82
		c.Extension.TrustScore = &score
		if got := c.declaredTrustScore(); got != 0.82 {
			t.Errorf("declaredTrustScore() = %v, want 0.82", got)
		}
	})
}
