package core

// Capability describes a single function an agent exposes.
type Capability struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
	OutputSchema any   `json:"outputSchema,omitempty"`
}

// PaymentMethod is a payment rail a card's provider accepts.
type PaymentMethod string

// PricingModel describes how a capability is billed.
type PricingModel struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Unit     string  `json:"unit,omitempty"`
}

// AgentExtension is the AgoraMesh-specific block a card must carry for this
// mesh to treat it as a valid capability card.
type AgentExtension struct {
	DID              DID             `json:"did"`
	TrustScore       *float64        `json:"trustScore,omitempty"`
	StakeAmount      *uint64         `json:"stakeAmount,omitempty"`
	Pricing          *PricingModel   `json:"pricing,omitempty"`
	AcceptedPayments []PaymentMethod `json:"acceptedPayments,omitempty"`
}

// AuthScheme describes how a client authenticates against a card's service.
type AuthScheme struct {
	Type   string `json:"type"`
	Scheme string `json:"scheme,omitempty"`
}

// Card is an agent's self-published capability description.
type Card struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	ServiceURL   string       `json:"serviceUrl"`
	Provider     string       `json:"provider,omitempty"`
	Capabilities []Capability `json:"capabilities"`
	Auth         *AuthScheme  `json:"auth,omitempty"`
	Extension    *AgentExtension `json:"agoraMesh"`
}

// Validate checks that the card carries a well-formed AgoraMesh extension,
// per spec: a card is only valid if the extension is present and its DID
// parses.
func (c *Card) Validate() error {
	if c.Extension == nil {
		return ValidationErrorf("card %q: missing agoraMesh extension", c.Name)
	}
	if !c.Extension.DID.Valid() {
		return ValidationErrorf("card %q: extension did %q does not parse", c.Name, c.Extension.DID)
	}
	return nil
}

// DID returns the DID carried by the card's extension.
func (c *Card) DID() DID { return c.Extension.DID }

// declaredTrustScore returns the card's self-reported trust score, treating
// an absent score as zero for ranking purposes.
func (c *Card) declaredTrustScore() float64 {
	if c.Extension == nil || c.Extension.TrustScore == nil {
		return 0
	}
	return *c.Extension.TrustScore
}
