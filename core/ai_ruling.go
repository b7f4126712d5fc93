package core

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// RulingRequest is the payload sent to a remote AI-ruling backend: the
// dispute amount plus both parties' evidence, already flattened to plain
// strings so the remote model never needs this module's types.
type RulingRequest struct {
	DisputeID       string
	AmountMicroUSDC uint64
	ClientEvidence  []string
	ProviderEvidence []string
}

// RulingResponse is the remote backend's verdict, shaped to slot directly
// into an AIRuling.
type RulingResponse struct {
	Decision   Ruling
	Confidence float64
	Reasoning  string
	KeyFactors []string
}

// RemoteRulingClient is the minimal surface AIArbitrator needs from a
// remote AI-ruling backend. A real implementation wraps a generated gRPC
// client stub; this module ships only the thin dial wrapper below since no
// .proto definitions are in scope.
type RemoteRulingClient interface {
	Rule(ctx context.Context, req RulingRequest) (RulingResponse, error)
}

// GRPCRulingClient dials a remote ruling backend over gRPC. It implements
// RemoteRulingClient by delegating to a caller-supplied RemoteRulingClient
// built on top of the connection (e.g. a generated stub); GRPCRulingClient
// itself only owns the connection lifecycle, mirroring the teacher's
// InitAI dial-then-wrap pattern in core/ai.go.
type GRPCRulingClient struct {
	conn   *grpc.ClientConn
	client RemoteRulingClient
}

// DialGRPCRulingClient opens an insecure gRPC connection to endpoint and
// wraps it with newClient, which should construct a generated stub bound
// to conn and adapt it to RemoteRulingClient.
func DialGRPCRulingClient(endpoint string, newClient func(*grpc.ClientConn) RemoteRulingClient) (*GRPCRulingClient, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, wrapErr(KindTransport, err, "dial ruling backend")
	}
	return &GRPCRulingClient{conn: conn, client: newClient(conn)}, nil
}

// Rule delegates to the wrapped stub.
func (c *GRPCRulingClient) Rule(ctx context.Context, req RulingRequest) (RulingResponse, error) {
	return c.client.Rule(ctx, req)
}

// Close releases the underlying connection.
func (c *GRPCRulingClient) Close() error { return c.conn.Close() }

// rulingCallTimeout bounds how long RequestRulingRemote waits for the
// backend before falling back to the deterministic scoring path.
const rulingCallTimeout = 5 * time.Second

// RequestRulingRemote asks a wired remote ruling backend to rule on a
// dispute still in AwaitingEvidence or Analyzing (any other state is a
// KindConflict error), falling back to the deterministic
// evidence-weight scoring in RequestRuling when remote is nil or the call
// fails. This gives AIArbitrator an optional, resilience-wrapped escape
// hatch to a model-backed ruling without making the deterministic path
// depend on network availability.
func (a *AIArbitrator) RequestRulingRemote(disputeID string, remote RemoteRulingClient) (*AIRuling, error) {
	if remote == nil {
		return a.RequestRuling(disputeID)
	}

	a.mu.RLock()
	d, ok := a.disputes[disputeID]
	var state DisputeState
	if ok {
		state = d.State
	}
	a.mu.RUnlock()
	if !ok {
		return nil, NotFoundErrorf("dispute %s not found", disputeID)
	}
	if state != StateAwaitingEvidence && state != StateAnalyzing {
		return nil, ConflictErrorf("dispute %q: ruling requires Analyzing, got %s", disputeID, state)
	}

	ctx, cancel := context.WithTimeout(context.Background(), rulingCallTimeout)
	defer cancel()

	req := RulingRequest{
		DisputeID:        disputeID,
		AmountMicroUSDC:  d.AmountMicroUSDC,
		ClientEvidence:   evidenceDescriptions(d.ClientEvidence),
		ProviderEvidence: evidenceDescriptions(d.ProviderEvidence),
	}
	resp, err := remote.Rule(ctx, req)
	if err != nil {
		a.log.WithError(err).WithField("dispute_id", disputeID).Warn("remote ruling failed, falling back to local scoring")
		return a.RequestRuling(disputeID)
	}

	ruling := &AIRuling{
		Decision:       resp.Decision,
		Confidence:     clamp01(resp.Confidence),
		Reasoning:      resp.Reasoning,
		KeyFactors:     resp.KeyFactors,
		RelevantEvidence: evidenceIDs(d.ClientEvidence, d.ProviderEvidence),
		RuledAt:        a.now(),
		AppealDeadline: a.now().Add(defaultAppealWindow),
	}

	a.mu.Lock()
	d.State = StateRuled
	d.Ruling = ruling
	a.mu.Unlock()

	return ruling, nil
}

func evidenceDescriptions(items []Evidence) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.Description
	}
	return out
}
