package core

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// dhtGetTimeout is how long Get waits for a DHT reply on a local-index miss.
const dhtGetTimeout = 10 * time.Second

// DiscoveryConfig tunes a Discovery index's search ranking.
type DiscoveryConfig struct {
	MinScore   float64
	MaxResults int
}

// DefaultDiscoveryConfig matches the reference defaults: no floor, a
// generous result cap.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{MinScore: 0, MaxResults: 50}
}

// Discovery maintains the local DID→Card index and, when a swarm and/or
// semantic indexer are wired, keeps it in sync with the network: registers
// publish a DHT put plus a pub/sub announcement, and misses on Get fall
// back to a DHT lookup with write-through on success. Grounded on the
// teacher's RWMutex-guarded map-keyed-by-id idiom in core/swarm.go and the
// publish-by-topic pattern in core/network.go.
type Discovery struct {
	mu    sync.RWMutex
	cards map[DID]*Card

	cfg      DiscoveryConfig
	swarm    SwarmChannel
	semantic SemanticIndexer
	hybrid   HybridSearcher

	log log.FieldLogger
}

// NewDiscovery builds a Discovery index. swarm, semantic, and hybrid may
// all be nil; each nil dependency degrades the corresponding operation
// gracefully rather than erroring.
func NewDiscovery(cfg DiscoveryConfig, swarm SwarmChannel, semantic SemanticIndexer, hybrid HybridSearcher) *Discovery {
	return &Discovery{
		cards:    make(map[DID]*Card),
		cfg:      cfg,
		swarm:    swarm,
		semantic: semantic,
		hybrid:   hybrid,
		log:      log.WithField("component", "discovery"),
	}
}

// Register validates card's DID, stores it in the local index, best-effort
// indexes it semantically, and (if a swarm is wired) publishes a DHT put
// keyed by the DID plus a discovery-topic announcement. A semantic indexer
// failure is logged but never fails registration; the DHT/pub-sub
// publishes race and their failures are likewise logged, not returned,
// since the local register has already succeeded.
func (d *Discovery) Register(card *Card) error {
	if err := card.Validate(); err != nil {
		return err
	}
	did := card.DID()

	d.mu.Lock()
	d.cards[did] = card
	d.mu.Unlock()

	if d.semantic != nil {
		if err := d.semantic.Index(did, card); err != nil {
			d.log.WithError(err).WithField("did", did).Warn("semantic indexing failed")
		}
	}

	if d.swarm != nil {
		payload, err := json.Marshal(card)
		if err != nil {
			d.log.WithError(err).Warn("marshal card for publish failed")
			return nil
		}
		if err := d.swarm.PutRecord(string(did), payload); err != nil {
			d.log.WithError(err).WithField("did", did).Warn("DHT put failed")
		}
		announcement, _ := json.Marshal(cardAnnouncement{Type: "card_announcement", Card: *card})
		if err := d.swarm.Publish(TopicDiscovery, announcement); err != nil {
			d.log.WithError(err).WithField("did", did).Warn("discovery announcement publish failed")
		}
	}

	return nil
}

// Get consults the local index first. On a miss, if a swarm is wired, it
// issues a DHT get with a 10-second timeout; a value that deserializes to a
// Card is written through into the local index and returned. Timeouts and
// deserialization failures report ok=false, matching the reference
// None-on-miss behavior.
func (d *Discovery) Get(did DID) (*Card, bool) {
	d.mu.RLock()
	card, ok := d.cards[did]
	d.mu.RUnlock()
	if ok {
		return card, true
	}

	if d.swarm == nil {
		return nil, false
	}

	value, found := GetRecordWithTimeout(d.swarm, string(did), dhtGetTimeout)
	if !found {
		return nil, false
	}
	var fetched Card
	if err := json.Unmarshal(value, &fetched); err != nil {
		d.log.WithError(err).WithField("did", did).Warn("DHT record did not deserialize to a card")
		return nil, false
	}

	d.mu.Lock()
	d.cards[did] = &fetched
	d.mu.Unlock()
	return &fetched, true
}

// Search uses the wired HybridSearcher if configured; otherwise it runs a
// case-insensitive keyword match over name, description, and capability
// names/descriptions, ranked by declared trust score descending (unknown
// scores treated as zero).
func (d *Discovery) Search(query string) []*Card {
	d.mu.RLock()
	candidates := make(map[DID]*Card, len(d.cards))
	for did, card := range d.cards {
		candidates[did] = card
	}
	d.mu.RUnlock()

	if d.hybrid != nil {
		ids := d.hybrid.Search(query, candidates, d.cfg.MinScore, d.cfg.MaxResults)
		out := make([]*Card, 0, len(ids))
		for _, id := range ids {
			if c, ok := candidates[id]; ok {
				out = append(out, c)
			}
		}
		return out
	}

	return keywordSearch(candidates, query)
}

// keywordSearch checks the whole lowercased query string as a substring of
// a card's name, description, or a single capability's name/description -
// never tokenized into words and never concatenated across fields.
// Grounded on original_source/node/src/discovery.rs's card_matches.
func keywordSearch(candidates map[DID]*Card, query string) []*Card {
	queryLower := strings.ToLower(query)
	matches := make([]*Card, 0, len(candidates))
	for _, card := range candidates {
		if cardMatches(queryLower, card) {
			matches = append(matches, card)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].declaredTrustScore() > matches[j].declaredTrustScore()
	})
	return matches
}

type discoveryRequestMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// RequestRegistryBroadcast publishes {"type":"discovery_request","timestamp"}
// on the discovery topic; replies arrive asynchronously through the normal
// message-handler path, not as a return value here.
func (d *Discovery) RequestRegistryBroadcast() error {
	if d.swarm == nil {
		return ConflictErrorf("discovery: no swarm configured")
	}
	payload, err := json.Marshal(discoveryRequestMessage{Type: "discovery_request", Timestamp: time.Now().Unix()})
	if err != nil {
		return wrapErr(KindExternal, err, "marshal discovery request")
	}
	return d.swarm.Publish(TopicDiscovery, payload)
}

// CacheSize returns the number of cards currently in the local index.
func (d *Discovery) CacheSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cards)
}
