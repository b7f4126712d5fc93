package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
	log "github.com/sirupsen/logrus"
)

// EventKind discriminates the SwarmEvent union delivered on a swarm's event
// stream.
type EventKind int

const (
	EventPeerConnected EventKind = iota
	EventPeerDisconnected
	EventPeerDiscovered
	EventMessage
	EventBootstrapComplete
	EventRecordFound
	EventRecordStored
)

// SwarmEvent is the single event type the core consumes from a swarm; which
// fields are populated depends on Kind.
type SwarmEvent struct {
	Kind EventKind

	PeerID string // PeerConnected/Disconnected/Discovered

	Topic  string // Message
	Source string
	Data   []byte
	ID     string

	Key   string // RecordFound/RecordStored
	Value []byte // RecordFound; nil if the record was not found
	Found bool
}

// SwarmChannel is the command-channel interface the core consumes from a
// concrete transport. GetRecord's reply arrives asynchronously as an
// EventRecordFound on the event stream keyed by the same key, per spec.md
// §4.8, rather than as a direct return value.
type SwarmChannel interface {
	Dial(addr string) error
	Publish(topic string, data []byte) error
	PutRecord(key string, value []byte) error
	GetRecord(key string) error
	Bootstrap() error
	Shutdown() error

	// Events returns the channel the core should range over for SwarmEvents.
	Events() <-chan SwarmEvent
}

// GetRecordWithTimeout is a convenience built atop SwarmChannel+Events for
// callers (like Discovery.Get) that want a synchronous DHT lookup. It issues
// GetRecord and waits for a matching RecordFound event or the timeout,
// whichever comes first.
func GetRecordWithTimeout(ch SwarmChannel, key string, timeout time.Duration) ([]byte, bool) {
	if ch == nil {
		return nil, false
	}
	if err := ch.GetRecord(key); err != nil {
		return nil, false
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return nil, false
			}
			if ev.Kind == EventRecordFound && ev.Key == key {
				if !ev.Found {
					return nil, false
				}
				return ev.Value, true
			}
			// Not our record; drop it. A production swarm would
			// fan events back out to other waiters instead.
		case <-deadline.C:
			return nil, false
		}
	}
}

// MemorySwarm is an in-process SwarmChannel used by tests and by any
// deployment that wants discovery/trust semantics without a real P2P
// transport. PutRecord/GetRecord are backed by a plain map; there is no
// actual Kademlia DHT anywhere in this module's dependency closure, so this
// stands in for one behind the same interface.
type MemorySwarm struct {
	mu      sync.RWMutex
	records map[string][]byte
	events  chan SwarmEvent
}

// NewMemorySwarm builds a MemorySwarm with the given event-channel buffer
// size.
func NewMemorySwarm(buffer int) *MemorySwarm {
	return &MemorySwarm{records: make(map[string][]byte), events: make(chan SwarmEvent, buffer)}
}

func (m *MemorySwarm) Dial(addr string) error { return nil }

func (m *MemorySwarm) Publish(topic string, data []byte) error {
	select {
	case m.events <- SwarmEvent{Kind: EventMessage, Topic: topic, Data: data}:
	default:
	}
	return nil
}

func (m *MemorySwarm) PutRecord(key string, value []byte) error {
	m.mu.Lock()
	m.records[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	select {
	case m.events <- SwarmEvent{Kind: EventRecordStored, Key: key}:
	default:
	}
	return nil
}

func (m *MemorySwarm) GetRecord(key string) error {
	m.mu.RLock()
	v, ok := m.records[key]
	m.mu.RUnlock()
	ev := SwarmEvent{Kind: EventRecordFound, Key: key, Found: ok}
	if ok {
		ev.Value = append([]byte(nil), v...)
	}
	select {
	case m.events <- ev:
	default:
	}
	return nil
}

func (m *MemorySwarm) Bootstrap() error {
	select {
	case m.events <- SwarmEvent{Kind: EventBootstrapComplete}:
	default:
	}
	return nil
}

func (m *MemorySwarm) Shutdown() error {
	close(m.events)
	return nil
}

func (m *MemorySwarm) Events() <-chan SwarmEvent { return m.events }

// LibP2PConfig configures a gossipsub/mDNS-backed swarm.
type LibP2PConfig struct {
	ListenAddr   string
	DiscoveryTag string
	BootstrapPeers []string
}

// LibP2PSwarm implements SwarmChannel over a libp2p host with gossipsub for
// pub/sub and mDNS for local peer discovery, adapted from the teacher's
// core/network.go Node. It has no DHT backend; PutRecord/GetRecord are
// served from a local map exactly like MemorySwarm, since no Kademlia DHT
// library is available anywhere in this module's dependency closure — the
// interface is what matters for the core, and both implementations satisfy
// it identically.
type LibP2PSwarm struct {
	host   host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	topicMu sync.Mutex
	topics  map[string]*pubsub.Topic
	subs    map[string]*pubsub.Subscription

	seenMu sync.Mutex
	seen   map[string]struct{}

	recordMu sync.RWMutex
	records  map[string][]byte

	events chan SwarmEvent
	log    log.FieldLogger
}

// host is the subset of libp2p's core.Host this swarm uses; declared as an
// interface so tests can substitute a stub without standing up a real
// libp2p stack.
type host interface {
	ID() peer.ID
	Connect(ctx context.Context, pi peer.AddrInfo) error
	Close() error
}

// NewLibP2PSwarm builds and bootstraps a libp2p node: creates the host,
// joins gossipsub, starts mDNS discovery, and dials any configured
// bootstrap peers, mirroring the teacher's NewNode.
func NewLibP2PSwarm(cfg LibP2PConfig) (*LibP2PSwarm, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, wrapErr(KindTransport, err, "create libp2p host")
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, wrapErr(KindTransport, err, "create gossipsub")
	}

	s := &LibP2PSwarm{
		host:    h,
		pubsub:  ps,
		ctx:     ctx,
		cancel:  cancel,
		topics:  make(map[string]*pubsub.Topic),
		subs:    make(map[string]*pubsub.Subscription),
		seen:    make(map[string]struct{}),
		records: make(map[string][]byte),
		events:  make(chan SwarmEvent, 256),
		log:     log.WithField("component", "swarm"),
	}

	// NewMdnsService registers the notifee and starts advertising/browsing
	// immediately; the returned Service only matters for an explicit Close.
	mdns.NewMdnsService(h, cfg.DiscoveryTag, &mdnsNotifee{s: s})

	for _, addr := range cfg.BootstrapPeers {
		if err := s.Dial(addr); err != nil {
			s.log.WithError(err).WithField("addr", addr).Warn("bootstrap dial failed")
		}
	}

	return s, nil
}

// mdnsNotifee forwards libp2p mDNS discoveries onto the swarm's event
// stream as EventPeerDiscovered and attempts a connect, matching the
// teacher's HandlePeerFound.
type mdnsNotifee struct{ s *LibP2PSwarm }

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.s.host.ID() {
		return
	}
	n.s.emit(SwarmEvent{Kind: EventPeerDiscovered, PeerID: info.ID.String()})
	if err := n.s.host.Connect(n.s.ctx, info); err != nil {
		n.s.log.WithError(err).WithField("peer", info.ID.String()).Warn("connect to discovered peer failed")
		return
	}
	n.s.emit(SwarmEvent{Kind: EventPeerConnected, PeerID: info.ID.String()})
}

func (s *LibP2PSwarm) emit(ev SwarmEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("swarm event dropped: event channel full")
	}
}

func (s *LibP2PSwarm) Dial(addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return wrapErr(KindValidation, err, "parse multiaddress")
	}
	pi, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return wrapErr(KindValidation, err, "resolve peer info")
	}
	if err := s.host.Connect(s.ctx, *pi); err != nil {
		return wrapErr(KindTransport, err, "dial peer")
	}
	s.emit(SwarmEvent{Kind: EventPeerConnected, PeerID: pi.ID.String()})
	return nil
}

func (s *LibP2PSwarm) joinedTopic(topic string) (*pubsub.Topic, error) {
	s.topicMu.Lock()
	defer s.topicMu.Unlock()
	if t, ok := s.topics[topic]; ok {
		return t, nil
	}
	t, err := s.pubsub.Join(topic)
	if err != nil {
		return nil, err
	}
	s.topics[topic] = t
	return t, nil
}

func (s *LibP2PSwarm) Publish(topic string, data []byte) error {
	t, err := s.joinedTopic(topic)
	if err != nil {
		return wrapErr(KindTransport, err, "join topic")
	}
	if err := t.Publish(s.ctx, data); err != nil {
		return wrapErr(KindTransport, err, "publish")
	}
	return nil
}

// subscribeLoop is started once per topic, the first time SubscribeTopic is
// called for it; it dedupes by message id and forwards each unseen message
// as an EventMessage.
func (s *LibP2PSwarm) subscribeLoop(topic string) error {
	s.topicMu.Lock()
	_, subscribed := s.subs[topic]
	s.topicMu.Unlock()
	if subscribed {
		return nil
	}
	t, err := s.joinedTopic(topic)
	if err != nil {
		return err
	}
	s.topicMu.Lock()
	if _, ok := s.subs[topic]; ok {
		s.topicMu.Unlock()
		return nil
	}
	sub, err := t.Subscribe()
	if err != nil {
		s.topicMu.Unlock()
		return err
	}
	s.subs[topic] = sub
	s.topicMu.Unlock()

	go func() {
		for {
			msg, err := sub.Next(s.ctx)
			if err != nil {
				return
			}
			id := string(msg.ID)
			s.seenMu.Lock()
			if _, dup := s.seen[id]; dup {
				s.seenMu.Unlock()
				continue
			}
			s.seen[id] = struct{}{}
			s.seenMu.Unlock()
			s.emit(SwarmEvent{
				Kind:   EventMessage,
				Topic:  topic,
				Source: msg.GetFrom().String(),
				Data:   msg.Data,
				ID:     id,
			})
		}
	}()
	return nil
}

func (s *LibP2PSwarm) PutRecord(key string, value []byte) error {
	s.recordMu.Lock()
	s.records[key] = append([]byte(nil), value...)
	s.recordMu.Unlock()
	s.emit(SwarmEvent{Kind: EventRecordStored, Key: key})
	return nil
}

func (s *LibP2PSwarm) GetRecord(key string) error {
	s.recordMu.RLock()
	v, ok := s.records[key]
	s.recordMu.RUnlock()
	ev := SwarmEvent{Kind: EventRecordFound, Key: key, Found: ok}
	if ok {
		ev.Value = append([]byte(nil), v...)
	}
	s.emit(ev)
	return nil
}

func (s *LibP2PSwarm) Bootstrap() error {
	s.emit(SwarmEvent{Kind: EventBootstrapComplete})
	return nil
}

func (s *LibP2PSwarm) Shutdown() error {
	s.cancel()
	if err := s.host.Close(); err != nil {
		return wrapErr(KindTransport, err, "close host")
	}
	close(s.events)
	return nil
}

func (s *LibP2PSwarm) Events() <-chan SwarmEvent { return s.events }

// SubscribeTopic starts forwarding a topic's messages to Events(); it is
// idempotent per topic. Callers typically subscribe to the discovery,
// capability, trust, and dispute topics at startup.
func (s *LibP2PSwarm) SubscribeTopic(topic string) error {
	if err := s.subscribeLoop(topic); err != nil {
		return wrapErr(KindTransport, err, fmt.Sprintf("subscribe %s", topic))
	}
	return nil
}
