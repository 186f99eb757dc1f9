package relay

import (
	"sync"

	"github.com/sippy/Sippy-Recorder/internal/config"
	log "github.com/sirupsen/logrus"
)

// Static is a relay client that assigns ports from a fixed range on a fixed
// address and never refuses a negotiation. It backs lab deployments and
// tests; production deployments plug a control-channel client implementing
// Client instead.
type Static struct {
	cfg config.StaticRelay

	mu       sync.Mutex
	nextPort int
}

var _ Client = (*Static)(nil)

func NewStatic(cfg config.StaticRelay) *Static {
	return &Static{cfg: cfg, nextPort: cfg.MinPort}
}

func (s *Static) NewSession(callID, fromTag, toTag string) (Session, error) {
	return &staticSession{client: s, callID: callID}, nil
}

func (s *Static) Check() error { return nil }

func (s *Static) Close() error { return nil }

func (s *Static) allocPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	port := s.nextPort
	s.nextPort += 2
	if s.cfg.MaxPort > 0 && s.nextPort > s.cfg.MaxPort {
		s.nextPort = s.cfg.MinPort
	}
	return port
}

type staticSession struct {
	client *Static
	callID string

	mu      sync.Mutex
	deleted bool
	ports   map[legIndex]int
}

type legIndex struct {
	leg   Leg
	index int
}

var _ Session = (*staticSession)(nil)

func (ss *staticSession) SetSourceAddress(addr string) {}

func (ss *staticSession) Update(leg Leg, index int, remoteAddr string, remotePort int, cb UpdateCallback) {
	ss.mu.Lock()
	if ss.deleted {
		ss.mu.Unlock()
		go cb(index, nil)
		return
	}
	if ss.ports == nil {
		ss.ports = make(map[legIndex]int)
	}
	key := legIndex{leg: leg, index: index}
	port, ok := ss.ports[key]
	if !ok {
		port = ss.client.allocPort()
		ss.ports[key] = port
	}
	addr := ss.client.cfg.Address
	ss.mu.Unlock()

	log.WithField("call", ss.callID).
		Debugf("static relay: %s leg section %d -> %s:%d", leg, index, addr, port)

	go cb(index, &UpdateResult{Address: addr, Port: port})
}

func (ss *staticSession) StartRecording(index int, cb RecordCallback) {
	go cb(index, nil)
}

func (ss *staticSession) Delete() {
	ss.mu.Lock()
	ss.deleted = true
	ss.mu.Unlock()
}
