package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sippy/Sippy-Recorder/internal/appstats"
	"github.com/sippy/Sippy-Recorder/internal/config"
	"github.com/sippy/Sippy-Recorder/internal/pubsub"
	"github.com/sippy/Sippy-Recorder/internal/pubsub/events"
	"github.com/sippy/Sippy-Recorder/internal/relay"
	"github.com/sippy/Sippy-Recorder/internal/sig"
	"github.com/sippy/Sippy-Recorder/internal/srs"
	log "github.com/sirupsen/logrus"
)

// Server owns the set of live calls: it creates a call handler per inbound
// setup, tracks it by call id, and removes it exactly when the handler
// reaches its terminated state.
type Server struct {
	cfg      *config.Config
	pubsub   pubsub.PubSub
	relays   relay.Client
	topology srs.Topology
	encoder  *srs.AnswerEncoder

	mu    sync.Mutex
	calls map[string]*srs.Call
}

var _ srs.Monitor = (*Server)(nil)

func NewServer(cfg *config.Config, ps pubsub.PubSub, relays relay.Client) (*Server, error) {
	topology, err := srs.ParseTopology(cfg.Relay.Topology)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		pubsub:   ps,
		relays:   relays,
		topology: topology,
		encoder:  srs.NewAnswerEncoder(cfg.SIP.Address),
		calls:    make(map[string]*srs.Call),
	}, nil
}

// CreateCall registers a new call handler for callID. A live call with the
// same id is a collision and is refused.
func (s *Server) CreateCall(callID string, leg sig.CallLeg) (*srs.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[callID]; ok {
		return nil, fmt.Errorf("call %s already exists", callID)
	}
	c := srs.NewCall(callID, leg, s.relays, s.topology, s.encoder, s)
	s.calls[callID] = c
	appstats.ActiveCalls.Inc()
	return c, nil
}

func (s *Server) Lookup(callID string) *srs.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[callID]
}

// ActiveCalls snapshots every live call, ordered by call id for stable
// listings.
func (s *Server) ActiveCalls() []srs.Info {
	s.mu.Lock()
	calls := make([]*srs.Call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.mu.Unlock()

	infos := make([]srs.Info, 0, len(calls))
	for _, c := range calls {
		infos = append(infos, c.Snapshot())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CallID < infos[j].CallID })
	return infos
}

// CallConnected implements srs.Monitor.
func (s *Server) CallConnected(c *srs.Call) {
	appstats.Calls.WithLabelValues("connected").Inc()
	s.PublishPubSub(events.NewCallConnected(c.Snapshot()))
}

// CallFailed implements srs.Monitor.
func (s *Server) CallFailed(c *srs.Call, code int, reason string) {
	appstats.Calls.WithLabelValues("failed").Inc()
	if code == 488 {
		appstats.InvalidOffers.Inc()
	}
	s.PublishPubSub(events.NewCallFailed(c.ID(), code, reason))
}

// CallTerminated implements srs.Monitor; this is the single place a call
// leaves the registry.
func (s *Server) CallTerminated(c *srs.Call) {
	s.mu.Lock()
	_, ok := s.calls[c.ID()]
	delete(s.calls, c.ID())
	s.mu.Unlock()

	if ok {
		appstats.ActiveCalls.Dec()
		s.PublishPubSub(events.NewCallEnded(c.ID()))
	}
}

// HandlePubSub dispatches one inbound admin message.
func (s *Server) HandlePubSub(ctx context.Context, msg []byte) {
	log.Trace(string(msg))
	event := events.Decode(msg)

	if !event.IsValid() {
		return
	}

	switch event.Id {
	case "getRecorderStatus":
		if e := event.GetRecorderStatus(); e != nil {
			s.PublishPubSub(events.NewRecorderStatus(s.cfg.App.Version, s.cfg.App.InstanceId, len(s.ActiveCalls())))
		}

	case "listCalls":
		if e := event.ListCalls(); e != nil {
			s.PublishPubSub(events.NewActiveCalls(s.ActiveCalls()))
		}
	}
}

func (s *Server) PublishPubSub(msg interface{}) {
	j, _ := json.Marshal(msg)
	if err := s.pubsub.Publish(s.cfg.PubSub.Channels.Publish, j); err != nil {
		log.Errorf("failed to publish event: %s", err)
	}
}

func (s *Server) OnStart() error {
	log.Info("Application started. Version=", s.cfg.App.Version, " InstanceId=", s.cfg.App.InstanceId)
	s.PublishPubSub(events.NewRecorderStatus(s.cfg.App.Version, s.cfg.App.InstanceId, 0))
	return nil
}

// Close disconnects every active call. Used at shutdown.
func (s *Server) Close() error {
	s.mu.Lock()
	calls := make([]*srs.Call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.mu.Unlock()

	for _, c := range calls {
		c.Terminate(sig.OriginLocal)
	}
	return nil
}
