package srs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/sippy/Sippy-Recorder/internal/appstats"
	"github.com/sippy/Sippy-Recorder/internal/body"
	"github.com/sippy/Sippy-Recorder/internal/relay"
	"github.com/sippy/Sippy-Recorder/internal/sig"
	log "github.com/sirupsen/logrus"
)

// Topology selects how the relay legs of one call are negotiated. It is a
// deployment-wide choice, never mixed within one call.
type Topology int

const (
	// TopologySingle issues one caller-leg update per section and starts
	// recording as soon as it succeeds.
	TopologySingle Topology = iota
	// TopologyTwoPhase updates the callee leg first, then the caller leg for
	// the same section index, then starts recording.
	TopologyTwoPhase
)

func ParseTopology(s string) (Topology, error) {
	switch s {
	case "single":
		return TopologySingle, nil
	case "two-phase", "":
		return TopologyTwoPhase, nil
	default:
		return TopologyTwoPhase, fmt.Errorf("unknown relay topology '%s'", s)
	}
}

// Call states.
const (
	StateAwaitingOffer = "awaiting_offer"
	StateNegotiating   = "negotiating"
	StateConnected     = "connected"
	StateFailed        = "failed"
	StateTerminated    = "terminated"
)

// Monitor receives call lifecycle notifications. Methods are invoked with
// the call lock released, so implementations may read the call back
// (Snapshot, State).
type Monitor interface {
	CallConnected(c *Call)
	CallFailed(c *Call, code int, reason string)
	CallTerminated(c *Call)
}

// errNegotiationFailed marks one section's aggregate entry as errored.
var errNegotiationFailed = errors.New("relay negotiation failed")

// Call handles one inbound recording call: it turns the offered media
// sections into relay negotiations, aggregates their completions and answers
// the call with a receive-only session description, or fails it.
//
// All signaling events and relay completions are serialized on c.mu, which
// stands in for the single event loop of the surrounding design: there is
// never parallel execution of call logic, only interleaved callbacks.
type Call struct {
	mu sync.Mutex

	callID   string
	callerID string
	calleeID string
	fromTag  string
	toTag    string
	source   string

	leg      sig.CallLeg
	relays   relay.Client
	topology Topology
	encoder  *AnswerEncoder
	monitor  Monitor
	log      *log.Entry

	machine    *fsm.FSM
	rsess      relay.Session
	deleteOnce sync.Once
	pending    func()
	sections   []*body.Section
	recResults []error
	negotiated map[int]relay.UpdateResult
	setupTime  time.Time
}

// NewCall wires a call handler to its collaborators. The relay session is
// not created until a valid offer arrives.
func NewCall(callID string, leg sig.CallLeg, relays relay.Client, topology Topology, encoder *AnswerEncoder, monitor Monitor) *Call {
	c := &Call{
		callID:     callID,
		leg:        leg,
		relays:     relays,
		topology:   topology,
		encoder:    encoder,
		monitor:    monitor,
		log:        log.WithField("call", callID),
		negotiated: make(map[int]relay.UpdateResult),
		setupTime:  time.Now(),
	}
	c.machine = fsm.NewFSM(
		StateAwaitingOffer,
		fsm.Events{
			{Name: "negotiate", Src: []string{StateAwaitingOffer}, Dst: StateNegotiating},
			{Name: "connect", Src: []string{StateNegotiating}, Dst: StateConnected},
			{Name: "fail", Src: []string{StateAwaitingOffer, StateNegotiating}, Dst: StateFailed},
			{Name: "terminate", Src: []string{StateAwaitingOffer, StateNegotiating, StateConnected, StateFailed}, Dst: StateTerminated},
		},
		fsm.Callbacks{},
	)
	return c
}

func (c *Call) ID() string { return c.callID }

func (c *Call) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Current()
}

// Info is a snapshot of one call for the admin surfaces.
type Info struct {
	CallID    string    `json:"callId"`
	State     string    `json:"state"`
	CallerID  string    `json:"callerId"`
	CalleeID  string    `json:"calleeId"`
	Source    string    `json:"source"`
	Sections  int       `json:"sections"`
	SetupTime time.Time `json:"setupTime"`
}

func (c *Call) Snapshot() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		CallID:    c.callID,
		State:     c.machine.Current(),
		CallerID:  c.callerID,
		CalleeID:  c.calleeID,
		Source:    c.source,
		Sections:  len(c.sections),
		SetupTime: c.setupTime,
	}
}

// HandleEvent dispatches one signaling event. Only try and disconnect
// events are meaningful here; anything else is ignored.
func (c *Call) HandleEvent(ev sig.Event) {
	switch e := ev.(type) {
	case *sig.TryEvent:
		c.handleTry(e)
	case *sig.DisconnectEvent:
		c.Terminate(e.Origin)
	}
}

// unlockNotify releases the call lock and then runs whatever notification
// the locked section scheduled. Monitor callbacks and teardown never run
// under c.mu.
func (c *Call) unlockNotify() {
	fn := c.pending
	c.pending = nil
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Call) handleTry(ev *sig.TryEvent) {
	c.mu.Lock()
	defer c.unlockNotify()

	if c.machine.Current() != StateAwaitingOffer {
		c.log.Warn("ignoring repeated call setup")
		return
	}

	c.callerID = ev.CallerID
	c.calleeID = ev.CalleeID
	c.fromTag = ev.FromTag
	c.source = ev.Source

	if len(ev.Body) == 0 {
		c.fail(488, "body-less request is not supported")
		return
	}

	parsed, err := body.Parse(ev.ContentType, ev.Body)
	if err != nil || parsed.Type != body.TypeMultipartMixed {
		c.fail(488, "multipart/mixed body is expected")
		return
	}

	sdps := parsed.SDPParts()
	if len(sdps) == 0 {
		c.fail(488, "no session-description body found")
		return
	}

	for _, part := range sdps {
		sections, err := body.ParseSections(part.Data, len(c.sections))
		if err != nil {
			c.fail(488, "malformed session-description body")
			return
		}
		c.sections = append(c.sections, sections...)
	}
	if len(c.sections) == 0 {
		c.fail(488, "no media sections offered")
		return
	}

	rsess, err := c.relays.NewSession(c.callID, c.fromTag, c.toTag)
	if err != nil {
		c.log.WithError(err).Error("failed to create relay session")
		c.fail(502, "relay session is not available")
		return
	}
	c.rsess = rsess
	rsess.SetSourceAddress(c.source)

	c.transition("negotiate")
	c.log.WithField("sections", len(c.sections)).Debug("negotiating media")

	for _, sect := range c.sections {
		switch c.topology {
		case TopologySingle:
			rsess.Update(relay.LegCaller, sect.Index, sect.Address, sect.Port, c.callerUpdatedSingle)
		case TopologyTwoPhase:
			rsess.Update(relay.LegCallee, sect.Index, sect.Address, sect.Port, c.calleeUpdated)
		}
	}
}

// callerUpdatedSingle is the single-phase completion: the one negotiated
// leg carries the answer address and recording starts right away.
func (c *Call) callerUpdatedSingle(index int, res *relay.UpdateResult) {
	c.mu.Lock()
	defer c.unlockNotify()

	if !c.negotiating() {
		return
	}
	if res == nil {
		c.sectionDone(index, errNegotiationFailed)
		return
	}
	c.negotiated[index] = *res
	c.rsess.StartRecording(index, c.recordingStarted)
}

// calleeUpdated is the first phase of the two-phase topology. The caller
// leg is issued for the same index; legs may complete out of order across
// sections.
func (c *Call) calleeUpdated(index int, res *relay.UpdateResult) {
	c.mu.Lock()
	defer c.unlockNotify()

	if !c.negotiating() {
		return
	}
	if res == nil {
		c.sectionDone(index, errNegotiationFailed)
		return
	}
	c.rsess.Update(relay.LegCaller, index, "", 0, c.callerUpdated)
}

// callerUpdated is the second phase: its result is the answer address for
// the section, and recording is activated for the index.
func (c *Call) callerUpdated(index int, res *relay.UpdateResult) {
	c.mu.Lock()
	defer c.unlockNotify()

	if !c.negotiating() {
		return
	}
	if res == nil {
		c.sectionDone(index, errNegotiationFailed)
		return
	}
	c.negotiated[index] = *res
	c.rsess.StartRecording(index, c.recordingStarted)
}

func (c *Call) recordingStarted(index int, err error) {
	c.mu.Lock()
	defer c.unlockNotify()

	if !c.negotiating() {
		return
	}
	c.sectionDone(index, err)
}

// sectionDone records one section's terminal signal and evaluates the
// aggregate once every offered section has reported. Arrival order is
// irrelevant; only the count gates evaluation.
func (c *Call) sectionDone(index int, err error) {
	if err != nil {
		c.log.WithError(err).Debugf("section %d failed", index)
		appstats.SectionFailures.Inc()
	}
	c.recResults = append(c.recResults, err)
	if len(c.recResults) < len(c.sections) {
		return
	}

	nerrs := 0
	for _, r := range c.recResults {
		if r != nil {
			nerrs++
		}
	}
	if nerrs > 0 {
		c.fail(502, fmt.Sprintf("operation failed, %d times", nerrs))
		return
	}

	answer, err := c.encoder.Encode(c.sections, c.negotiated)
	if err != nil {
		c.log.WithError(err).Error("failed to encode answer")
		c.fail(502, "failed to encode answer")
		return
	}

	c.transition("connect")
	c.leg.Connect(200, sig.StatusPhrase[200], body.TypeSDP, answer)
	c.log.Info("call connected")
	c.pending = func() {
		if c.monitor != nil {
			c.monitor.CallConnected(c)
		}
	}
}

// negotiating reports whether relay completions may still act on this call.
// Stray callbacks arriving after a terminal state or termination see false
// and become no-ops.
func (c *Call) negotiating() bool {
	return c.machine.Current() == StateNegotiating && c.rsess != nil
}

// fail emits the failure outcome and schedules the teardown: a non-2xx
// answer ends the dialog upstream, so no disconnect will ever arrive for
// this call and it must terminate itself.
func (c *Call) fail(code int, reason string) {
	c.transition("fail")
	c.leg.Fail(code, sig.StatusPhrase[code], &sig.Reason{Protocol: "SIP", Cause: code, Text: reason})
	c.log.WithField("code", code).Infof("call failed: %s", reason)
	c.pending = func() {
		if c.monitor != nil {
			c.monitor.CallFailed(c, code, reason)
		}
		c.Terminate(sig.OriginFailure)
	}
}

// Terminate tears the call down, whatever the origin. It releases the relay
// session exactly once, clears per-call state and is safe to invoke any
// number of times, including while negotiations are still in flight.
func (c *Call) Terminate(origin sig.DisconnectOrigin) {
	c.mu.Lock()
	if c.machine.Current() == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.transition("terminate")
	if c.rsess != nil {
		rsess := c.rsess
		c.deleteOnce.Do(rsess.Delete)
		c.rsess = nil
	}
	c.sections = nil
	c.recResults = nil
	c.negotiated = nil
	c.log.WithField("origin", origin.String()).Info("call terminated")
	c.mu.Unlock()

	if c.monitor != nil {
		c.monitor.CallTerminated(c)
	}
}

func (c *Call) transition(event string) {
	if err := c.machine.Event(context.Background(), event); err != nil {
		c.log.WithError(err).Debugf("suppressed state transition '%s'", event)
	}
}
