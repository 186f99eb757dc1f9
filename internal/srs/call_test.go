package srs

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/sippy/Sippy-Recorder/internal/body"
	"github.com/sippy/Sippy-Recorder/internal/relay"
	"github.com/sippy/Sippy-Recorder/internal/sig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock signaling leg
type connectArgs struct {
	code        int
	reason      string
	contentType string
	body        []byte
}

type failArgs struct {
	code   int
	reason string
	cause  *sig.Reason
}

type mockLeg struct {
	connects []connectArgs
	fails    []failArgs
}

func (l *mockLeg) Connect(code int, reason string, contentType string, b []byte) {
	l.connects = append(l.connects, connectArgs{code, reason, contentType, b})
}

func (l *mockLeg) Fail(code int, reason string, cause *sig.Reason) {
	l.fails = append(l.fails, failArgs{code, reason, cause})
}

var _ sig.CallLeg = (*mockLeg)(nil)

// Mock relay session. Requests are queued so tests can complete them in any
// order after HandleEvent returns, the way real completions arrive.
type updateReq struct {
	leg        relay.Leg
	index      int
	remoteAddr string
	remotePort int
	cb         relay.UpdateCallback
}

type recordReq struct {
	index int
	cb    relay.RecordCallback
}

type mockSession struct {
	source  string
	updates []updateReq
	records []recordReq
	deletes int
}

func (s *mockSession) SetSourceAddress(addr string) { s.source = addr }

func (s *mockSession) Update(leg relay.Leg, index int, remoteAddr string, remotePort int, cb relay.UpdateCallback) {
	s.updates = append(s.updates, updateReq{leg, index, remoteAddr, remotePort, cb})
}

func (s *mockSession) StartRecording(index int, cb relay.RecordCallback) {
	s.records = append(s.records, recordReq{index, cb})
}

func (s *mockSession) Delete() { s.deletes++ }

var _ relay.Session = (*mockSession)(nil)

type mockClient struct {
	sess     *mockSession
	err      error
	sessions int
}

func (c *mockClient) NewSession(callID, fromTag, toTag string) (relay.Session, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.sessions++
	return c.sess, nil
}

func (c *mockClient) Check() error { return nil }
func (c *mockClient) Close() error { return nil }

var _ relay.Client = (*mockClient)(nil)

// Mock monitor
type mockMonitor struct {
	connected  int
	failed     []failArgs
	terminated int
}

func (m *mockMonitor) CallConnected(c *Call) { m.connected++ }
func (m *mockMonitor) CallFailed(c *Call, code int, reason string) {
	m.failed = append(m.failed, failArgs{code: code, reason: reason})
}
func (m *mockMonitor) CallTerminated(c *Call) { m.terminated++ }

var _ Monitor = (*mockMonitor)(nil)

const offerOneSection = "v=0\r\n" +
	"o=alice 2890844526 2890844526 IN IP4 10.0.0.1\r\n" +
	"s=caller session\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 30000 RTP/AVP 0 8\r\n" +
	"a=sendonly\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=label:1\r\n"

const offerTwoSections = "v=0\r\n" +
	"o=alice 2890844526 2890844526 IN IP4 10.0.0.1\r\n" +
	"s=caller session\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 30000 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=label:1\r\n" +
	"m=audio 30002 RTP/AVP 8\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=label:2\r\n"

func multipartBody(t *testing.T, parts ...[2]string) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		pw, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {p[0]}})
		require.NoError(t, err)
		_, err = pw.Write([]byte(p[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return "multipart/mixed; boundary=" + w.Boundary(), buf.Bytes()
}

func tryEvent(t *testing.T, sdps ...string) *sig.TryEvent {
	t.Helper()
	parts := make([][2]string, 0, len(sdps))
	for _, s := range sdps {
		parts = append(parts, [2]string{body.TypeSDP, s})
	}
	contentType, raw := multipartBody(t, parts...)
	return &sig.TryEvent{
		CallID:      "call-1",
		CallerID:    "alice",
		CalleeID:    "srs",
		FromTag:     "tag-1",
		Source:      "10.0.0.1:5060",
		ContentType: contentType,
		Body:        raw,
	}
}

func newTestCall(topology Topology) (*Call, *mockLeg, *mockSession, *mockClient, *mockMonitor) {
	leg := &mockLeg{}
	sess := &mockSession{}
	client := &mockClient{sess: sess}
	monitor := &mockMonitor{}
	encoder := NewAnswerEncoder("198.51.100.1")
	c := NewCall("call-1", leg, client, topology, encoder, monitor)
	return c, leg, sess, client, monitor
}

func TestParseTopology(t *testing.T) {
	top, err := ParseTopology("single")
	assert.NoError(t, err)
	assert.Equal(t, TopologySingle, top)

	top, err = ParseTopology("two-phase")
	assert.NoError(t, err)
	assert.Equal(t, TopologyTwoPhase, top)

	top, err = ParseTopology("")
	assert.NoError(t, err)
	assert.Equal(t, TopologyTwoPhase, top)

	_, err = ParseTopology("bogus")
	assert.Error(t, err)
}

func TestCallConnectsTwoPhase(t *testing.T) {
	c, leg, sess, _, monitor := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerOneSection))

	assert.Equal(t, StateNegotiating, c.State())
	assert.Equal(t, "10.0.0.1:5060", sess.source)
	require.Len(t, sess.updates, 1)
	assert.Equal(t, relay.LegCallee, sess.updates[0].leg)
	assert.Equal(t, 0, sess.updates[0].index)
	assert.Equal(t, "10.0.0.1", sess.updates[0].remoteAddr)
	assert.Equal(t, 30000, sess.updates[0].remotePort)

	sess.updates[0].cb(0, &relay.UpdateResult{Address: "192.0.2.2", Port: 40002})

	require.Len(t, sess.updates, 2)
	assert.Equal(t, relay.LegCaller, sess.updates[1].leg)
	assert.Equal(t, 0, sess.updates[1].index)
	assert.Equal(t, "", sess.updates[1].remoteAddr)
	assert.Equal(t, 0, sess.updates[1].remotePort)

	sess.updates[1].cb(0, &relay.UpdateResult{Address: "192.0.2.1", Port: 40000})

	require.Len(t, sess.records, 1)
	assert.Equal(t, 0, sess.records[0].index)

	sess.records[0].cb(0, nil)

	assert.Equal(t, StateConnected, c.State())
	assert.Empty(t, leg.fails)
	require.Len(t, leg.connects, 1)
	assert.Equal(t, 200, leg.connects[0].code)
	assert.Equal(t, "OK", leg.connects[0].reason)
	assert.Equal(t, body.TypeSDP, leg.connects[0].contentType)
	assert.Equal(t, 1, monitor.connected)

	answer := string(leg.connects[0].body)
	assert.Contains(t, answer, "c=IN IP4 192.0.2.1")
	assert.Contains(t, answer, "m=audio 40000 RTP/AVP 0\r\n")
	assert.Contains(t, answer, "a=recvonly")
	assert.Contains(t, answer, "a=rtpmap:0 PCMU/8000")
	assert.Contains(t, answer, "a=label:1")
	assert.NotContains(t, answer, "a=sendonly")
	assert.NotContains(t, answer, " 8\r\n")
}

func TestCallConnectsSinglePhase(t *testing.T) {
	c, leg, sess, _, _ := newTestCall(TopologySingle)

	c.HandleEvent(tryEvent(t, offerOneSection))

	require.Len(t, sess.updates, 1)
	assert.Equal(t, relay.LegCaller, sess.updates[0].leg)
	assert.Equal(t, "10.0.0.1", sess.updates[0].remoteAddr)

	sess.updates[0].cb(0, &relay.UpdateResult{Address: "192.0.2.1", Port: 40000})

	require.Len(t, sess.updates, 1)
	require.Len(t, sess.records, 1)

	sess.records[0].cb(0, nil)

	assert.Equal(t, StateConnected, c.State())
	require.Len(t, leg.connects, 1)
	assert.Contains(t, string(leg.connects[0].body), "m=audio 40000 RTP/AVP 0")
}

func TestCallRejectsBodylessOffer(t *testing.T) {
	c, leg, _, client, monitor := newTestCall(TopologyTwoPhase)

	c.HandleEvent(&sig.TryEvent{CallID: "call-1", ContentType: body.TypeSDP})

	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, 0, client.sessions)
	require.Len(t, leg.fails, 1)
	assert.Equal(t, 488, leg.fails[0].code)
	assert.Equal(t, "Not Acceptable Here", leg.fails[0].reason)
	assert.Contains(t, leg.fails[0].cause.Text, "body-less")
	require.Len(t, monitor.failed, 1)
	assert.Equal(t, 488, monitor.failed[0].code)
	assert.Equal(t, 1, monitor.terminated)
}

func TestCallRejectsNonMultipartOffer(t *testing.T) {
	c, leg, _, client, _ := newTestCall(TopologyTwoPhase)

	c.HandleEvent(&sig.TryEvent{
		CallID:      "call-1",
		ContentType: body.TypeSDP,
		Body:        []byte(offerOneSection),
	})

	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, 0, client.sessions)
	require.Len(t, leg.fails, 1)
	assert.Equal(t, 488, leg.fails[0].code)
	assert.Contains(t, leg.fails[0].cause.Text, "multipart/mixed")
}

func TestCallRejectsOfferWithoutSDPPart(t *testing.T) {
	c, leg, _, _, _ := newTestCall(TopologyTwoPhase)

	contentType, raw := multipartBody(t, [2]string{"text/plain", "metadata"})
	c.HandleEvent(&sig.TryEvent{CallID: "call-1", ContentType: contentType, Body: raw})

	require.Len(t, leg.fails, 1)
	assert.Equal(t, 488, leg.fails[0].code)
	assert.Contains(t, leg.fails[0].cause.Text, "no session-description body")
}

func TestCallRejectsMalformedSDP(t *testing.T) {
	c, leg, _, _, _ := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, "not an sdp payload"))

	require.Len(t, leg.fails, 1)
	assert.Equal(t, 488, leg.fails[0].code)
	assert.Contains(t, leg.fails[0].cause.Text, "malformed")
}

func TestCallFailsWhenRelayUnavailable(t *testing.T) {
	c, leg, _, client, _ := newTestCall(TopologyTwoPhase)
	client.err = errors.New("connection refused")

	c.HandleEvent(tryEvent(t, offerOneSection))

	assert.Equal(t, StateTerminated, c.State())
	require.Len(t, leg.fails, 1)
	assert.Equal(t, 502, leg.fails[0].code)
	assert.Equal(t, "Bad Gateway", leg.fails[0].reason)
	assert.Contains(t, leg.fails[0].cause.Text, "relay session")
}

func TestCallIgnoresRepeatedOffer(t *testing.T) {
	c, leg, sess, client, _ := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerOneSection))
	c.HandleEvent(tryEvent(t, offerOneSection))

	assert.Equal(t, 1, client.sessions)
	assert.Len(t, sess.updates, 1)
	assert.Empty(t, leg.fails)
}

func TestCallAggregatesPartialFailure(t *testing.T) {
	c, leg, sess, _, monitor := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerTwoSections))
	require.Len(t, sess.updates, 2)

	// Section 0 fails in the first phase. One completion out of two must
	// not produce an outcome yet.
	sess.updates[0].cb(0, nil)
	assert.Equal(t, StateNegotiating, c.State())
	assert.Empty(t, leg.fails)
	assert.Empty(t, leg.connects)

	// Section 1 negotiates and records fine, which completes the set.
	sess.updates[1].cb(1, &relay.UpdateResult{Address: "192.0.2.2", Port: 40002})
	require.Len(t, sess.updates, 3)
	sess.updates[2].cb(1, &relay.UpdateResult{Address: "192.0.2.1", Port: 40000})
	require.Len(t, sess.records, 1)
	sess.records[0].cb(1, nil)

	assert.Equal(t, StateTerminated, c.State())
	assert.Empty(t, leg.connects)
	require.Len(t, leg.fails, 1)
	assert.Equal(t, 502, leg.fails[0].code)
	assert.Equal(t, "operation failed, 1 times", leg.fails[0].cause.Text)
	require.Len(t, monitor.failed, 1)
	assert.Equal(t, "operation failed, 1 times", monitor.failed[0].reason)
	assert.Equal(t, 1, sess.deletes)
	assert.Equal(t, 1, monitor.terminated)
}

func TestCallAggregatesAllFailed(t *testing.T) {
	c, leg, sess, _, _ := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerTwoSections))
	require.Len(t, sess.updates, 2)

	sess.updates[0].cb(0, nil)
	sess.updates[1].cb(1, nil)

	assert.Equal(t, StateTerminated, c.State())
	require.Len(t, leg.fails, 1)
	assert.Equal(t, "operation failed, 2 times", leg.fails[0].cause.Text)
}

func TestCallCompletesOutOfOrder(t *testing.T) {
	c, leg, sess, _, _ := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerTwoSections))
	require.Len(t, sess.updates, 2)

	// Section 1 completes its first phase before section 0.
	sess.updates[1].cb(1, &relay.UpdateResult{Address: "192.0.2.2", Port: 40006})
	sess.updates[0].cb(0, &relay.UpdateResult{Address: "192.0.2.2", Port: 40002})
	require.Len(t, sess.updates, 4)
	sess.updates[2].cb(1, &relay.UpdateResult{Address: "192.0.2.1", Port: 40004})
	sess.updates[3].cb(0, &relay.UpdateResult{Address: "192.0.2.1", Port: 40000})

	require.Len(t, sess.records, 2)
	assert.Equal(t, 1, sess.records[0].index)
	assert.Equal(t, 0, sess.records[1].index)
	sess.records[0].cb(1, nil)
	assert.Equal(t, StateNegotiating, c.State())
	sess.records[1].cb(0, nil)

	assert.Equal(t, StateConnected, c.State())
	require.Len(t, leg.connects, 1)

	// The answer keeps offer order regardless of completion order.
	answer := string(leg.connects[0].body)
	first := "m=audio 40000 RTP/AVP 0"
	second := "m=audio 40004 RTP/AVP 8"
	assert.Contains(t, answer, first)
	assert.Contains(t, answer, second)
	assert.Less(t, bytes.Index(leg.connects[0].body, []byte(first)),
		bytes.Index(leg.connects[0].body, []byte(second)))
}

func TestCallMultipleSDPPartsShareIndexSequence(t *testing.T) {
	c, _, sess, _, _ := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerOneSection, offerOneSection))

	require.Len(t, sess.updates, 2)
	assert.Equal(t, 0, sess.updates[0].index)
	assert.Equal(t, 1, sess.updates[1].index)
}

func TestCallTerminateReleasesRelaySession(t *testing.T) {
	c, leg, sess, _, monitor := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerOneSection))
	require.Len(t, sess.updates, 1)

	c.Terminate(sig.OriginRemote)
	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, 1, sess.deletes)
	assert.Equal(t, 1, monitor.terminated)

	// Termination is idempotent.
	c.Terminate(sig.OriginLocal)
	c.HandleEvent(&sig.DisconnectEvent{Origin: sig.OriginFailure})
	assert.Equal(t, 1, sess.deletes)
	assert.Equal(t, 1, monitor.terminated)

	// Stray relay completions after termination are no-ops.
	sess.updates[0].cb(0, &relay.UpdateResult{Address: "192.0.2.1", Port: 40000})
	assert.Len(t, sess.updates, 1)
	assert.Empty(t, sess.records)
	assert.Empty(t, leg.connects)
	assert.Empty(t, leg.fails)
	assert.Equal(t, StateTerminated, c.State())
}

func TestCallStrayCallbackAfterFailure(t *testing.T) {
	c, leg, sess, _, _ := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerTwoSections))
	require.Len(t, sess.updates, 2)

	sess.updates[0].cb(0, nil)
	sess.updates[1].cb(1, nil)
	require.Len(t, leg.fails, 1)

	// A duplicate completion for an already settled call changes nothing.
	sess.updates[0].cb(0, &relay.UpdateResult{Address: "192.0.2.1", Port: 40000})
	assert.Len(t, leg.fails, 1)
	assert.Empty(t, leg.connects)
	assert.Equal(t, StateTerminated, c.State())
}

func TestCallFailureReleasesRelaySession(t *testing.T) {
	c, leg, sess, _, monitor := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerOneSection))
	require.Len(t, sess.updates, 1)

	sess.updates[0].cb(0, nil)

	// A failed call can expect no disconnect from upstream, so it must tear
	// itself down: relay session released, terminal notifications delivered.
	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, 1, sess.deletes)
	require.Len(t, leg.fails, 1)
	assert.Equal(t, 502, leg.fails[0].code)
	require.Len(t, monitor.failed, 1)
	assert.Equal(t, 1, monitor.terminated)
	assert.Empty(t, leg.connects)
}

// snapshotMonitor reads the call back from inside every notification, the
// way the server does when it publishes lifecycle events.
type snapshotMonitor struct {
	states []string
}

func (m *snapshotMonitor) CallConnected(c *Call) {
	m.states = append(m.states, c.Snapshot().State)
}
func (m *snapshotMonitor) CallFailed(c *Call, code int, reason string) {
	m.states = append(m.states, c.Snapshot().State)
}
func (m *snapshotMonitor) CallTerminated(c *Call) {
	m.states = append(m.states, c.Snapshot().State)
}

var _ Monitor = (*snapshotMonitor)(nil)

func TestMonitorMayReadCallDuringNotification(t *testing.T) {
	leg := &mockLeg{}
	sess := &mockSession{}
	client := &mockClient{sess: sess}
	monitor := &snapshotMonitor{}
	c := NewCall("call-1", leg, client, TopologySingle, NewAnswerEncoder("198.51.100.1"), monitor)

	c.HandleEvent(tryEvent(t, offerOneSection))
	require.Len(t, sess.updates, 1)
	sess.updates[0].cb(0, &relay.UpdateResult{Address: "192.0.2.1", Port: 40000})
	require.Len(t, sess.records, 1)
	sess.records[0].cb(0, nil)
	c.Terminate(sig.OriginRemote)

	assert.Equal(t, []string{StateConnected, StateTerminated}, monitor.states)

	// Same on the failure path, where the terminal notifications chain.
	leg2 := &mockLeg{}
	monitor2 := &snapshotMonitor{}
	c2 := NewCall("call-2", leg2, client, TopologySingle, NewAnswerEncoder("198.51.100.1"), monitor2)
	c2.HandleEvent(&sig.TryEvent{CallID: "call-2"})
	assert.Equal(t, []string{StateFailed, StateTerminated}, monitor2.states)
}

func TestCallSnapshot(t *testing.T) {
	c, _, _, _, _ := newTestCall(TopologyTwoPhase)

	c.HandleEvent(tryEvent(t, offerTwoSections))

	info := c.Snapshot()
	assert.Equal(t, "call-1", info.CallID)
	assert.Equal(t, StateNegotiating, info.State)
	assert.Equal(t, "alice", info.CallerID)
	assert.Equal(t, "srs", info.CalleeID)
	assert.Equal(t, 2, info.Sections)
	assert.False(t, info.SetupTime.IsZero())
}
