package sig

import "fmt"

// Event is one call-signaling event delivered to or emitted by a call
// handler. Concrete kinds are TryEvent and DisconnectEvent; handlers
// type-switch on the kind and ignore anything they do not understand.
type Event interface {
	Kind() string
}

// TryEvent carries a new inbound call setup: identifiers, display data and
// the offered body. The body is kept raw here; parsing is the receiver's
// responsibility.
type TryEvent struct {
	CallID      string
	CallerID    string
	CalleeID    string
	CallerName  string
	FromTag     string
	Source      string
	AuthToken   string
	ContentType string
	Body        []byte
}

func (*TryEvent) Kind() string { return "try" }

// DisconnectOrigin says which side tore the call down.
type DisconnectOrigin int

const (
	OriginLocal DisconnectOrigin = iota
	OriginRemote
	OriginFailure
)

func (o DisconnectOrigin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	case OriginFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// DisconnectEvent notifies a call handler that its call is gone, whatever
// the origin. Handlers must treat it as idempotent.
type DisconnectEvent struct {
	Origin DisconnectOrigin
}

func (*DisconnectEvent) Kind() string { return "disconnect" }

// Reason is the structured protocol reason attached to failure outcomes,
// rendered as a SIP Reason header value (RFC 3326).
type Reason struct {
	Protocol string
	Cause    int
	Text     string
}

func (r *Reason) String() string {
	return fmt.Sprintf("%s;cause=%d;text=%q", r.Protocol, r.Cause, r.Text)
}

// StatusPhrase maps the response codes used by the recording core to their
// standard reason phrases.
var StatusPhrase = map[int]string{
	200: "OK",
	486: "Busy Here",
	488: "Not Acceptable Here",
	502: "Bad Gateway",
}

// CallLeg is the upstream signaling collaborator of a call handler: it
// encodes outcomes onto the wire. Implementations must tolerate at most one
// terminal outcome per call.
type CallLeg interface {
	// Connect answers the call with the given body.
	Connect(code int, reason string, contentType string, body []byte)
	// Fail rejects the call with a structured reason.
	Fail(code int, reason string, cause *Reason)
}
