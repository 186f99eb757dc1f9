package relay

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/sippy/Sippy-Recorder/internal/config"
)

// Leg selects one side of a relay session's media path.
type Leg int

const (
	LegCaller Leg = iota
	LegCallee
)

func (l Leg) String() string {
	switch l {
	case LegCaller:
		return "caller"
	case LegCallee:
		return "callee"
	default:
		return "unknown"
	}
}

// UpdateResult is the relay-assigned media address for one negotiated
// section. A nil result in the callback means the negotiation failed; no
// textual error sentinel is used anywhere.
type UpdateResult struct {
	Address string
	Port    int
}

// UpdateCallback delivers the outcome of one Update call. The section index
// the request was issued with is echoed back so completions can be
// correlated regardless of arrival order.
type UpdateCallback func(index int, res *UpdateResult)

// RecordCallback delivers the outcome of one StartRecording call. A nil
// error means recording started.
type RecordCallback func(index int, err error)

// Session is one per-call relay/recording session with caller and callee
// legs. All operations are asynchronous: they return immediately and deliver
// their outcome through the callback, possibly from another goroutine.
type Session interface {
	// SetSourceAddress seeds the caller leg with the offerer's network
	// source before the first Update.
	SetSourceAddress(addr string)
	// Update negotiates the relay endpoint for one leg of one section.
	Update(leg Leg, index int, remoteAddr string, remotePort int, cb UpdateCallback)
	// StartRecording activates capture for one negotiated section.
	StartRecording(index int, cb RecordCallback)
	// Delete releases the relay resources. Safe to call more than once.
	Delete()
}

// Client hands out relay sessions, one per call.
type Client interface {
	NewSession(callID, fromTag, toTag string) (Session, error)
	Check() error
	Close() error
}

// New builds the relay client selected by the configuration. Adapter
// sub-blocks are decoded with mapstructure, one shape per adapter.
func New(cfg config.Relay) (Client, error) {
	switch cfg.Adapter {
	case "static":
		c := config.StaticRelay{}
		if err := mapstructure.Decode(cfg.Adapters[cfg.Adapter], &c); err != nil {
			return nil, fmt.Errorf("failed to decode %s relay configuration: %w", cfg.Adapter, err)
		}
		return NewStatic(c), nil
	default:
		return nil, fmt.Errorf("unknown relay adapter '%s'", cfg.Adapter)
	}
}
