package pubsub

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/sippy/Sippy-Recorder/internal/config"
)

// PubSub is the admin/event surface of the server: lifecycle events go out,
// admin commands come in.
type PubSub interface {
	// Subscribe listens on channel until the connection dies or Close is
	// called; it blocks the calling goroutine.
	Subscribe(channel string, handler PubSubHandler, onStart func() error) error
	Publish(channel string, message []byte) error
	Check() error
	Close() error
}

type PubSubHandler func(ctx context.Context, message []byte)

func NewPubSub(cfg config.PubSub) (PubSub, error) {
	switch cfg.Adapter {
	case "redis":
		c := config.Redis{}
		if err := mapstructure.Decode(cfg.Adapters[cfg.Adapter], &c); err != nil {
			return nil, fmt.Errorf("failed to decode %s pubsub configuration: %w", cfg.Adapter, err)
		}
		return NewRedis(c), nil
	default:
		return nil, fmt.Errorf("unknown pubsub adapter '%s'", cfg.Adapter)
	}
}
