package pubsub

import (
	"context"

	"github.com/sippy/Sippy-Recorder/internal/config"
	"github.com/sippy/Sippy-Recorder/internal/pubsub/redis"
)

var _ PubSub = (*Redis)(nil)

type Redis struct {
	config config.Redis
	pubsub *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRedis(cfg config.Redis) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		config: cfg,
		pubsub: redis.NewPubSub(cfg.Network, cfg.Address, cfg.Password),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Redis) Subscribe(channel string, handler PubSubHandler, onStart func() error) error {
	return r.pubsub.ListenChannels(r.ctx, onStart,
		func(channel string, message []byte) error {
			handler(r.ctx, message)
			return nil
		},
		channel)
}

func (r *Redis) Publish(channel string, message []byte) error {
	return r.pubsub.Publish(channel, message)
}

func (r *Redis) Check() error {
	return r.pubsub.Check()
}

func (r *Redis) Close() error {
	r.cancel()
	return r.pubsub.Close()
}
