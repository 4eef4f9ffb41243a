package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the redis pub/sub channel events travel on.
const DefaultChannel = "clinic:realtime"

// RedisBridge fans events out through redis so every server instance's hub
// sees them. Publish only writes to redis; Run delivers to the local hub,
// including this instance's own events.
type RedisBridge struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	log     zerolog.Logger
}

func NewRedisBridge(rdb *redis.Client, hub *Hub, logger zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		rdb:     rdb,
		hub:     hub,
		channel: DefaultChannel,
		log:     logger.With().Str("component", "realtime_bridge").Logger(),
	}
}

func (b *RedisBridge) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run blocks until ctx is done, relaying redis messages to the hub.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Msg("realtime bridge subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic, ok := decodeTopic(msg.Payload)
			if !ok {
				b.log.Warn().Msg("dropping malformed realtime message")
				continue
			}
			b.hub.deliver(topic, []byte(msg.Payload))
		}
	}
}

// decodeTopic pulls the topic out of an encoded Event so the payload can be
// forwarded without re-marshalling.
func decodeTopic(payload string) (string, bool) {
	var head struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal([]byte(payload), &head); err != nil || head.Topic == "" {
		return "", false
	}
	return head.Topic, true
}
