// ABOUTME: Redis-backed relay that mirrors bus events across gateway instances
// ABOUTME: Local publishes go to a Redis channel; remote ones are re-injected locally

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mart-code/first-aid-app/internal/dedupe"
)

const (
	// relayDedupeTTL bounds how long relayed event IDs are remembered for
	// echo suppression. Redis pub/sub redelivers our own publishes back to
	// us, so every locally published ID is marked before it leaves.
	relayDedupeTTL     = 5 * time.Minute
	relayDedupeMaxSize = 10000
)

// relayEnvelope is the wire form of an event on the Redis channel.
type relayEnvelope struct {
	Topic string `json:"topic"`
	Event *Event `json:"event"`
}

// Relay mirrors a local Broadcaster over Redis pub/sub so that multiple
// gateway instances share one logical bus. It implements Publisher; services
// publish through the relay instead of the broadcaster directly.
type Relay struct {
	local   *Broadcaster
	client  *redis.Client
	channel string
	seen    *dedupe.Cache
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// RelayOptions configures the Redis connection and channel for a Relay.
type RelayOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string // Redis pub/sub channel shared by all instances
}

// NewRelay connects to Redis and starts forwarding remote events into the
// local broadcaster.
func NewRelay(ctx context.Context, local *Broadcaster, opts RelayOptions, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		local:   local,
		client:  client,
		channel: opts.Channel,
		seen:    dedupe.New(relayDedupeTTL, relayDedupeMaxSize),
		cancel:  cancel,
		logger:  logger.With("component", "bus-relay"),
	}

	go r.listen(runCtx)

	r.logger.Info("bus relay started", "addr", opts.Addr, "channel", opts.Channel)
	return r, nil
}

// Publish fans the event out locally and mirrors it to Redis for the other
// instances. The event ID is marked as seen first so the Redis echo of our
// own publish is dropped in listen.
func (r *Relay) Publish(topic string, event *Event) {
	event.Topic = topic
	r.seen.Mark(event.ID)
	r.local.Publish(topic, event)

	payload, err := json.Marshal(relayEnvelope{Topic: topic, Event: event})
	if err != nil {
		r.logger.Error("failed to marshal relay envelope", "error", err, "event_id", event.ID)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, payload).Err(); err != nil {
		// Local subscribers already got the event; remote instances will
		// reconcile via resync, same as any other delivery gap.
		r.logger.Warn("failed to mirror event to redis", "error", err, "event_id", event.ID)
	}
}

// listen consumes the Redis channel and re-injects remote events locally.
func (r *Relay) listen(ctx context.Context) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			r.inject([]byte(msg.Payload))
		}
	}
}

// inject parses a relayed payload and publishes it locally unless its event
// ID was already seen (our own echo, or a Redis redelivery).
func (r *Relay) inject(payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("dropping malformed relay payload", "error", err)
		return
	}
	if env.Event == nil || env.Event.ID == "" {
		r.logger.Warn("dropping relay payload without event id")
		return
	}
	if r.seen.CheckAndMark(env.Event.ID) {
		return
	}
	r.local.Publish(env.Topic, env.Event)
}

// Close stops the relay and releases the Redis connection.
func (r *Relay) Close() error {
	r.cancel()
	r.seen.Close()
	return r.client.Close()
}
