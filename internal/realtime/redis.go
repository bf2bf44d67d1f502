package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const subscriptionBuffer = 64

// RedisChannel implements Channel over Redis Pub/Sub.
type RedisChannel struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisChannel creates a new RedisChannel.
func NewRedisChannel(rdb *redis.Client, log zerolog.Logger) *RedisChannel {
	return &RedisChannel{
		rdb: rdb,
		log: log.With().Str("component", "realtime").Logger(),
	}
}

// Publish sends ev to its session and schedule channels in one round trip.
func (c *RedisChannel) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := c.rdb.Pipeline()
	for _, topic := range topics(ev) {
		pipe.Publish(ctx, topic, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// SubscribeSession subscribes to the Pub/Sub channel of one session.
func (c *RedisChannel) SubscribeSession(ctx context.Context, sessionID uuid.UUID) (Subscription, error) {
	return c.subscribe(ctx, config.CacheKey.SessionEventsChannel(sessionID))
}

// SubscribeSchedule subscribes to the Pub/Sub channel of one schedule.
func (c *RedisChannel) SubscribeSchedule(ctx context.Context, scheduleID uuid.UUID) (Subscription, error) {
	return c.subscribe(ctx, config.CacheKey.ScheduleMonitorChannel(scheduleID))
}

func (c *RedisChannel) subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := c.rdb.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so no event published after
	// this call returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan Event, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go sub.pump(c.log.With().Str("topic", topic).Logger())
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Event
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) pump(log zerolog.Logger) {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Error().Err(err).Msg("Discarding malformed event")
			continue
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Events() <-chan Event { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
