package realtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"portal/threads/internal/comment"
)

const defaultChannelPrefix = "portal:comments"

// RedisSubscriber carries pushed events over Redis pub/sub, one channel per
// scope.
type RedisSubscriber struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

func NewRedisSubscriber(client *redis.Client, prefix string, log *zap.Logger) *RedisSubscriber {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisSubscriber{client: client, prefix: prefix, log: log.Named("subscriber")}
}

func (s *RedisSubscriber) Channel(scope comment.Scope) string {
	return s.prefix + ":" + scope.String()
}

// Subscribe joins the channel of scope. Messages published after it returns
// are delivered by Run.
func (s *RedisSubscriber) Subscribe(ctx context.Context, scope comment.Scope) (*Subscription, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("subscribe: invalid scope %q", scope.String())
	}
	channel := s.Channel(scope)
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	s.log.Info("subscribed", zap.String("channel", channel))
	return &Subscription{pubsub: pubsub, channel: channel, log: s.log}, nil
}

// Publish sends ev on the channel of scope, stamping the scope into it.
func (s *RedisSubscriber) Publish(ctx context.Context, scope comment.Scope, ev Event) error {
	payload, err := Encode(ev.WithScope(scope))
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.Channel(scope), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

type Subscription struct {
	pubsub  *redis.PubSub
	channel string
	log     *zap.Logger
}

// Run hands every message to handle until ctx is done or the subscription
// is closed.
func (s *Subscription) Run(ctx context.Context, handle func([]byte)) {
	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				s.log.Debug("subscription closed", zap.String("channel", s.channel))
				return
			}
			handle([]byte(msg.Payload))
		}
	}
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
