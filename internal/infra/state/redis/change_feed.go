package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

const subscriptionBuffer = 64

// RedisChangeFeed 是 ChangeFeed 的 Redis Pub/Sub 实现，每个房间一个频道。
type RedisChangeFeed struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisChangeFeed(client *redis.Client, keyPrefix string) *RedisChangeFeed {
	if client == nil {
		panic("redis client cannot be nil for RedisChangeFeed")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisChangeFeed{client: client, keyPrefix: keyPrefix}
}

func (f *RedisChangeFeed) channel(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:changes", f.keyPrefix, roomID)
}

// Publish 将变更事件发布到 event.RoomID 的频道。
func (f *RedisChangeFeed) Publish(ctx context.Context, event domain.ChangeEvent) error {
	channel := f.channel(event.RoomID)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal change event %s/%s: %w", event.Table, event.Op, err)
	}
	if err := f.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      channel,
			"payload_size": len(payload),
			"table":        event.Table,
			"op":           event.Op,
			"room_id":      event.RoomID,
		}).WithError(err).Error("Redis Publish failed")
		return wrapErr(fmt.Sprintf("publish change to channel %s", channel), err)
	}
	return nil
}

// Subscribe 订阅房间频道，等待订阅确认后才返回，之后发布的事件不会丢失。
func (f *RedisChangeFeed) Subscribe(ctx context.Context, roomID uint) (repository.Subscription, error) {
	channel := f.channel(roomID)
	ps := f.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrapErr(fmt.Sprintf("subscribe to channel %s", channel), err)
	}
	sub := &redisSubscription{
		ps:      ps,
		channel: channel,
		events:  make(chan domain.ChangeEvent, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	go sub.run()
	return sub, nil
}

type redisSubscription struct {
	ps      *redis.PubSub
	channel string
	events  chan domain.ChangeEvent
	done    chan struct{}
	once    sync.Once
}

func (s *redisSubscription) Events() <-chan domain.ChangeEvent { return s.events }

func (s *redisSubscription) run() {
	defer close(s.events)
	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logrus.WithField("channel", s.channel).WithError(err).Warn("Dropping undecodable change event")
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// Close 取消订阅；可重复调用。
func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
