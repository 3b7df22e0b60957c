package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

const (
	liveKeyPrefix  = "device:"
	liveKeySuffix  = ":live"
	livePattern    = "device:*:live"
	defaultLiveTTL = 2 * time.Minute
)

var Rdb *redis.Client

func InitRedis(ctx context.Context, address, username, password string) error {
	Rdb = redis.NewClient(&redis.Options{
		Addr:     address,
		Username: username,
		Password: password,
		DB:       0,
	})
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", address, err)
	}
	log.Info().Str("addr", address).Msg("connected to redis")
	return nil
}

// LiveKey is both the snapshot key and the pub/sub channel for a device.
func LiveKey(deviceID int) string {
	return liveKeyPrefix + strconv.Itoa(deviceID) + liveKeySuffix
}

// deviceFromChannel parses the id back out of a LiveKey.
func deviceFromChannel(channel string) (int, bool) {
	if !strings.HasPrefix(channel, liveKeyPrefix) || !strings.HasSuffix(channel, liveKeySuffix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(channel, liveKeyPrefix), liveKeySuffix))
	if err != nil {
		return 0, false
	}
	return id, true
}

// LiveStatusPublisher caches each device's last snapshot and announces it
// to dashboard subscribers.
type LiveStatusPublisher struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLiveStatusPublisher(rdb *redis.Client, ttl time.Duration) *LiveStatusPublisher {
	if ttl <= 0 {
		ttl = defaultLiveTTL
	}
	return &LiveStatusPublisher{rdb: rdb, ttl: ttl}
}

func (p *LiveStatusPublisher) PublishStatus(ctx context.Context, snap model.PlaybackSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	key := LiveKey(snap.DeviceID)
	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, key, payload, p.ttl)
	pipe.Publish(ctx, key, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish live status for device %d: %w", snap.DeviceID, err)
	}
	return nil
}

// LastStatus returns the cached snapshot, if one has not expired.
func (p *LiveStatusPublisher) LastStatus(ctx context.Context, deviceID int) (model.PlaybackSnapshot, error) {
	raw, err := p.rdb.Get(ctx, LiveKey(deviceID)).Bytes()
	if err == redis.Nil {
		return model.PlaybackSnapshot{}, fmt.Errorf("live status for device %d: %w", deviceID, model.ErrNotFound)
	}
	if err != nil {
		return model.PlaybackSnapshot{}, err
	}
	var snap model.PlaybackSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.PlaybackSnapshot{}, err
	}
	return snap, nil
}

// Subscribe streams every published snapshot until ctx is done. A
// non-zero deviceID narrows the stream to that device.
func (p *LiveStatusPublisher) Subscribe(ctx context.Context, deviceID int) <-chan model.PlaybackSnapshot {
	var sub *redis.PubSub
	if deviceID > 0 {
		sub = p.rdb.Subscribe(ctx, LiveKey(deviceID))
	} else {
		sub = p.rdb.PSubscribe(ctx, livePattern)
	}

	out := make(chan model.PlaybackSnapshot, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if _, ok := deviceFromChannel(msg.Channel); !ok {
					continue
				}
				var snap model.PlaybackSnapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed live status")
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
