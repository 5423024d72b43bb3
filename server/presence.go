package main

import (
	"context"
	"encoding/json"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"collabtext/internal/liveview"
	"collabtext/internal/wire"
)

func channelName(token string) string {
	return "shared:" + token
}

func viewersKey(token string) string {
	return "shared:" + token + ":viewers"
}

// Broadcaster publishes frames to every relay instance watching a document.
type Broadcaster struct {
	rdb *redis.Client
}

func NewBroadcaster(rdb *redis.Client) *Broadcaster {
	return &Broadcaster{rdb: rdb}
}

func (b *Broadcaster) Publish(ctx context.Context, token string, frame []byte) error {
	return b.rdb.Publish(ctx, channelName(token), frame).Err()
}

func (b *Broadcaster) PublishUpdate(ctx context.Context, token string, update liveview.UpdateEvent) error {
	raw, err := liveview.EncodeUpdate(update)
	if err != nil {
		return err
	}
	frame, err := wire.Encode(wire.EventDocumentUpdated, json.RawMessage(raw))
	if err != nil {
		return err
	}
	return b.Publish(ctx, token, frame)
}

// Join counts one more viewer of token and publishes the new count.
func (b *Broadcaster) Join(ctx context.Context, token string) (int64, error) {
	n, err := b.rdb.Incr(ctx, viewersKey(token)).Result()
	if err != nil {
		return 0, err
	}
	return n, b.publishCount(ctx, token, n)
}

func (b *Broadcaster) Leave(ctx context.Context, token string) (int64, error) {
	n, err := b.rdb.Decr(ctx, viewersKey(token)).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		// counter drifted (e.g. redis restarted while viewers were attached)
		b.rdb.Set(ctx, viewersKey(token), 0, 0)
		n = 0
	}
	return n, b.publishCount(ctx, token, n)
}

func (b *Broadcaster) Viewers(ctx context.Context, token string) (int64, error) {
	n, err := b.rdb.Get(ctx, viewersKey(token)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (b *Broadcaster) publishCount(ctx context.Context, token string, n int64) error {
	frame, err := wire.Encode(wire.EventViewerCount, n)
	if err != nil {
		return err
	}
	glog.V(2).Infof("[p]%s viewers = %d\n", token, n)
	return b.Publish(ctx, token, frame)
}
