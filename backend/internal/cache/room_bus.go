package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// busMessage 是频道上的消息体，Update 在 json 里是 base64
type busMessage struct {
	Instance string `json:"instance"`
	Update   []byte `json:"update"`
}

// RoomBus 用 Redis Pub/Sub 在中继实例之间转发房间更新。
// 每个实例有自己的 instance id，收到自己发的消息直接丢弃。
type RoomBus struct {
	rdb      redis.UniversalClient
	instance string
}

func NewRoomBus(rdb redis.UniversalClient) *RoomBus {
	return &RoomBus{rdb: rdb, instance: uuid.NewString()}
}

func (b *RoomBus) Instance() string { return b.instance }

func (b *RoomBus) Publish(ctx context.Context, roomID string, update []byte) error {
	payload, err := json.Marshal(busMessage{Instance: b.instance, Update: update})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, updatesChannel(roomID), payload).Err()
}

// Subscribe 阻塞直到 ctx 结束，把其他实例发布的更新交给 handle
func (b *RoomBus) Subscribe(ctx context.Context, handle func(roomID string, update []byte)) error {
	sub := b.rdb.PSubscribe(ctx, updatesPattern())
	defer sub.Close()

	// 等订阅确认，连不上 redis 时这里直接返回错误
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", updatesPattern(), err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID := roomFromChannel(msg.Channel)
			if roomID == "" {
				continue
			}
			var m busMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				glog.Warningf("drop bus message channel=%s err=%v", msg.Channel, err)
				continue
			}
			if m.Instance == b.instance {
				continue
			}
			handle(roomID, m.Update)
		}
	}
}
