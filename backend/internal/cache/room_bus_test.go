package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	redis "github.com/redis/go-redis/v9"
)

func TestRoomFromChannel(t *testing.T) {
	assert.Equal(t, "doc-1", roomFromChannel(updatesChannel("doc-1")))
	assert.Equal(t, "a:b", roomFromChannel("room:updates:a:b"))
	assert.Equal(t, "", roomFromChannel("presence:room:x"))
}

func TestRoomBus_FanOutSkipsOwnInstance(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	defer rdb.Close()

	a, b := NewRoomBus(rdb), NewRoomBus(rdb)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type got struct {
		room   string
		update []byte
	}
	recvA, recvB := make(chan got, 4), make(chan got, 4)
	ready := make(chan struct{}, 2)
	for _, p := range []struct {
		bus *RoomBus
		out chan got
	}{{a, recvA}, {b, recvB}} {
		go func() {
			ready <- struct{}{}
			_ = p.bus.Subscribe(ctx, func(room string, update []byte) { p.out <- got{room, update} })
		}()
	}
	<-ready
	<-ready
	// 给 PSUBSCRIBE 一点时间生效
	time.Sleep(200 * time.Millisecond)

	if err := a.Publish(ctx, "room-x", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case g := <-recvB:
		assert.Equal(t, "room-x", g.room)
		assert.Equal(t, []byte{1, 2, 3}, g.update)
	case <-ctx.Done():
		t.Fatalf("peer instance did not receive update")
	}
	select {
	case g := <-recvA:
		t.Fatalf("publisher received its own update %v", g)
	case <-time.After(200 * time.Millisecond):
	}
}
