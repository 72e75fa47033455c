package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"rteSync/backend/internal/collab"
	"rteSync/backend/internal/crdt"
	"rteSync/backend/internal/replica"
	"rteSync/backend/internal/store"
)

type relayOrigin struct{}

// testClient 按握手协议驱动一份本地副本
type testClient struct {
	mu     sync.Mutex
	doc    *crdt.Doc
	p      *Provider
	ready  chan struct{}
	status []replica.Status
}

func newRelayServer(t *testing.T) (*httptest.Server, *collab.InMemoryService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := collab.NewInMemoryService(collab.Options{Store: store.NewMemoryUpdateStore()})
	m := NewManager(NewHub(), svc, collab.NewSemaphoreControl(8))
	r := gin.New()
	r.GET("/collab/ws", m.WebSocketConnect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func dialClient(t *testing.T, srv *httptest.Server, room string) *testClient {
	t.Helper()
	c := &testClient{doc: crdt.NewDoc(), ready: make(chan struct{})}
	c.doc.OnUpdate(func(update []byte, origin any) {
		if _, ok := origin.(relayOrigin); ok {
			return
		}
		c.p.Send(Frame{Type: FrameUpdate, Payload: update})
	})
	p, err := NewProvider(ProviderOptions{
		URL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/collab/ws",
		Room: room,
	}, c.onStatus, c.onFrame)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	c.p = p
	close(c.ready)
	t.Cleanup(p.Close)
	return c
}

func (c *testClient) onStatus(s replica.Status) {
	<-c.ready
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = append(c.status, s)
	if s == replica.Connected {
		c.p.Send(Frame{Type: FrameSyncStep1, Payload: c.doc.EncodeStateVector()})
	}
}

func (c *testClient) onFrame(f Frame) {
	<-c.ready
	c.mu.Lock()
	defer c.mu.Unlock()
	switch f.Type {
	case FrameSyncStep1:
		diff, err := c.doc.EncodeStateAsUpdate(f.Payload)
		if err == nil {
			c.p.Send(Frame{Type: FrameSyncStep2, Payload: diff})
		}
	case FrameSyncStep2, FrameUpdate:
		_ = c.doc.ApplyUpdate(f.Payload, relayOrigin{})
	}
}

func (c *testClient) edit(fn func(*crdt.Text)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.doc.Text())
}

func (c *testClient) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Text().String()
}

func (c *testClient) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.status) > 0 && c.status[len(c.status)-1] == replica.Connected
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelay_TwoClientsConverge(t *testing.T) {
	srv, svc := newRelayServer(t)

	a := dialClient(t, srv, "room-1")
	eventually(t, "a connected", a.connected)
	a.edit(func(tx *crdt.Text) { _ = tx.Insert(0, "hello", nil) })

	// b 通过握手拿到 a 之前的编辑
	b := dialClient(t, srv, "room-1")
	eventually(t, "b catches up", func() bool { return b.text() == "hello" })

	// 之后的增量通过广播到达
	b.edit(func(tx *crdt.Text) { _ = tx.Insert(5, " world", nil) })
	eventually(t, "a receives broadcast", func() bool { return a.text() == "hello world" })
	a.edit(func(tx *crdt.Text) { _ = tx.Format(0, 5, map[string]any{"bold": true}) })
	eventually(t, "b receives format", func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.doc.Text().ToDelta()) == 2
	})

	text, err := svc.Text(t.Context(), "room-1")
	assert.Equal(t, nil, err)
	assert.Equal(t, "hello world", text)

	// 其他房间不受影响
	other := dialClient(t, srv, "room-2")
	eventually(t, "other connected", other.connected)
	assert.Equal(t, "", other.text())
}

func TestRelay_MissingRoomIsRejected(t *testing.T) {
	srv, _ := newRelayServer(t)
	resp, err := http.Get(srv.URL + "/collab/ws")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProvider_ReconnectsWithBackoff(t *testing.T) {
	// 没有服务监听的地址，provider 应在 connecting/disconnected 之间循环
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	var (
		mu       sync.Mutex
		statuses []replica.Status
	)
	p, err := NewProvider(ProviderOptions{
		URL:        "ws" + strings.TrimPrefix(addr, "http"),
		Room:       "r",
		MinBackoff: time.Millisecond,
		MaxBackoff: 4 * time.Millisecond,
	}, func(s replica.Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}, func(Frame) {})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	eventually(t, "several attempts", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) >= 6
	})
	assert.Equal(t, false, p.Send(Frame{Type: FrameUpdate}))
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	for i, s := range statuses {
		want := replica.Connecting
		if i%2 == 1 {
			want = replica.Disconnected
		}
		assert.Equal(t, want, s)
	}
}
