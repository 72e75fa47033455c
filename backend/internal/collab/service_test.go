package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"

	"rteSync/backend/internal/crdt"
	"rteSync/backend/internal/store"
)

type recordingBus struct {
	mu      sync.Mutex
	updates map[string]int
}

func (b *recordingBus) Publish(_ context.Context, roomID string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updates == nil {
		b.updates = make(map[string]int)
	}
	b.updates[roomID]++
	return nil
}

func clientUpdate(t *testing.T, doc *crdt.Doc, edit func(*crdt.Text)) []byte {
	t.Helper()
	var last []byte
	remove := doc.OnUpdate(func(update []byte, _ any) { last = update })
	defer remove()
	edit(doc.Text())
	if last == nil {
		t.Fatalf("edit produced no update")
	}
	return last
}

func TestService_ApplyAndDiff(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	svc := NewInMemoryService(Options{Store: store.NewMemoryUpdateStore(), Bus: bus})

	client := crdt.NewDoc()
	u1 := clientUpdate(t, client, func(tx *crdt.Text) { _ = tx.Insert(0, "hello", nil) })

	changed, err := svc.Apply(ctx, "r1", "c1", u1)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, changed)

	// 重复投递不再转发
	changed, err = svc.Apply(ctx, "r1", "c1", u1)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, changed)
	assert.Equal(t, 1, bus.updates["r1"])

	text, _ := svc.Text(ctx, "r1")
	assert.Equal(t, "hello", text)

	fresh := crdt.NewDoc()
	diff, err := svc.Diff(ctx, "r1", fresh.EncodeStateVector())
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, fresh.ApplyUpdate(diff, nil))
	assert.Equal(t, "hello", fresh.Text().String())

	// 已经同步的客户端拿到的差量不含任何操作
	diff, _ = svc.Diff(ctx, "r1", client.EncodeStateVector())
	before := client.Text().String()
	assert.Equal(t, nil, client.ApplyUpdate(diff, nil))
	assert.Equal(t, before, client.Text().String())
}

func TestService_ReloadFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryUpdateStore()
	svc := NewInMemoryService(Options{Store: st, CompactEvery: 3})

	client := crdt.NewDoc()
	edits := []func(*crdt.Text){
		func(tx *crdt.Text) { _ = tx.Insert(0, "abc", nil) },
		func(tx *crdt.Text) { _ = tx.Format(0, 2, map[string]any{"bold": true}) },
		func(tx *crdt.Text) { tx.Delete(1, 1) },
		func(tx *crdt.Text) { _ = tx.Insert(2, "!", nil) },
	}
	for _, e := range edits {
		if _, err := svc.Apply(ctx, "doc", "c1", clientUpdate(t, client, e)); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	// 3 行压缩成 1 行快照，再追加 1 行
	assert.Equal(t, 2, st.Len("doc"))

	reloaded := NewInMemoryService(Options{Store: st})
	text, err := reloaded.Text(ctx, "doc")
	assert.Equal(t, nil, err)
	assert.Equal(t, client.Text().String(), text)

	sv, _ := reloaded.StateVector(ctx, "doc")
	assert.Equal(t, client.EncodeStateVector(), sv)
}

func TestService_ApplyRemoteIsNotRepublished(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	st := store.NewMemoryUpdateStore()
	svc := NewInMemoryService(Options{Store: st, Bus: bus})

	u := clientUpdate(t, crdt.NewDoc(), func(tx *crdt.Text) { _ = tx.Insert(0, "x", nil) })
	changed, err := svc.ApplyRemote(ctx, "r", u)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, changed)
	assert.Equal(t, 0, bus.updates["r"])
	assert.Equal(t, 0, st.Len("r"))

	changed, _ = svc.Apply(ctx, "r", "c", u)
	assert.Equal(t, false, changed)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(Options{})

	if _, err := svc.Apply(ctx, "", "c", nil); !errors.Is(err, ErrEmptyRoom) {
		t.Fatalf("Apply() error = %v, want ErrEmptyRoom", err)
	}
	if _, err := svc.Apply(ctx, "r", "c", []byte{0xff, 0xff}); !errors.Is(err, ErrBadUpdate) {
		t.Fatalf("Apply() error = %v, want ErrBadUpdate", err)
	}
	if _, err := svc.Diff(ctx, "r", []byte{0x0a}); !errors.Is(err, ErrBadUpdate) {
		t.Fatalf("Diff() error = %v, want ErrBadUpdate", err)
	}
}

func TestService_ConcurrentFirstLoad(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(Options{Store: store.NewMemoryUpdateStore()})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.StateVector(ctx, "same")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, svc.Rooms())
}

func TestSemaphoreControl(t *testing.T) {
	sem := NewSemaphoreControl(1)
	assert.Equal(t, nil, sem.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, ErrAcquireTimeout, sem.Acquire(ctx))

	assert.Equal(t, nil, sem.Release())
	assert.Equal(t, ErrNotAcquired, sem.Release())
}
