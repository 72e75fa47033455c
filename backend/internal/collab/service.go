package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"

	"rteSync/backend/internal/crdt"
)

var (
	ErrEmptyRoom  = errors.New("EMPTY_ROOM_ID")
	ErrBadUpdate  = errors.New("BAD_UPDATE")
	ErrLoadFailed = errors.New("ROOM_LOAD_FAILED")
)

// Service 是中继的房间副本服务。每个房间在服务端持有一份 CRDT 副本，
// 只用来回答状态向量与差量，客户端的更新在这里合并后再转发。
type Service interface {
	StateVector(ctx context.Context, roomID string) ([]byte, error)
	// Diff 返回 sv 所缺的全部更新
	Diff(ctx context.Context, roomID string, sv []byte) ([]byte, error)
	// Apply 合并一个客户端更新。changed 为 false 表示更新已经见过，不需要转发。
	Apply(ctx context.Context, roomID, clientID string, update []byte) (changed bool, err error)
	// ApplyRemote 合并另一个中继实例转来的更新，不再持久化也不再发布
	ApplyRemote(ctx context.Context, roomID string, update []byte) (changed bool, err error)
	Text(ctx context.Context, roomID string) (string, error)
}

// UpdateStore 房间更新日志，更新字节不透明
type UpdateStore interface {
	AppendUpdate(ctx context.Context, roomID, clientID string, update []byte) (id string, err error)
	LoadUpdates(ctx context.Context, roomID string) (updates [][]byte, lastID string, err error)
	CompactUpdates(ctx context.Context, roomID, throughID string, snapshot []byte) error
}

// RoomBus 在多个中继实例之间扇出更新
type RoomBus interface {
	Publish(ctx context.Context, roomID string, update []byte) error
}

type Options struct {
	Store      UpdateStore
	Bus        RoomBus
	Dispatcher *KafkaDispatcher
	// CompactEvery 每追加多少行压缩一次日志，0 表示不压缩
	CompactEvery int
	// 外部依赖调用的超时
	SideEffectTimeout time.Duration
}

type loadOrigin struct{}

type remoteOrigin struct{}

type room struct {
	mu       sync.Mutex
	doc      *crdt.Doc
	lastID   string
	appended int
}

type InMemoryService struct {
	mu    sync.RWMutex
	rooms map[string]*room
	group singleflight.Group
	opt   Options
}

func NewInMemoryService(opt Options) *InMemoryService {
	if opt.SideEffectTimeout <= 0 {
		opt.SideEffectTimeout = time.Second
	}
	return &InMemoryService{rooms: make(map[string]*room), opt: opt}
}

func (s *InMemoryService) StateVector(ctx context.Context, roomID string) ([]byte, error) {
	r, err := s.getOrLoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.EncodeStateVector(), nil
}

func (s *InMemoryService) Diff(ctx context.Context, roomID string, sv []byte) ([]byte, error) {
	r, err := s.getOrLoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	diff, err := r.doc.EncodeStateAsUpdate(sv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadUpdate, err)
	}
	return diff, nil
}

func (s *InMemoryService) Text(ctx context.Context, roomID string) (string, error) {
	r, err := s.getOrLoadRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Text().String(), nil
}

func (s *InMemoryService) Apply(ctx context.Context, roomID, clientID string, update []byte) (bool, error) {
	r, err := s.getOrLoadRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	changed, err := mergeUpdate(r.doc, update, clientID)
	if err != nil || !changed {
		return false, err
	}
	sv := r.doc.EncodeStateVector()
	s.persist(ctx, roomID, clientID, r, update)
	s.publish(ctx, roomID, clientID, update, sv)
	return true, nil
}

func (s *InMemoryService) ApplyRemote(ctx context.Context, roomID string, update []byte) (bool, error) {
	r, err := s.getOrLoadRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return mergeUpdate(r.doc, update, remoteOrigin{})
}

// 状态向量或挂起缓冲有变化才算 changed
func mergeUpdate(doc *crdt.Doc, update []byte, origin any) (bool, error) {
	before, pending := doc.EncodeStateVector(), doc.Pending()
	if err := doc.ApplyUpdate(update, origin); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadUpdate, err)
	}
	return !bytes.Equal(before, doc.EncodeStateVector()) || doc.Pending() != pending, nil
}

// 持久化失败只记日志：内存副本已经合并，客户端重连时仍能拿到
func (s *InMemoryService) persist(ctx context.Context, roomID, clientID string, r *room, update []byte) {
	if s.opt.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opt.SideEffectTimeout)
	defer cancel()

	id, err := s.opt.Store.AppendUpdate(ctx, roomID, clientID, update)
	if err != nil {
		glog.Warningf("append update failed room=%s client=%s err=%v", roomID, clientID, err)
		return
	}
	r.lastID = id
	r.appended++
	if s.opt.CompactEvery <= 0 || r.appended < s.opt.CompactEvery {
		return
	}
	snapshot, err := r.doc.EncodeStateAsUpdate(nil)
	if err == nil {
		err = s.opt.Store.CompactUpdates(ctx, roomID, r.lastID, snapshot)
	}
	if err != nil {
		glog.Warningf("compact updates failed room=%s err=%v", roomID, err)
		return
	}
	glog.V(1).Infof("compacted room=%s through=%s rows=%d", roomID, r.lastID, r.appended)
	r.appended = 0
}

func (s *InMemoryService) publish(ctx context.Context, roomID, clientID string, update, sv []byte) {
	if s.opt.Bus != nil {
		busCtx, cancel := context.WithTimeout(ctx, s.opt.SideEffectTimeout)
		if err := s.opt.Bus.Publish(busCtx, roomID, update); err != nil {
			glog.Warningf("publish update failed room=%s err=%v", roomID, err)
		}
		cancel()
	}
	if s.opt.Dispatcher != nil {
		evtCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		if err := s.opt.Dispatcher.Enqueue(evtCtx, newRoomUpdateEvent(roomID, clientID, update, sv)); err != nil {
			glog.V(1).Infof("drop room event room=%s err=%v", roomID, err)
		}
		cancel()
	}
}

func (s *InMemoryService) getOrLoadRoom(ctx context.Context, roomID string) (*room, error) {
	if roomID == "" {
		return nil, ErrEmptyRoom
	}
	s.mu.RLock()
	r := s.rooms[roomID]
	s.mu.RUnlock()
	if r != nil {
		return r, nil
	}

	// 同一房间的并发首次访问只回放一次日志
	v, err, _ := s.group.Do(roomID, func() (any, error) {
		s.mu.RLock()
		r := s.rooms[roomID]
		s.mu.RUnlock()
		if r != nil {
			return r, nil
		}
		r, err := s.loadRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.rooms[roomID] = r
		s.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*room), nil
}

func (s *InMemoryService) loadRoom(ctx context.Context, roomID string) (*room, error) {
	r := &room{doc: crdt.NewDoc()}
	if s.opt.Store == nil {
		return r, nil
	}
	updates, lastID, err := s.opt.Store.LoadUpdates(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, roomID, err)
	}
	for i, u := range updates {
		if err := r.doc.ApplyUpdate(u, loadOrigin{}); err != nil {
			glog.Warningf("skip stored update room=%s index=%d err=%v", roomID, i, err)
		}
	}
	r.lastID = lastID
	r.appended = len(updates)
	glog.Infof("loaded room=%s updates=%d len=%d", roomID, len(updates), r.doc.Text().Len())
	return r, nil
}

// Rooms 返回已加载的房间数
func (s *InMemoryService) Rooms() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
