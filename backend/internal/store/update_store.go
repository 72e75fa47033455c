package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// RoomUpdate 是房间更新日志的一行。Update 是不透明的 CRDT 更新，这里从不解析。
// ID 是 ulid，按字典序排序即按写入时间排序。
type RoomUpdate struct {
	ID        string    `gorm:"primaryKey;size:26"`
	RoomID    string    `gorm:"index:idx_room_id;size:128;not null"`
	ClientID  string    `gorm:"size:64"`
	Update    []byte    `gorm:"type:longblob;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (RoomUpdate) TableName() string { return "room_updates" }

// GormUpdateStore 基于 MySQL 的更新日志
type GormUpdateStore struct{ db *gorm.DB }

func NewGormUpdateStore(db *gorm.DB) *GormUpdateStore {
	return &GormUpdateStore{db: db}
}

// AppendUpdate 追加一行，返回行 ID
func (s *GormUpdateStore) AppendUpdate(ctx context.Context, roomID, clientID string, update []byte) (string, error) {
	row := RoomUpdate{ID: ulid.Make().String(), RoomID: roomID, ClientID: clientID, Update: update}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil && !isDuplicate(err) {
		return "", err
	}
	return row.ID, nil
}

// LoadUpdates 按写入顺序返回房间的全部更新，lastID 是最后一行的 ID
func (s *GormUpdateStore) LoadUpdates(ctx context.Context, roomID string) (updates [][]byte, lastID string, err error) {
	var rows []RoomUpdate
	err = s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, "", err
	}
	for _, r := range rows {
		updates = append(updates, r.Update)
		lastID = r.ID
	}
	return updates, lastID, nil
}

// CompactUpdates 用一份完整快照替换 throughID 及之前的所有行。
// 快照沿用 throughID，排在之后追加的行前面。
func (s *GormUpdateStore) CompactUpdates(ctx context.Context, roomID, throughID string, snapshot []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ? AND id <= ?", roomID, throughID).Delete(&RoomUpdate{}).Error; err != nil {
			return fmt.Errorf("delete compacted rows: %w", err)
		}
		row := RoomUpdate{ID: throughID, RoomID: roomID, ClientID: "compaction", Update: snapshot}
		if err := tx.Create(&row).Error; err != nil && !isDuplicate(err) {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return nil
	})
}

// 主键冲突说明这一行已经写过
func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// MemoryUpdateStore 进程内实现，单实例部署和测试用
type MemoryUpdateStore struct {
	mu    sync.Mutex
	rooms map[string][]RoomUpdate
}

func NewMemoryUpdateStore() *MemoryUpdateStore {
	return &MemoryUpdateStore{rooms: make(map[string][]RoomUpdate)}
}

func (s *MemoryUpdateStore) AppendUpdate(_ context.Context, roomID, clientID string, update []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ulid.Make().String()
	s.rooms[roomID] = append(s.rooms[roomID], RoomUpdate{
		ID:        id,
		RoomID:    roomID,
		ClientID:  clientID,
		Update:    slices.Clone(update),
		CreatedAt: time.Now(),
	})
	return id, nil
}

func (s *MemoryUpdateStore) LoadUpdates(_ context.Context, roomID string) ([][]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		updates [][]byte
		lastID  string
	)
	for _, r := range s.rooms[roomID] {
		updates = append(updates, r.Update)
		lastID = r.ID
	}
	return updates, lastID, nil
}

func (s *MemoryUpdateStore) CompactUpdates(_ context.Context, roomID, throughID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rooms[roomID]
	kept := []RoomUpdate{{ID: throughID, RoomID: roomID, ClientID: "compaction", Update: slices.Clone(snapshot), CreatedAt: time.Now()}}
	for _, r := range rows {
		if r.ID > throughID {
			kept = append(kept, r)
		}
	}
	s.rooms[roomID] = kept
	return nil
}

// Len 返回房间当前的行数
func (s *MemoryUpdateStore) Len(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[roomID])
}
