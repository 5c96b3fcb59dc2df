package session

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "ZKAttest-Chain/internal/errors"
)

const defaultCleanupInterval = time.Minute

// MemoryStore 以内存方式保存会话状态。配置了 TTL 时后台协程会定期
// 清除超期的终态会话。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

// NewMemoryStore 创建 MemoryStore。ttl 为零表示不做过期清理。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	store := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	if ttl > 0 {
		go store.cleanupLoop()
	}
	return store
}

func (m *MemoryStore) cleanupLoop() {
	interval := m.ttl / 4
	if interval <= 0 || interval > defaultCleanupInterval {
		interval = defaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.ttl).Unix()
			_, _ = m.ExpireBefore(context.Background(), cutoff)
		}
	}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, session *Session) error {
	if session == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if session.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; ok {
		return ErrSessionConflict
	}
	now := time.Now().Unix()
	if session.CreatedAt == 0 {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	m.sessions[session.ID] = session.Clone()
	return nil
}

// Get 返回会话。
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Save 覆盖保存会话状态。
func (m *MemoryStore) Save(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	session.UpdatedAt = time.Now().Unix()
	m.sessions[session.ID] = session.Clone()
	return nil
}

// List 按更新时间倒序返回最近会话。
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	results := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		results = append(results, session.Clone())
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ExpireBefore 删除在 cutoff 之前最后更新且已终结的会话。
func (m *MemoryStore) ExpireBefore(_ context.Context, cutoff int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, session := range m.sessions {
		if session.Phase.IsTerminal() && session.UpdatedAt < cutoff {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Close 停止后台清理协程。
func (m *MemoryStore) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

var _ Store = (*MemoryStore)(nil)
