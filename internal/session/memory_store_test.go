package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSession(id string) *Session {
	return &Session{
		ID:    id,
		Kind:  "filesystem",
		Phase: PhaseCollecting,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	ctx := context.Background()
	if err := store.Create(ctx, newTestSession("s-1")); err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	if err := store.Create(ctx, newTestSession("s-1")); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("期望冲突错误, 实际 %v", err)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("读取会话失败: %v", err)
	}
	if got.Phase != PhaseCollecting || got.CreatedAt == 0 {
		t.Fatalf("会话内容异常: %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("期望未找到错误, 实际 %v", err)
	}
}

func TestMemoryStoreSaveIsolatesCaller(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	ctx := context.Background()
	session := newTestSession("s-2")
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}

	session.Phase = PhaseVerifying
	session.AppendLog(time.Now().Unix(), "开始验证")
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("保存会话失败: %v", err)
	}

	// 调用方继续修改自己的副本不应影响存储内容。
	session.Log[0].Message = "被篡改"
	got, err := store.Get(ctx, "s-2")
	if err != nil {
		t.Fatalf("读取会话失败: %v", err)
	}
	if got.Log[0].Message != "开始验证" {
		t.Fatalf("存储未与调用方隔离: %q", got.Log[0].Message)
	}

	if err := store.Save(ctx, newTestSession("missing")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("保存不存在的会话应报未找到, 实际 %v", err)
	}
}

func TestMemoryStoreListOrdersByUpdatedAt(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		session := newTestSession(id)
		if err := store.Create(ctx, session); err != nil {
			t.Fatalf("创建会话失败: %v", err)
		}
	}

	results, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("列举会话失败: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("期望 2 条, 实际 %d 条", len(results))
	}
	if results[0].UpdatedAt < results[1].UpdatedAt {
		t.Fatalf("列举顺序应为更新时间倒序")
	}
}

func TestMemoryStoreExpireBeforeKeepsActiveSessions(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	ctx := context.Background()
	done := newTestSession("done")
	done.Phase = PhaseComplete
	running := newTestSession("running")
	running.Phase = PhaseVerifying
	for _, session := range []*Session{done, running} {
		if err := store.Create(ctx, session); err != nil {
			t.Fatalf("创建会话失败: %v", err)
		}
	}

	removed, err := store.ExpireBefore(ctx, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("过期清理失败: %v", err)
	}
	if removed != 1 {
		t.Fatalf("期望仅清理终态会话, 实际清理 %d 条", removed)
	}
	if _, err := store.Get(ctx, "running"); err != nil {
		t.Fatalf("运行中的会话不应被清理: %v", err)
	}
	if _, err := store.Get(ctx, "done"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("终态会话应被清理, 实际 %v", err)
	}
}
