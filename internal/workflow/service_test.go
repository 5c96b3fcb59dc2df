package workflow

import (
	"context"
	"testing"

	"ZKAttest-Chain/internal/session"
)

func newTestService(t *testing.T) (*Service, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(0)
	queue := session.NewMemoryQueue(16)
	broker := session.NewBroker(16)
	service := NewService(store, queue, broker)
	t.Cleanup(func() { _ = service.Close() })
	return service, store
}

func TestServiceSubmitCreatesAndEnqueues(t *testing.T) {
	service, store := newTestService(t)

	sess, err := service.Submit(context.Background(), SubmitRequest{Kind: "filesystem"})
	if err != nil {
		t.Fatalf("提交会话失败: %v", err)
	}
	if sess.ID == "" || sess.Phase != session.PhaseCollecting {
		t.Fatalf("会话初始状态异常: %+v", sess)
	}

	stored, err := store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("会话未落盘: %v", err)
	}
	if stored.Kind != "filesystem" {
		t.Fatalf("会话类别异常: %q", stored.Kind)
	}
}

func TestServiceSubmitIsIdempotentByID(t *testing.T) {
	service, _ := newTestService(t)

	first, err := service.Submit(context.Background(), SubmitRequest{ID: "fixed", Kind: "filesystem"})
	if err != nil {
		t.Fatalf("提交会话失败: %v", err)
	}
	second, err := service.Submit(context.Background(), SubmitRequest{ID: "fixed", Kind: "filesystem"})
	if err != nil {
		t.Fatalf("重复提交失败: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("重复提交应返回同一会话: %s vs %s", first.ID, second.ID)
	}
}

func TestServiceSubmitRejectsEmptyKind(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.Submit(context.Background(), SubmitRequest{}); err == nil {
		t.Fatal("空类别应被拒绝")
	}
}

func TestServiceSubscribeTerminalSessionReturnsNilStream(t *testing.T) {
	service, store := newTestService(t)

	done := &session.Session{ID: "done", Kind: "filesystem", Phase: session.PhaseComplete}
	if err := store.Create(context.Background(), done); err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	stream, err := service.Subscribe(context.Background(), "done")
	if err != nil {
		t.Fatalf("订阅失败: %v", err)
	}
	if stream != nil {
		t.Fatal("终态会话应返回空流")
	}
}
