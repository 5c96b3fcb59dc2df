package session

import "context"

// Store 抽象了会话状态的持久化接口。
type Store interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	List(ctx context.Context, limit int) ([]*Session, error)
	ExpireBefore(ctx context.Context, cutoff int64) (int, error)
	Close() error
}
