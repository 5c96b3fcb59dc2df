package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"

	xerrors "ZKAttest-Chain/internal/errors"
	"ZKAttest-Chain/internal/session"
	"ZKAttest-Chain/pkg/logger"

	"github.com/google/uuid"
)

// SubmitRequest 描述一次会话提交。
type SubmitRequest struct {
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind"`
}

// Service 负责会话的创建、查询与订阅。
type Service struct {
	store    session.Store
	producer session.Producer
	broker   *session.Broker
}

// NewService 构造会话服务。
func NewService(store session.Store, producer session.Producer, broker *session.Broker) *Service {
	return &Service{store: store, producer: producer, broker: broker}
}

// Submit 创建一个新的会话并推送到运行队列。重复提交同一 ID 返回已有会话。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*session.Session, error) {
	if strings.TrimSpace(req.Kind) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话类别不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话服务未初始化")
	}

	sessionID := strings.TrimSpace(req.ID)
	if sessionID != "" {
		existing, err := s.store.Get(ctx, sessionID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}
	} else {
		sessionID = uuid.NewString()
	}

	sess := &session.Session{
		ID:    sessionID,
		Kind:  req.Kind,
		Phase: session.PhaseCollecting,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		if stdErrors.Is(err, session.ErrSessionConflict) {
			existing, getErr := s.store.Get(ctx, sessionID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, session.ErrSessionNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, sessionID); err != nil {
		logger.L().Error("会话入队失败", slog.Any("error", err), slog.String("session_id", sessionID))
		return nil, xerrors.Wrap(session.CodeSessionPublish, err, "发布会话到队列失败")
	}
	logger.Audit().Info("会话入队成功",
		slog.String("session_id", sessionID),
		slog.String("kind", req.Kind),
	)
	return sess, nil
}

// Get 返回指定会话的状态。
func (s *Service) Get(ctx context.Context, id string) (*session.Session, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回最近的会话。
func (s *Service) List(ctx context.Context, limit int) ([]*session.Session, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	return s.store.List(ctx, limit)
}

// Subscribe 订阅会话的事件流。会话已终结时返回 nil 流, 调用方应改用 Get。
func (s *Service) Subscribe(ctx context.Context, id string) (*session.Stream, error) {
	if s.broker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "事件分发器未初始化")
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Phase.IsTerminal() {
		return nil, nil
	}
	return s.broker.Subscribe(id), nil
}

// Unsubscribe 取消订阅。
func (s *Service) Unsubscribe(id string, stream *session.Stream) {
	if s.broker != nil {
		s.broker.Unsubscribe(id, stream)
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
