package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "ZKAttest-Chain/internal/errors"
	"ZKAttest-Chain/internal/observability/alerting"
	"ZKAttest-Chain/internal/session"
	"ZKAttest-Chain/pkg/logger"
)

// Archiver 负责将终结会话归档到持久存储。
type Archiver interface {
	ArchiveSession(ctx context.Context, sess *session.Session) error
}

// Processor 负责从运行队列消费会话并交给编排器执行。
type Processor struct {
	orchestrator *Orchestrator
	consumer     session.Consumer
	workerCount  int
	logger       *slog.Logger
	alerter      alerting.Dispatcher
	archiver     Archiver
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithArchiver 配置会话归档。
func WithArchiver(archiver Archiver) ProcessorOption {
	return func(p *Processor) {
		p.archiver = archiver
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(orchestrator *Orchestrator, consumer session.Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		orchestrator: orchestrator,
		consumer:     consumer,
		workerCount:  1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = logger.Named("processor")
	return p
}

// Start 启动会话处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.orchestrator == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, sessionID string) error {
	sess, runErr := p.orchestrator.Run(ctx, sessionID)
	if sess == nil {
		// 不存在的会话 ID 永远不会通过重投变得可处理，直接丢弃，
		// 否则 Redis 队列会在无延迟的热循环里反复重投同一条消息。
		if stdErrors.Is(runErr, session.ErrSessionNotFound) {
			p.logger.Warn("会话不存在，丢弃队列消息", slog.String("session_id", sessionID))
			return nil
		}
		p.logger.Error("会话执行失败", slog.Any("error", runErr), slog.String("session_id", sessionID))
		return runErr
	}

	if runErr != nil {
		logger.Audit().Warn("会话执行失败",
			slog.String("session_id", sess.ID),
			slog.String("phase", string(sess.Phase)),
			slog.String("error", runErr.Error()),
		)
		p.emitAlert(ctx, sess, runErr)
	} else {
		logger.Audit().Info("会话执行完成",
			slog.String("session_id", sess.ID),
			slog.Int("candidates", sess.Summary.Candidates),
			slog.Int("verified", sess.Summary.Verified),
			slog.Int("attested", sess.Summary.Attested),
			slog.Int("already_recorded", sess.Summary.AlreadyRecorded),
		)
	}

	if p.archiver != nil && sess.Phase.IsTerminal() {
		if err := p.archiver.ArchiveSession(ctx, sess); err != nil {
			p.logger.Error("会话归档失败", slog.Any("error", err), slog.String("session_id", sess.ID))
		}
	}
	// 会话失败结果已落盘, 不向队列返回错误以避免重复执行。
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, sess *session.Session, cause error) {
	if p.alerter == nil {
		return
	}
	code := xerrors.CodeOf(cause)
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:      code,
		Message:   cause.Error(),
		Severity:  attrs.Severity,
		SessionID: sess.ID,
		Phase:     string(sess.Phase),
		Metadata: map[string]string{
			"kind": sess.Kind,
		},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("session_id", sess.ID),
		)
	}
}
