package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"ZKAttest-Chain/internal/attest"
	"ZKAttest-Chain/internal/envelope"
	xerrors "ZKAttest-Chain/internal/errors"
	"ZKAttest-Chain/internal/session"
	"ZKAttest-Chain/internal/verifier"
	"ZKAttest-Chain/pkg/logger"
)

// 三阶段对应的进度基线。
const (
	progressCollecting = 0
	progressVerifying  = 33
	progressAttesting  = 66
	progressComplete   = 100
)

const (
	CodeRunFailure       xerrors.Code = "WORKFLOW_RUN_FAILED"
	CodePhaseTimeout     xerrors.Code = "WORKFLOW_PHASE_TIMEOUT"
	CodeUnknownCollector xerrors.Code = "WORKFLOW_UNKNOWN_COLLECTOR"
)

func init() {
	xerrors.Register(CodeRunFailure, xerrors.Attributes{
		Message:   "workflow run failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodePhaseTimeout, xerrors.Attributes{
		Message:   "workflow phase timed out",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeUnknownCollector, xerrors.Attributes{
		Message:   "unknown candidate collector",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Verifier 定义编排器所需的验证能力。
type Verifier interface {
	Verify(ctx context.Context, env *envelope.Envelope) (verifier.Outcome, error)
}

// Attestor 定义编排器所需的见证能力。onReceipt 可为 nil，非 nil 时
// 在回执 ID 已知但尚未确认的时刻被调用。
type Attestor interface {
	Attest(ctx context.Context, fp envelope.Fingerprint, onReceipt attest.ReceiptFunc) attest.Record
}

const (
	defaultPhaseTimeout = 5 * time.Minute
	defaultAttestDelay  = 200 * time.Millisecond
)

// Orchestrator 驱动单个会话走完收集、验证与见证三个阶段。
type Orchestrator struct {
	collectors   map[string]Collector
	verifier     Verifier
	attestor     Attestor
	store        session.Store
	broker       *session.Broker
	phaseTimeout time.Duration
	attestDelay  time.Duration
	log          *slog.Logger
}

// OrchestratorOption 定义可选配置。
type OrchestratorOption func(*Orchestrator)

// WithCollector 注册一个候选来源。
func WithCollector(collector Collector) OrchestratorOption {
	return func(o *Orchestrator) {
		if collector != nil {
			o.collectors[collector.Kind()] = collector
		}
	}
}

// WithBroker 指定事件分发器。
func WithBroker(broker *session.Broker) OrchestratorOption {
	return func(o *Orchestrator) {
		o.broker = broker
	}
}

// WithPhaseTimeout 设置单个阶段的超时。
func WithPhaseTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.phaseTimeout = timeout
		}
	}
}

// WithAttestDelay 设置见证阶段相邻条目之间的固定间隔。
func WithAttestDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if delay >= 0 {
			o.attestDelay = delay
		}
	}
}

// NewOrchestrator 构造编排器。
func NewOrchestrator(store session.Store, v Verifier, a Attestor, opts ...OrchestratorOption) (*Orchestrator, error) {
	if store == nil || v == nil || a == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "编排器依赖未配置")
	}
	o := &Orchestrator{
		collectors:   make(map[string]Collector),
		verifier:     v,
		attestor:     a,
		store:        store,
		phaseTimeout: defaultPhaseTimeout,
		attestDelay:  defaultAttestDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.log = logger.Named("workflow")
	return o, nil
}

// Run 执行指定会话。终态会话直接返回，不做任何副作用。
func (o *Orchestrator) Run(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Phase.IsTerminal() {
		return sess, nil
	}

	candidates, sess, err := o.collect(ctx, sess)
	if err != nil {
		return sess, err
	}
	if sess, err = o.verify(ctx, sess, candidates); err != nil {
		return sess, err
	}
	if sess, err = o.attest(ctx, sess); err != nil {
		return sess, err
	}
	return o.complete(ctx, sess)
}

func (o *Orchestrator) collect(ctx context.Context, sess *session.Session) ([]Candidate, *session.Session, error) {
	o.enterPhase(ctx, sess, session.PhaseCollecting, progressCollecting)

	collector, ok := o.collectors[sess.Kind]
	if !ok {
		sess, err := o.fail(ctx, sess, xerrors.New(CodeUnknownCollector, fmt.Sprintf("未注册候选来源 %q", sess.Kind)))
		return nil, sess, err
	}

	phaseCtx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()

	candidates, err := collector.Collect(phaseCtx)
	if err != nil {
		sess, err := o.fail(ctx, sess, o.phaseError(phaseCtx, err, "收集候选失败"))
		return nil, sess, err
	}

	sess.Candidates = make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		sess.Candidates = append(sess.Candidates, candidate.Name)
	}
	sess.Summary.Candidates = len(candidates)
	o.logLine(ctx, sess, fmt.Sprintf("收集到 %d 个候选", len(candidates)))
	if err := o.store.Save(ctx, sess); err != nil {
		sess, err := o.fail(ctx, sess, xerrors.Wrap(session.CodeSessionStorage, err, "保存收集结果失败"))
		return nil, sess, err
	}
	// 候选载荷不入会话状态，仅在本次运行内传递给验证阶段。
	return candidates, sess, nil
}

func (o *Orchestrator) verify(ctx context.Context, sess *session.Session, candidates []Candidate) (*session.Session, error) {
	o.enterPhase(ctx, sess, session.PhaseVerifying, progressVerifying)

	phaseCtx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()

	for _, candidate := range candidates {
		if phaseCtx.Err() != nil {
			return o.fail(ctx, sess, o.phaseError(phaseCtx, phaseCtx.Err(), "验证阶段超时"))
		}

		env, err := envelope.Decode(candidate.Payload)
		if err != nil {
			sess.Summary.FailedVerification++
			o.logLine(ctx, sess, fmt.Sprintf("候选 %s 解码失败: %v", candidate.Name, err))
			continue
		}

		outcome, err := o.verifier.Verify(phaseCtx, env)
		if err != nil {
			// 调度错误（如未注册的证明体系）终止整个会话。
			if stdErrors.Is(err, verifier.ErrUnmappedSystem) {
				return o.fail(ctx, sess, err)
			}
			return o.fail(ctx, sess, o.phaseError(phaseCtx, err, fmt.Sprintf("候选 %s 验证中断", candidate.Name)))
		}
		if !outcome.Valid {
			sess.Summary.FailedVerification++
			o.logLine(ctx, sess, fmt.Sprintf("候选 %s 验证未通过: %s", candidate.Name, outcome.Diagnostics))
			continue
		}

		fp := env.Fingerprint()
		sess.VerifiedFingerprints = append(sess.VerifiedFingerprints, fp)
		sess.Summary.Verified++
		o.logLine(ctx, sess, fmt.Sprintf("候选 %s 验证通过, 指纹 %s", candidate.Name, fp.Hex()))
	}

	if err := o.store.Save(ctx, sess); err != nil {
		return o.fail(ctx, sess, xerrors.Wrap(session.CodeSessionStorage, err, "保存验证结果失败"))
	}
	return sess, nil
}

func (o *Orchestrator) attest(ctx context.Context, sess *session.Session) (*session.Session, error) {
	o.enterPhase(ctx, sess, session.PhaseAttesting, progressAttesting)

	phaseCtx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()

	// 严格按验证顺序串行见证，条目之间保持固定间隔。
	for i, fp := range sess.VerifiedFingerprints {
		if i > 0 && o.attestDelay > 0 {
			select {
			case <-time.After(o.attestDelay):
			case <-phaseCtx.Done():
			}
		}
		if phaseCtx.Err() != nil {
			return o.fail(ctx, sess, o.phaseError(phaseCtx, phaseCtx.Err(), "见证阶段超时"))
		}

		// 回执一到手立即推送一条 pending 见证事件，终局结果随后跟进。
		record := o.attestor.Attest(phaseCtx, fp, func(pending attest.Record) {
			o.publish(session.Event{
				Type:        session.EventAttestation,
				SessionID:   sess.ID,
				At:          time.Now().Unix(),
				Phase:       sess.Phase,
				Attestation: &pending,
			})
		})
		sess.Attestations = append(sess.Attestations, record)
		switch record.Outcome {
		case attest.OutcomeConfirmed:
			sess.Summary.Attested++
		case attest.OutcomeAlreadyRecorded:
			sess.Summary.AlreadyRecorded++
		default:
			sess.Summary.FailedAttestation++
		}
		o.logLine(ctx, sess, fmt.Sprintf("指纹 %s 见证结果 %s", fp.Hex(), record.Outcome))
		o.publish(session.Event{
			Type:        session.EventAttestation,
			SessionID:   sess.ID,
			At:          time.Now().Unix(),
			Phase:       sess.Phase,
			Attestation: &record,
		})
		// 每个条目落盘一次, 阶段超时后部分结果仍可回溯。
		if err := o.store.Save(ctx, sess); err != nil {
			return o.fail(ctx, sess, xerrors.Wrap(session.CodeSessionStorage, err, "保存见证结果失败"))
		}
		if phaseCtx.Err() != nil && record.Outcome == attest.OutcomeFailed {
			return o.fail(ctx, sess, o.phaseError(phaseCtx, phaseCtx.Err(), "见证阶段超时"))
		}
	}
	return sess, nil
}

func (o *Orchestrator) complete(ctx context.Context, sess *session.Session) (*session.Session, error) {
	sess.Phase = session.PhaseComplete
	sess.ProgressPercent = progressComplete
	now := time.Now().Unix()
	sess.AppendLog(now, "会话完成")
	if err := o.store.Save(ctx, sess); err != nil {
		return sess, xerrors.Wrap(session.CodeSessionStorage, err, "保存完成状态失败")
	}
	summary := sess.Summary
	o.publish(session.Event{
		Type:      session.EventComplete,
		SessionID: sess.ID,
		At:        now,
		Phase:     sess.Phase,
		Progress:  progressComplete,
		Summary:   &summary,
	})
	if o.broker != nil {
		o.broker.CloseSession(sess.ID)
	}
	o.log.Info("会话完成",
		slog.String("session_id", sess.ID),
		slog.Int("candidates", summary.Candidates),
		slog.Int("verified", summary.Verified),
		slog.Int("attested", summary.Attested),
	)
	return sess, nil
}

func (o *Orchestrator) fail(ctx context.Context, sess *session.Session, cause error) (*session.Session, error) {
	sess.Phase = session.PhaseErrored
	sess.Error = cause.Error()
	now := time.Now().Unix()
	sess.AppendLog(now, cause.Error())
	if err := o.store.Save(ctx, sess); err != nil {
		o.log.Error("保存失败状态出错", slog.Any("error", err), slog.String("session_id", sess.ID))
	}
	summary := sess.Summary
	o.publish(session.Event{
		Type:      session.EventError,
		SessionID: sess.ID,
		At:        now,
		Phase:     sess.Phase,
		Summary:   &summary,
		Error:     cause.Error(),
	})
	if o.broker != nil {
		o.broker.CloseSession(sess.ID)
	}
	return sess, cause
}

// phaseError 将阶段超时折算为统一错误码，其余错误原样包装。
func (o *Orchestrator) phaseError(phaseCtx context.Context, cause error, message string) error {
	if stdErrors.Is(phaseCtx.Err(), context.DeadlineExceeded) {
		return xerrors.Wrap(CodePhaseTimeout, cause, message)
	}
	return xerrors.Wrap(CodeRunFailure, cause, message)
}

func (o *Orchestrator) enterPhase(ctx context.Context, sess *session.Session, phase session.Phase, progress int) {
	sess.Phase = phase
	sess.ProgressPercent = progress
	sess.UpdatedAt = time.Now().Unix()
	o.publish(session.Event{
		Type:      session.EventStatus,
		SessionID: sess.ID,
		At:        sess.UpdatedAt,
		Phase:     phase,
		Progress:  progress,
	})
}

func (o *Orchestrator) logLine(ctx context.Context, sess *session.Session, message string) {
	now := time.Now().Unix()
	sess.AppendLog(now, message)
	o.publish(session.Event{
		Type:      session.EventLog,
		SessionID: sess.ID,
		At:        now,
		Phase:     sess.Phase,
		Message:   message,
	})
}

func (o *Orchestrator) publish(event session.Event) {
	if o.broker != nil {
		o.broker.Publish(event)
	}
}
