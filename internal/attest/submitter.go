package attest

import (
	"context"
	"log/slog"
	"time"

	"ZKAttest-Chain/internal/envelope"
	xerrors "ZKAttest-Chain/internal/errors"
	"ZKAttest-Chain/internal/ledger"
	"ZKAttest-Chain/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// Outcome 表示单个指纹见证的终局状态。
type Outcome string

const (
	OutcomePending         Outcome = "pending"
	OutcomeConfirmed       Outcome = "confirmed"
	OutcomeAlreadyRecorded Outcome = "already_recorded"
	OutcomeFailed          Outcome = "failed"
)

// Record 记录一次见证提交的完整经过。
type Record struct {
	Fingerprint envelope.Fingerprint `json:"fingerprint"`
	Endpoint    string               `json:"endpoint,omitempty"`
	ReceiptID   string               `json:"receipt_id,omitempty"`
	ExplorerURL string               `json:"explorer_url,omitempty"`
	SubmittedAt int64                `json:"submitted_at"`
	ConfirmedAt int64                `json:"confirmed_at,omitempty"`
	Outcome     Outcome              `json:"outcome"`
	LastError   string               `json:"last_error,omitempty"`
}

const (
	defaultMaxAttempts    = 5
	defaultBaseDelay      = 500 * time.Millisecond
	defaultCallTimeout    = 10 * time.Second
	defaultConfirmTimeout = 30 * time.Second
	defaultConfirmPoll    = 2 * time.Second
)

// Submitter 负责将已验证的指纹提交到账本。端点列表是只读共享配置，
// 轮换与退避状态仅存在于单次 Attest 调用内部。
type Submitter struct {
	endpoints      []ledger.Endpoint
	maxAttempts    int
	baseDelay      time.Duration
	callTimeout    time.Duration
	confirmTimeout time.Duration
	confirmPoll    time.Duration
	log            *slog.Logger
}

// SubmitterOption 定义可选配置。
type SubmitterOption func(*Submitter)

// WithMaxAttempts 设置瞬时失败的重试预算。
func WithMaxAttempts(attempts int) SubmitterOption {
	return func(s *Submitter) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithBaseDelay 设置退避的初始延迟，此后每次尝试翻倍。
func WithBaseDelay(delay time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if delay > 0 {
			s.baseDelay = delay
		}
	}
}

// WithCallTimeout 设置单次查询/提交调用的超时。
func WithCallTimeout(timeout time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if timeout > 0 {
			s.callTimeout = timeout
		}
	}
}

// WithConfirmTimeout 设置等待回执确认的总超时。
func WithConfirmTimeout(timeout time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if timeout > 0 {
			s.confirmTimeout = timeout
		}
	}
}

// WithConfirmPollInterval 设置确认轮询间隔。
func WithConfirmPollInterval(interval time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if interval > 0 {
			s.confirmPoll = interval
		}
	}
}

// NewSubmitter 构造 Submitter。
func NewSubmitter(endpoints []ledger.Endpoint, opts ...SubmitterOption) (*Submitter, error) {
	if len(endpoints) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置账本端点")
	}
	s := &Submitter{
		endpoints:      endpoints,
		maxAttempts:    defaultMaxAttempts,
		baseDelay:      defaultBaseDelay,
		callTimeout:    defaultCallTimeout,
		confirmTimeout: defaultConfirmTimeout,
		confirmPoll:    defaultConfirmPoll,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = logger.Named("attest")
	return s, nil
}

// ReceiptFunc 在提交被账本受理、回执 ID 已知但尚未确认时被调用，
// 入参是此刻的记录快照（Outcome 为 pending）。
type ReceiptFunc func(Record)

// Attest 执行单个指纹的见证状态机：预检 → 提交 → 等待确认。瞬时失败
// 轮换端点并指数退避，永久失败立即终止。账本自身会拒绝重复指纹，因此
// 预检失败时继续提交是安全的，预检只是为了省去一笔无谓的提交成本。
// onReceipt 可为 nil；非 nil 时在每次取得回执后立即同步调用。
func (s *Submitter) Attest(ctx context.Context, fp envelope.Fingerprint, onReceipt ReceiptFunc) Record {
	record := Record{
		Fingerprint: fp,
		Outcome:     OutcomePending,
		SubmittedAt: time.Now().Unix(),
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				record.Outcome = OutcomeFailed
				record.LastError = xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "见证被取消").Error()
				return record
			}
		}

		endpoint := s.endpoints[attempt%len(s.endpoints)]
		record.Endpoint = endpoint.Name()

		// 步骤 1：预检。瞬时查询失败按"未知"处理，继续提交。
		exists, err := s.exists(ctx, endpoint, fp)
		if err == nil && exists {
			record.Outcome = OutcomeAlreadyRecorded
			return record
		}
		if err != nil {
			s.log.Debug("指纹预检失败，继续提交",
				slog.String("endpoint", endpoint.Name()),
				slog.String("fingerprint", fp.Hex()),
				slog.Any("error", err))
		}

		// 步骤 2：提交。
		receipt, err := s.submit(ctx, endpoint, fp)
		if err != nil {
			if ledger.IsDuplicate(err) {
				record.Outcome = OutcomeAlreadyRecorded
				return record
			}
			if ledger.IsPermanent(err) {
				record.Outcome = OutcomeFailed
				record.LastError = err.Error()
				return record
			}
			lastErr = err
			continue
		}
		record.ReceiptID = receipt.ID
		record.ExplorerURL = receipt.ExplorerURL
		record.SubmittedAt = time.Now().Unix()
		if onReceipt != nil {
			onReceipt(record)
		}

		// 步骤 3：等待单次确认。
		confirmed, err := s.awaitConfirmation(ctx, endpoint, receipt.ID)
		if err != nil {
			if ledger.IsReverted(err) {
				// 回执不携带回滚原因，复查账本状态：指纹已在账上
				// 说明是重复提交，否则按瞬时失败轮换重试。
				attested, checkErr := s.exists(ctx, endpoint, fp)
				if checkErr == nil && attested {
					record.Outcome = OutcomeAlreadyRecorded
					return record
				}
				lastErr = err
				continue
			}
			if ledger.IsDuplicate(err) {
				record.Outcome = OutcomeAlreadyRecorded
				return record
			}
			if ledger.IsPermanent(err) {
				record.Outcome = OutcomeFailed
				record.LastError = err.Error()
				return record
			}
			lastErr = err
			continue
		}
		if confirmed {
			record.Outcome = OutcomeConfirmed
			record.ConfirmedAt = time.Now().Unix()
			return record
		}
		lastErr = xerrors.New(xerrors.CodeTimeout, "等待确认超时")
	}

	record.Outcome = OutcomeFailed
	record.LastError = xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr, "重试预算耗尽").Error()
	return record
}

func (s *Submitter) exists(ctx context.Context, endpoint ledger.Endpoint, fp envelope.Fingerprint) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return endpoint.Exists(callCtx, fp)
}

func (s *Submitter) submit(ctx context.Context, endpoint ledger.Endpoint, fp envelope.Fingerprint) (ledger.Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return endpoint.Submit(callCtx, fp)
}

// awaitConfirmation 在确认超时内轮询回执。超时返回 (false, nil)，
// 由调用方计入瞬时失败。
func (s *Submitter) awaitConfirmation(ctx context.Context, endpoint ledger.Endpoint, receiptID string) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.confirmPoll)
	defer ticker.Stop()

	for {
		confirmed, err := endpoint.Confirm(waitCtx, receiptID)
		if err != nil {
			return false, err
		}
		if confirmed {
			return true, nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return false, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "见证被取消")
			}
			return false, nil
		case <-ticker.C:
		}
	}
}
