package ledger

import (
	"context"

	"ZKAttest-Chain/internal/envelope"
	xerrors "ZKAttest-Chain/internal/errors"
)

// Receipt 是账本受理一次提交后返回的凭据。
type Receipt struct {
	// ID 唯一标识这次提交（以太坊实现中为交易哈希）。
	ID string `json:"id"`
	// ExplorerURL 指向区块浏览器中的该笔记录，可为空。
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// Endpoint 是单个账本接入点。实现必须对所有调用施加调用方传入的
// 上下文超时，网络失败通过统一错误码区分瞬时与永久。
type Endpoint interface {
	// Name 返回端点的可读名称，用于日志与记录。
	Name() string
	// Exists 查询指纹是否已经记录在账本上。
	Exists(ctx context.Context, fp envelope.Fingerprint) (bool, error)
	// Submit 将指纹提交到账本并返回回执。
	Submit(ctx context.Context, fp envelope.Fingerprint) (Receipt, error)
	// Confirm 查询回执是否已经最终确认。尚未确认返回 (false, nil)。
	Confirm(ctx context.Context, receiptID string) (bool, error)
	// Close 释放端点持有的连接。
	Close()
}

const (
	// CodeUnavailable 表示端点瞬时不可用（连接失败、限流等），可重试。
	CodeUnavailable xerrors.Code = "LEDGER_UNAVAILABLE"
	// CodeUnauthorized 表示账本明确拒绝了提交方身份，不可重试。
	CodeUnauthorized xerrors.Code = "LEDGER_UNAUTHORIZED"
	// CodeRejected 表示账本明确判定输入非法，不可重试。
	CodeRejected xerrors.Code = "LEDGER_REJECTED"
	// CodeDuplicate 表示账本以可识别的方式拒绝了重复指纹，不可重试，
	// 但上层应将其折算为"已记录"而非失败。
	CodeDuplicate xerrors.Code = "LEDGER_DUPLICATE"
	// CodeReverted 表示交易上链后执行回滚。回执不携带回滚原因，
	// 上层需复查账本状态才能区分重复提交与其他失败。
	CodeReverted xerrors.Code = "LEDGER_REVERTED"
)

func init() {
	xerrors.Register(CodeUnavailable, xerrors.Attributes{
		Message:   "ledger endpoint unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeUnauthorized, xerrors.Attributes{
		Message:   "ledger rejected submitter identity",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeRejected, xerrors.Attributes{
		Message:   "ledger rejected malformed input",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDuplicate, xerrors.Attributes{
		Message:   "fingerprint already recorded on ledger",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeReverted, xerrors.Attributes{
		Message:   "ledger transaction reverted",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

var (
	// ErrUnauthorized 供实现与测试构造身份拒绝错误。
	ErrUnauthorized = xerrors.New(CodeUnauthorized, "")
	// ErrRejected 供实现与测试构造输入非法错误。
	ErrRejected = xerrors.New(CodeRejected, "")
	// ErrDuplicate 供实现与测试构造重复提交错误。
	ErrDuplicate = xerrors.New(CodeDuplicate, "")
)

// IsDuplicate 判断错误是否为可识别的重复提交拒绝。
func IsDuplicate(err error) bool {
	return xerrors.CodeOf(err) == CodeDuplicate
}

// IsReverted 判断错误是否为原因不明的交易回滚。
func IsReverted(err error) bool {
	return xerrors.CodeOf(err) == CodeReverted
}

// IsPermanent 判断错误是否为不可重试的永久失败。
// 未纳入统一错误体系的错误一律按瞬时处理，交由重试预算兜底。
func IsPermanent(err error) bool {
	if e, ok := xerrors.From(err); ok {
		switch e.Code() {
		case CodeUnauthorized, CodeRejected, CodeDuplicate:
			return true
		}
	}
	return false
}
