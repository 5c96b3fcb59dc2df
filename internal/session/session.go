package session

import (
	"ZKAttest-Chain/internal/attest"
	"ZKAttest-Chain/internal/envelope"
	xerrors "ZKAttest-Chain/internal/errors"
)

// Phase 表示会话在三阶段流水线中的位置。
type Phase string

const (
	PhaseCollecting Phase = "collecting"
	PhaseVerifying  Phase = "verifying"
	PhaseAttesting  Phase = "attesting"
	PhaseComplete   Phase = "complete"
	PhaseErrored    Phase = "errored"
)

// IsTerminal 判断阶段是否为终态。
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseErrored
}

// IsValidPhase 检查给定的阶段是否为支持的枚举值。
func IsValidPhase(phase Phase) bool {
	switch phase {
	case PhaseCollecting, PhaseVerifying, PhaseAttesting, PhaseComplete, PhaseErrored:
		return true
	default:
		return false
	}
}

// LogEntry 是会话执行过程中的单条进度记录。
type LogEntry struct {
	At      int64  `json:"at"`
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

// Summary 汇总会话各阶段的数量统计。
type Summary struct {
	Candidates         int `json:"candidates"`
	Verified           int `json:"verified"`
	FailedVerification int `json:"failed_verification"`
	Attested           int `json:"attested"`
	AlreadyRecorded    int `json:"already_recorded"`
	FailedAttestation  int `json:"failed_attestation"`
}

// Session 描述一次完整的收集、验证与见证流程。
type Session struct {
	ID                   string                 `json:"id"`
	Kind                 string                 `json:"kind"`
	Phase                Phase                  `json:"phase"`
	ProgressPercent      int                    `json:"progress_percent"`
	Log                  []LogEntry             `json:"log,omitempty"`
	Candidates           []string               `json:"candidates,omitempty"`
	VerifiedFingerprints []envelope.Fingerprint `json:"verified_fingerprints,omitempty"`
	Attestations         []attest.Record        `json:"attestations,omitempty"`
	Summary              Summary                `json:"summary"`
	Error                string                 `json:"error,omitempty"`
	CreatedAt            int64                  `json:"created_at"`
	UpdatedAt            int64                  `json:"updated_at"`
}

var (
	// ErrSessionNotFound 表示指定的会话不存在。
	ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")
	// ErrSessionConflict 表示同一会话 ID 已存在。
	ErrSessionConflict = xerrors.New(CodeSessionConflict, "session conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"
	CodeSessionConflict xerrors.Code = "SESSION_CONFLICT"
	CodeSessionStorage  xerrors.Code = "SESSION_STORAGE_FAILED"
	CodeSessionPublish  xerrors.Code = "SESSION_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:   "session not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSessionConflict, xerrors.Attributes{
		Message:   "session conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSessionStorage, xerrors.Attributes{
		Message:   "session storage failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeSessionPublish, xerrors.Attributes{
		Message:   "failed to publish session",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// AppendLog 追加一条日志并同步更新时间。
func (s *Session) AppendLog(at int64, message string) {
	s.Log = append(s.Log, LogEntry{At: at, Phase: s.Phase, Message: message})
	s.UpdatedAt = at
}

// Clone 返回会话的深拷贝，避免调用方与存储共享底层切片。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Log != nil {
		clone.Log = append([]LogEntry(nil), s.Log...)
	}
	if s.Candidates != nil {
		clone.Candidates = append([]string(nil), s.Candidates...)
	}
	if s.VerifiedFingerprints != nil {
		clone.VerifiedFingerprints = append([]envelope.Fingerprint(nil), s.VerifiedFingerprints...)
	}
	if s.Attestations != nil {
		clone.Attestations = append([]attest.Record(nil), s.Attestations...)
	}
	return &clone
}
