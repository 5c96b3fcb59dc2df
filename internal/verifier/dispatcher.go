package verifier

import (
	"context"
	"fmt"

	"ZKAttest-Chain/internal/envelope"
	xerrors "ZKAttest-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	CodeUnmappedSystem  xerrors.Code = "VERIFIER_UNMAPPED_SYSTEM"
	CodeVerifierFailure xerrors.Code = "VERIFIER_FAILURE"
)

func init() {
	xerrors.Register(CodeUnmappedSystem, xerrors.Attributes{
		Message:   "no capability registered for proof system",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeVerifierFailure, xerrors.Attributes{
		Message:   "verification capability failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// ErrUnmappedSystem 表示信封的证明体系标签没有对应的验证能力。
// 这是集成缺陷而非密码学失败，调用方应将其视为会话级错误。
var ErrUnmappedSystem = xerrors.New(CodeUnmappedSystem, "")

// Capability 抽象了单个证明体系的验证能力，由外部协作方提供。
// 实现必须可重复调用且不得修改共享状态。
type Capability interface {
	CheckProof(ctx context.Context, proof, publicInputs, keyMaterial []byte) (bool, error)
}

// Outcome 汇总一次验证的结论。Diagnostics 在验证未通过时说明原因。
type Outcome struct {
	Valid       bool   `json:"valid"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Dispatcher 维护证明体系到验证能力的映射，并负责解析验证密钥。
type Dispatcher struct {
	capabilities map[envelope.ProofSystem]Capability
	keys         KeySource
}

// Option 定义可选的 Dispatcher 配置。
type Option func(*Dispatcher)

// WithCapability 注册一个证明体系的验证能力。
func WithCapability(system envelope.ProofSystem, cap Capability) Option {
	return func(d *Dispatcher) {
		if cap != nil {
			d.capabilities[system] = cap
		}
	}
}

// NewDispatcher 构造 Dispatcher。keys 为空时仅透明设置的体系可以验证。
func NewDispatcher(keys KeySource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		capabilities: make(map[envelope.ProofSystem]Capability),
		keys:         keys,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Systems 返回已注册验证能力的证明体系列表。
func (d *Dispatcher) Systems() []envelope.ProofSystem {
	systems := make([]envelope.ProofSystem, 0, len(d.capabilities))
	for system := range d.capabilities {
		systems = append(systems, system)
	}
	return systems
}

// Verify 将信封派发给对应的验证能力。本层不做重试：验证被视为确定且
// 无副作用的操作，一次失败即为该信封在本轮的最终结论。
func (d *Dispatcher) Verify(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
	if env == nil {
		return Outcome{}, xerrors.New(xerrors.CodeInvalidArgument, "envelope 不能为空")
	}
	cap, ok := d.capabilities[env.System]
	if !ok {
		return Outcome{}, xerrors.New(CodeUnmappedSystem,
			fmt.Sprintf("证明体系 %s 未注册验证能力", env.System))
	}

	var keyMaterial []byte
	if !isTransparent(cap) {
		if d.keys == nil {
			return Outcome{Valid: false, Diagnostics: "no key source configured"}, nil
		}
		material, err := d.keys.VerifyingKey(ctx, env.System, env.ProgramID)
		if err != nil {
			// 找不到密钥是该信封的验证失败，不是会话级错误。
			return Outcome{Valid: false, Diagnostics: fmt.Sprintf("verifying key unavailable: %v", err)}, nil
		}
		if sum := crypto.Keccak256(material); [envelope.CommitmentSize]byte(sum) != env.VKCommitment {
			return Outcome{Valid: false, Diagnostics: "verification key commitment mismatch"}, nil
		}
		keyMaterial = material
	}

	valid, err := cap.CheckProof(ctx, env.Proof, env.PublicInputs, keyMaterial)
	if err != nil {
		// 能力内部失败折算为验证不通过，附带诊断信息，绝不向上抛出。
		return Outcome{Valid: false, Diagnostics: err.Error()}, nil
	}
	if !valid {
		return Outcome{Valid: false, Diagnostics: "proof rejected"}, nil
	}
	return Outcome{Valid: true}, nil
}

func isTransparent(cap Capability) bool {
	t, ok := cap.(interface{ TransparentSetup() bool })
	return ok && t.TransparentSetup()
}
