package verifier

import (
	"context"
	"fmt"
)

// starkMinProofSize 是 FRI 证明（承诺 + 查询轮）可能的最小字节数，
// 小于该值的输入不可能是完整的 STARK 证明。
const starkMinProofSize = 64

// StarkCapability 对 STARK 证明做结构一致性检查。
//
// 注意：这里刻意只做长度与字段一致性校验，不做密码学验证——上游的
// STARK 验证器尚未接入，该能力是一个显式的占位实现，其语义不得被
// 悄悄升级为完整验证。
type StarkCapability struct{}

// NewStarkCapability 创建 STARK 结构检查能力。
func NewStarkCapability() *StarkCapability {
	return &StarkCapability{}
}

// TransparentSetup 表示 STARK 无需可信设置，调度器不解析验证密钥。
func (c *StarkCapability) TransparentSetup() bool { return true }

// CheckProof 实现 Capability 接口。
func (c *StarkCapability) CheckProof(ctx context.Context, proof, publicInputs, _ []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(proof) < starkMinProofSize {
		return false, fmt.Errorf("STARK 证明过短: %d 字节", len(proof))
	}
	if len(publicInputs) == 0 || len(publicInputs)%32 != 0 {
		return false, fmt.Errorf("STARK 公开输入长度 %d 非法", len(publicInputs))
	}
	return true, nil
}
