package verifier

import (
	"bytes"
	"context"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
)

// Groth16Capability 基于 gnark 在 BN254 曲线上验证 Groth16 证明。
type Groth16Capability struct {
	curve ecc.ID
}

// NewGroth16Capability 创建 Groth16 验证能力。
func NewGroth16Capability() *Groth16Capability {
	return &Groth16Capability{curve: ecc.BN254}
}

// CheckProof 实现 Capability 接口。反序列化失败视为能力内部错误，
// 由调度器折算为验证不通过；gnark 的验证拒绝返回 (false, nil)。
func (c *Groth16Capability) CheckProof(ctx context.Context, proof, publicInputs, keyMaterial []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	vk := groth16.NewVerifyingKey(c.curve)
	if _, err := vk.ReadFrom(bytes.NewReader(keyMaterial)); err != nil {
		return false, fmt.Errorf("反序列化 Groth16 验证密钥失败: %w", err)
	}

	proofObj := groth16.NewProof(c.curve)
	if _, err := proofObj.ReadFrom(bytes.NewReader(proof)); err != nil {
		return false, fmt.Errorf("反序列化 Groth16 证明失败: %w", err)
	}

	publicWitness, err := buildPublicWitness(publicInputs, c.curve)
	if err != nil {
		return false, err
	}

	if err := groth16.Verify(proofObj, vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}
