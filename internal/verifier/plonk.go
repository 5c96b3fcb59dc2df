package verifier

import (
	"bytes"
	"context"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/plonk"
)

// PlonkCapability 基于 gnark 在 BN254 曲线上验证 PLONK 证明。
type PlonkCapability struct {
	curve ecc.ID
}

// NewPlonkCapability 创建 PLONK 验证能力。
func NewPlonkCapability() *PlonkCapability {
	return &PlonkCapability{curve: ecc.BN254}
}

// CheckProof 实现 Capability 接口。
func (c *PlonkCapability) CheckProof(ctx context.Context, proof, publicInputs, keyMaterial []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	vk := plonk.NewVerifyingKey(c.curve)
	if _, err := vk.ReadFrom(bytes.NewReader(keyMaterial)); err != nil {
		return false, fmt.Errorf("反序列化 PLONK 验证密钥失败: %w", err)
	}

	proofObj := plonk.NewProof(c.curve)
	if _, err := proofObj.ReadFrom(bytes.NewReader(proof)); err != nil {
		return false, fmt.Errorf("反序列化 PLONK 证明失败: %w", err)
	}

	publicWitness, err := buildPublicWitness(publicInputs, c.curve)
	if err != nil {
		return false, err
	}

	if err := plonk.Verify(proofObj, vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}
