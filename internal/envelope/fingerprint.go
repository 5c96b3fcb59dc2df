package envelope

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Fingerprint 是对 (proof, publicInputs) 的确定性内容哈希，作为链上
// 见证记录的幂等键。相同的 proof 与 publicInputs 必然得到相同指纹。
type Fingerprint [32]byte

// Hex 返回带 0x 前缀的十六进制表示。
func (f Fingerprint) Hex() string {
	return "0x" + hex.EncodeToString(f[:])
}

// MarshalJSON 以十六进制字符串序列化指纹。
func (f Fingerprint) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.Hex() + `"`), nil
}

// UnmarshalJSON 解析十六进制字符串形式的指纹。
func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	s := strings.TrimPrefix(strings.Trim(string(data), `"`), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("解析指纹失败: %w", err)
	}
	if len(raw) != len(f) {
		return fmt.Errorf("指纹长度非法: %d", len(raw))
	}
	copy(f[:], raw)
	return nil
}

// ComputeFingerprint 计算信封的指纹。proof 前置长度前缀，避免
// (proof, inputs) 边界歧义导致的指纹碰撞。
func ComputeFingerprint(proof, publicInputs []byte) Fingerprint {
	prefix := binary.LittleEndian.AppendUint32(nil, uint32(len(proof)))
	sum := crypto.Keccak256(prefix, proof, publicInputs)
	var fp Fingerprint
	copy(fp[:], sum)
	return fp
}

// Fingerprint 返回信封自身的指纹。
func (e *Envelope) Fingerprint() Fingerprint {
	return ComputeFingerprint(e.Proof, e.PublicInputs)
}
