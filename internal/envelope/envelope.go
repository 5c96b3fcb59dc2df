package envelope

import (
	"encoding/binary"
	"fmt"

	xerrors "ZKAttest-Chain/internal/errors"
)

// ProofSystem 标识信封所属的证明体系。
type ProofSystem uint8

const (
	SystemGroth16 ProofSystem = 0
	SystemPlonk   ProofSystem = 1
	SystemStark   ProofSystem = 2
)

// Version 是当前唯一支持的协议版本。
const Version uint8 = 1

const (
	// CommitmentSize 是验证密钥承诺的固定长度（keccak256 输出）。
	CommitmentSize = 32
	// headerSize = version(1) + system(1) + programID(4) + commitment(32)
	headerSize = 1 + 1 + 4 + CommitmentSize
	// minSize 还包含两个 4 字节的长度前缀。
	minSize = headerSize + 4 + 4
)

const (
	CodeDecodeFailure xerrors.Code = "ENVELOPE_DECODE_FAILED"
)

func init() {
	xerrors.Register(CodeDecodeFailure, xerrors.Attributes{
		Message:   "envelope decode failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// ParseSystem 将原始字节转换为 ProofSystem。未知取值返回 false。
func ParseSystem(value uint8) (ProofSystem, bool) {
	switch ProofSystem(value) {
	case SystemGroth16, SystemPlonk, SystemStark:
		return ProofSystem(value), true
	default:
		return 0, false
	}
}

// String 返回证明体系的可读名称。
func (s ProofSystem) String() string {
	switch s {
	case SystemGroth16:
		return "groth16"
	case SystemPlonk:
		return "plonk"
	case SystemStark:
		return "stark"
	default:
		return fmt.Sprintf("system(%d)", uint8(s))
	}
}

// Envelope 是承载证明及其元数据的自描述二进制记录，解码后视为不可变值。
//
// 线格式（所有整数均为小端序）：
//
//	version       1 字节
//	system        1 字节
//	programID     4 字节
//	vkCommitment 32 字节
//	proofLen      4 字节 + proof 内容
//	inputsLen     4 字节 + publicInputs 内容
type Envelope struct {
	Version      uint8
	System       ProofSystem
	ProgramID    uint32
	VKCommitment [CommitmentSize]byte
	Proof        []byte
	PublicInputs []byte
}

// DecodeError 描述一次信封解码失败的具体原因。
type DecodeError struct {
	Reason string
}

// Error 实现 error 接口。
func (e *DecodeError) Error() string {
	return fmt.Sprintf("envelope decode: %s", e.Reason)
}

func decodeFailed(format string, args ...any) error {
	return xerrors.Wrap(CodeDecodeFailure, &DecodeError{Reason: fmt.Sprintf(format, args...)}, "")
}

// EncodedSize 返回信封编码后的总字节数。
func (e *Envelope) EncodedSize() int {
	return minSize + len(e.Proof) + len(e.PublicInputs)
}

// Encode 将信封编码为规范的二进制形式，是 Decode 的精确逆运算。
func (e *Envelope) Encode() []byte {
	buf := make([]byte, 0, e.EncodedSize())
	buf = append(buf, e.Version, uint8(e.System))
	buf = binary.LittleEndian.AppendUint32(buf, e.ProgramID)
	buf = append(buf, e.VKCommitment[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Proof)))
	buf = append(buf, e.Proof...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.PublicInputs)))
	buf = append(buf, e.PublicInputs...)
	return buf
}

// Decode 解析信封。校验顺序：最小长度、版本、证明体系、proof 长度、
// publicInputs 长度必须恰好消费缓冲区剩余部分。任何一项不满足都会返回
// 解码错误，绝不产生部分填充的信封。
func Decode(data []byte) (*Envelope, error) {
	if len(data) < minSize {
		return nil, decodeFailed("buffer too short: %d bytes, need at least %d", len(data), minSize)
	}

	offset := 0
	version := data[offset]
	offset++
	if version != Version {
		return nil, decodeFailed("unsupported version %d", version)
	}

	system, ok := ParseSystem(data[offset])
	if !ok {
		return nil, decodeFailed("unknown proof system tag %d", data[offset])
	}
	offset++

	programID := binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	var commitment [CommitmentSize]byte
	copy(commitment[:], data[offset:offset+CommitmentSize])
	offset += CommitmentSize

	proofLen := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	// 剩余部分至少还要容纳 proof 本体和 inputs 的长度前缀。
	if proofLen > len(data)-offset-4 {
		return nil, decodeFailed("declared proof length %d exceeds remaining %d bytes", proofLen, len(data)-offset-4)
	}
	proof := make([]byte, proofLen)
	copy(proof, data[offset:offset+proofLen])
	offset += proofLen

	inputsLen := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if inputsLen != len(data)-offset {
		return nil, decodeFailed("declared inputs length %d does not consume remaining %d bytes", inputsLen, len(data)-offset)
	}
	inputs := make([]byte, inputsLen)
	copy(inputs, data[offset:])

	return &Envelope{
		Version:      version,
		System:       system,
		ProgramID:    programID,
		VKCommitment: commitment,
		Proof:        proof,
		PublicInputs: inputs,
	}, nil
}
