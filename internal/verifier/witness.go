package verifier

import (
	"fmt"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

func init() {
	// gnark 默认向 stderr 输出大量调试日志，验证服务统一静默。
	gnarklogger.Set(zerolog.New(io.Discard).Level(zerolog.Disabled))
}

// genericCircuit 仅用于把公开输入绑定成 gnark witness。约束系统已经固化
// 在验证密钥中，这里的 Define 不承担任何安全约束。
type genericCircuit struct {
	PublicInputs []frontend.Variable `gnark:",public"`
}

// Define 对每个输入放置恒等约束，使变量能被 gnark 正常处理。
func (c *genericCircuit) Define(api frontend.API) error {
	for _, input := range c.PublicInputs {
		api.AssertIsEqual(input, input)
	}
	return nil
}

// buildPublicWitness 将扁平的公开输入字节按 32 字节一组解释为域元素，
// 构造仅含公开部分的 witness。
func buildPublicWitness(publicInputs []byte, curve ecc.ID) (witness.Witness, error) {
	if len(publicInputs) == 0 {
		return nil, fmt.Errorf("公开输入为空")
	}
	if len(publicInputs)%32 != 0 {
		return nil, fmt.Errorf("公开输入长度 %d 不是 32 的整数倍", len(publicInputs))
	}

	count := len(publicInputs) / 32
	values := make([]frontend.Variable, count)
	for i := 0; i < count; i++ {
		values[i] = new(big.Int).SetBytes(publicInputs[i*32 : (i+1)*32])
	}

	circuit := genericCircuit{PublicInputs: values}
	publicWitness, err := frontend.NewWitness(&circuit, curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return nil, fmt.Errorf("构建公开输入 witness 失败: %w", err)
	}
	return publicWitness, nil
}
