package ledger

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EndpointDefinitions 对应 configs/ledger.yaml 的结构。Endpoints 的
// 文件内顺序即轮换顺序。
type EndpointDefinitions struct {
	Endpoints []EndpointDefinition `yaml:"endpoints"`
}

// EndpointDefinition 描述单个账本接入点。
type EndpointDefinition struct {
	Name        string `yaml:"name"`
	RPCURL      string `yaml:"rpc_url"`
	Contract    string `yaml:"contract"`
	ExplorerURL string `yaml:"explorer_url"`
	Description string `yaml:"description"`
}

// LoadEndpointDefinitions 解析账本端点定义文件。
func LoadEndpointDefinitions(path string) (EndpointDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return EndpointDefinitions{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return EndpointDefinitions{}, fmt.Errorf("读取账本端点配置失败: %w", err)
	}

	var defs EndpointDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return EndpointDefinitions{}, fmt.Errorf("解析账本端点配置失败: %w", err)
	}
	return defs, nil
}
