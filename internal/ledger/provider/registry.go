package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"ZKAttest-Chain/internal/config"
	"ZKAttest-Chain/internal/ledger"
	"ZKAttest-Chain/internal/ledger/ethereum"
)

// Registry 持有按配置顺序排列的账本端点，顺序即提交器的轮换顺序。
type Registry struct {
	endpoints []ledger.Endpoint
}

// NewRegistry 加载端点定义并实例化全部客户端。
func NewRegistry(ctx context.Context, cfg config.LedgerConfig) (*Registry, error) {
	defs, err := ledger.LoadEndpointDefinitions(cfg.EndpointsFile)
	if err != nil {
		return nil, err
	}
	if len(defs.Endpoints) == 0 {
		return nil, errors.New("未配置任何账本端点")
	}

	privateKey := strings.TrimSpace(cfg.PrivateKey)
	if privateKey == "" && cfg.PrivateKeyEnv != "" {
		privateKey = strings.TrimSpace(os.Getenv(cfg.PrivateKeyEnv))
	}
	if privateKey == "" {
		return nil, errors.New("未配置提交私钥（private_key 或 private_key_env）")
	}

	endpoints := make([]ledger.Endpoint, 0, len(defs.Endpoints))
	for i, def := range defs.Endpoints {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			name = fmt.Sprintf("endpoint-%d", i)
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:        name,
			RPCURL:      def.RPCURL,
			Contract:    def.Contract,
			PrivateKey:  privateKey,
			ExplorerURL: def.ExplorerURL,
			GasLimit:    cfg.GasLimit,
		})
		if err != nil {
			for _, ep := range endpoints {
				ep.Close()
			}
			return nil, fmt.Errorf("初始化账本端点 %s 失败: %w", name, err)
		}
		endpoints = append(endpoints, client)
	}

	return &Registry{endpoints: endpoints}, nil
}

// Endpoints 返回有序端点列表。调用方不得修改返回的切片。
func (r *Registry) Endpoints() []ledger.Endpoint {
	if r == nil {
		return nil
	}
	return r.endpoints
}

// Close 释放全部端点。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for _, ep := range r.endpoints {
		if ep != nil {
			ep.Close()
		}
	}
	r.endpoints = nil
}
