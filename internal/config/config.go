package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Ledger   LedgerConfig   `json:"ledger"`
	Verifier VerifierConfig `json:"verifier"`
	Workflow WorkflowConfig `json:"workflow"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// StorageConfig 统一描述会话存储与归档后端的连接信息。
type StorageConfig struct {
	SessionStore SessionStoreConfig `json:"session_store"`
	Archive      ArchiveConfig      `json:"archive"`
}

// SessionStoreConfig 描述会话状态存储，支持 memory 与 redis 两种驱动。
type SessionStoreConfig struct {
	Driver     string `json:"driver"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// ArchiveConfig 描述终结会话的归档后端，目前支持 mysql。
type ArchiveConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述会话运行队列，支持 memory、redis 与 rabbitmq。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Size     int            `json:"size"`
	Redis    RedisQueue     `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 描述 Redis 队列连接参数。
type RedisQueue struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// LedgerConfig 描述账本接入与见证提交参数。端点定义放在独立的
// YAML 文件中，文件内顺序即轮换顺序。
type LedgerConfig struct {
	EndpointsFile         string `json:"endpoints_file"`
	PrivateKey            string `json:"private_key"`
	PrivateKeyEnv         string `json:"private_key_env"`
	GasLimit              uint64 `json:"gas_limit"`
	MaxAttempts           int    `json:"max_attempts"`
	BaseDelayMS           int    `json:"base_delay_ms"`
	CallTimeoutSeconds    int    `json:"call_timeout_seconds"`
	ConfirmTimeoutSeconds int    `json:"confirm_timeout_seconds"`
	ConfirmPollSeconds    int    `json:"confirm_poll_seconds"`
}

// VerifierConfig 描述验证密钥的来源。
type VerifierConfig struct {
	KeysDir string `json:"keys_dir"`
}

// WorkflowConfig 描述会话编排参数。
type WorkflowConfig struct {
	ProofDir            string   `json:"proof_dir"`
	Kinds               []string `json:"kinds"`
	WorkerCount         int      `json:"worker_count"`
	PhaseTimeoutSeconds int      `json:"phase_timeout_seconds"`
	AttestDelayMS       int      `json:"attest_delay_ms"`
	SessionTTLSeconds   int      `json:"session_ttl_seconds"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Storage.SessionStore.Driver == "" {
		c.Storage.SessionStore.Driver = "memory"
	}
	if c.Storage.SessionStore.TTLSeconds <= 0 {
		c.Storage.SessionStore.TTLSeconds = 24 * 60 * 60
	}
	if c.Storage.Archive.Driver == "" {
		c.Storage.Archive.Driver = "none"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 128
	}

	if c.Ledger.EndpointsFile == "" {
		c.Ledger.EndpointsFile = filepath.Join(baseDir, "ledger.yaml")
	} else if !filepath.IsAbs(c.Ledger.EndpointsFile) {
		c.Ledger.EndpointsFile = filepath.Join(baseDir, c.Ledger.EndpointsFile)
	}
	if c.Ledger.PrivateKeyEnv == "" {
		c.Ledger.PrivateKeyEnv = "ZKATTEST_PRIVATE_KEY"
	}
	if c.Ledger.MaxAttempts <= 0 {
		c.Ledger.MaxAttempts = 5
	}
	if c.Ledger.BaseDelayMS <= 0 {
		c.Ledger.BaseDelayMS = 500
	}
	if c.Ledger.CallTimeoutSeconds <= 0 {
		c.Ledger.CallTimeoutSeconds = 10
	}
	if c.Ledger.ConfirmTimeoutSeconds <= 0 {
		c.Ledger.ConfirmTimeoutSeconds = 30
	}
	if c.Ledger.ConfirmPollSeconds <= 0 {
		c.Ledger.ConfirmPollSeconds = 2
	}

	if c.Verifier.KeysDir == "" {
		c.Verifier.KeysDir = filepath.Join(baseDir, "keys")
	} else if !filepath.IsAbs(c.Verifier.KeysDir) {
		c.Verifier.KeysDir = filepath.Join(baseDir, c.Verifier.KeysDir)
	}

	if c.Workflow.ProofDir == "" {
		c.Workflow.ProofDir = filepath.Join(baseDir, "proofs")
	} else if !filepath.IsAbs(c.Workflow.ProofDir) {
		c.Workflow.ProofDir = filepath.Join(baseDir, c.Workflow.ProofDir)
	}
	if len(c.Workflow.Kinds) == 0 {
		c.Workflow.Kinds = []string{"default"}
	}
	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = 2
	}
	if c.Workflow.PhaseTimeoutSeconds <= 0 {
		c.Workflow.PhaseTimeoutSeconds = 300
	}
	if c.Workflow.AttestDelayMS < 0 {
		c.Workflow.AttestDelayMS = 0
	}
	if c.Workflow.SessionTTLSeconds <= 0 {
		c.Workflow.SessionTTLSeconds = 24 * 60 * 60
	}
}
