package verifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ZKAttest-Chain/internal/envelope"
	xerrors "ZKAttest-Chain/internal/errors"
)

// KeySource 按 (证明体系, 程序 ID) 提供验证密钥字节。
type KeySource interface {
	VerifyingKey(ctx context.Context, system envelope.ProofSystem, programID uint32) ([]byte, error)
}

// ErrKeyNotFound 表示指定程序没有注册验证密钥。
var ErrKeyNotFound = xerrors.New(xerrors.CodeNotFound, "verifying key not found")

type keyIndex struct {
	system    envelope.ProofSystem
	programID uint32
}

// MemoryKeySource 以内存方式保存验证密钥，主要用于测试。
type MemoryKeySource struct {
	mu   sync.RWMutex
	keys map[keyIndex][]byte
}

// NewMemoryKeySource 创建 MemoryKeySource。
func NewMemoryKeySource() *MemoryKeySource {
	return &MemoryKeySource{keys: make(map[keyIndex][]byte)}
}

// Register 登记一个程序的验证密钥。
func (m *MemoryKeySource) Register(system envelope.ProofSystem, programID uint32, material []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := make([]byte, len(material))
	copy(clone, material)
	m.keys[keyIndex{system: system, programID: programID}] = clone
}

// VerifyingKey 实现 KeySource 接口。
func (m *MemoryKeySource) VerifyingKey(_ context.Context, system envelope.ProofSystem, programID uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	material, ok := m.keys[keyIndex{system: system, programID: programID}]
	if !ok {
		return nil, ErrKeyNotFound
	}
	clone := make([]byte, len(material))
	copy(clone, material)
	return clone, nil
}

// FileKeySource 从目录加载验证密钥，目录布局为
// <root>/<system>/<programID>.vk，例如 keys/groth16/7.vk。
type FileKeySource struct {
	root string

	mu    sync.Mutex
	cache map[keyIndex][]byte
}

// NewFileKeySource 创建 FileKeySource 并校验根目录存在。
func NewFileKeySource(root string) (*FileKeySource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("打开密钥目录失败: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("密钥路径 %s 不是目录", root)
	}
	return &FileKeySource{root: root, cache: make(map[keyIndex][]byte)}, nil
}

// VerifyingKey 实现 KeySource 接口。读取结果会被缓存。
func (f *FileKeySource) VerifyingKey(_ context.Context, system envelope.ProofSystem, programID uint32) ([]byte, error) {
	idx := keyIndex{system: system, programID: programID}

	f.mu.Lock()
	defer f.mu.Unlock()
	if material, ok := f.cache[idx]; ok {
		return material, nil
	}

	path := filepath.Join(f.root, system.String(), fmt.Sprintf("%d.vk", programID))
	material, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("读取验证密钥 %s 失败: %w", path, err)
	}
	f.cache[idx] = material
	return material, nil
}
