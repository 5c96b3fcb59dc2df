package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	xerrors "ZKAttest-Chain/internal/errors"
)

// Candidate 是收集阶段产出的单个待验证条目。
type Candidate struct {
	Name    string
	Payload []byte
}

// Collector 抽象了候选证明的来源。
type Collector interface {
	Kind() string
	Collect(ctx context.Context) ([]Candidate, error)
}

const envelopeFileSuffix = ".proof"

// FilesystemCollector 从 <root>/<kind>/ 目录读取 *.proof 信封文件，
// 文件名字典序即候选顺序。
type FilesystemCollector struct {
	root string
	kind string
}

// NewFilesystemCollector 构造文件系统收集器。
func NewFilesystemCollector(root, kind string) (*FilesystemCollector, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "收集目录不能为空")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "收集类别不能为空")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "收集目录不可用")
	}
	if !info.IsDir() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("收集目录 %s 不是目录", root))
	}
	return &FilesystemCollector{root: root, kind: kind}, nil
}

// Kind 返回收集类别。
func (c *FilesystemCollector) Kind() string {
	return c.kind
}

// Collect 实现 Collector 接口。类别目录不存在视为空候选集。
func (c *FilesystemCollector) Collect(ctx context.Context) ([]Candidate, error) {
	dir := filepath.Join(c.root, c.kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取候选目录失败")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), envelopeFileSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	candidates := make([]Candidate, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}
		payload, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return candidates, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取候选文件 %s 失败", name))
		}
		candidates = append(candidates, Candidate{Name: name, Payload: payload})
	}
	return candidates, nil
}
