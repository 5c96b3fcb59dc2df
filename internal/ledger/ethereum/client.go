package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"ZKAttest-Chain/internal/envelope"
	xerrors "ZKAttest-Chain/internal/errors"
	"ZKAttest-Chain/internal/ledger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// attestorABI 是链上见证合约的接口：attestProof 记录指纹，
// isAttested 查询指纹是否已记录。
const attestorABI = `[
  {"type":"function","name":"attestProof","stateMutability":"nonpayable","inputs":[{"name":"proofHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"isAttested","stateMutability":"view","inputs":[{"name":"proofHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

const defaultGasLimit = 200_000

// Config 描述构造单个以太坊账本端点所需的参数。
type Config struct {
	Name        string
	RPCURL      string
	Contract    string
	PrivateKey  string
	ExplorerURL string
	GasLimit    uint64
}

// Client 通过见证合约实现 ledger.Endpoint。
type Client struct {
	name        string
	explorerURL string
	gasLimit    uint64
	contract    common.Address
	parsedABI   abi.ABI
	key         *ecdsa.PrivateKey
	from        common.Address
	chainID     *big.Int
	rpcClient   *gethrpc.Client
	eth         *ethclient.Client
}

// NewClient 拨号 RPC 端点并准备签名器。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置账本 RPC 地址")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("见证合约地址非法: %q", cfg.Contract)
	}

	parsedABI, err := abi.JSON(strings.NewReader(attestorABI))
	if err != nil {
		return nil, fmt.Errorf("解析见证合约 ABI 失败: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析提交私钥失败: %w", err)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接账本节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}

	return &Client{
		name:        cfg.Name,
		explorerURL: strings.TrimSpace(cfg.ExplorerURL),
		gasLimit:    gasLimit,
		contract:    common.HexToAddress(cfg.Contract),
		parsedABI:   parsedABI,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:     chainID,
		rpcClient:   rpcClient,
		eth:         eth,
	}, nil
}

// Name 实现 ledger.Endpoint 接口。
func (c *Client) Name() string {
	return c.name
}

// Exists 通过 isAttested 只读调用查询指纹。
func (c *Client) Exists(ctx context.Context, fp envelope.Fingerprint) (bool, error) {
	data, err := c.parsedABI.Pack("isAttested", [32]byte(fp))
	if err != nil {
		return false, xerrors.Wrap(ledger.CodeRejected, err, "编码 isAttested 调用失败")
	}
	raw, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return false, c.classify(err, "查询指纹失败")
	}
	values, err := c.parsedABI.Unpack("isAttested", raw)
	if err != nil || len(values) != 1 {
		return false, xerrors.Wrap(ledger.CodeUnavailable, err, "解码 isAttested 返回值失败")
	}
	attested, ok := values[0].(bool)
	if !ok {
		return false, xerrors.New(ledger.CodeUnavailable, "isAttested 返回值类型异常")
	}
	return attested, nil
}

// Submit 构造并广播 attestProof 交易。
func (c *Client) Submit(ctx context.Context, fp envelope.Fingerprint) (ledger.Receipt, error) {
	data, err := c.parsedABI.Pack("attestProof", [32]byte(fp))
	if err != nil {
		return ledger.Receipt{}, xerrors.Wrap(ledger.CodeRejected, err, "编码 attestProof 调用失败")
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return ledger.Receipt{}, c.classify(err, "查询交易计数失败")
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.Receipt{}, c.classify(err, "查询 gas 价格失败")
	}

	tx := coretypes.NewTransaction(nonce, c.contract, big.NewInt(0), c.gasLimit, gasPrice, data)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return ledger.Receipt{}, xerrors.Wrap(ledger.CodeRejected, err, "签名交易失败")
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return ledger.Receipt{}, c.classify(err, "广播交易失败")
	}

	receipt := ledger.Receipt{ID: signed.Hash().Hex()}
	if c.explorerURL != "" {
		receipt.ExplorerURL = c.explorerLink(receipt.ID)
	}
	return receipt, nil
}

// explorerLink 拼出区块浏览器中该笔交易的页面地址。
func (c *Client) explorerLink(txHash string) string {
	return strings.TrimRight(c.explorerURL, "/") + "/tx/" + txHash
}

// Confirm 轮询交易回执。未上链返回 (false, nil)，执行失败视为永久拒绝。
func (c *Client) Confirm(ctx context.Context, receiptID string) (bool, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(receiptID))
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return false, nil
		}
		return false, c.classify(err, "查询交易回执失败")
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		// 回执不携带 revert 原因，交由调用方复查 isAttested 再定性。
		return false, xerrors.Wrap(ledger.CodeReverted, nil, fmt.Sprintf("交易 %s 执行回滚", receiptID))
	}
	return true, nil
}

// Close 实现 ledger.Endpoint 接口。
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// classify 将底层错误折算为统一错误码：能识别的明确拒绝为永久错误，
// 其余一律视为瞬时失败交由上层轮换重试。
func (c *Client) classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	reason := strings.ToLower(err.Error())
	switch {
	case strings.Contains(reason, "already attested"):
		return xerrors.Wrap(ledger.CodeDuplicate, err, message)
	case strings.Contains(reason, "only attestor"), strings.Contains(reason, "unauthorized"):
		return xerrors.Wrap(ledger.CodeUnauthorized, err, message)
	case strings.Contains(reason, "invalid argument"), strings.Contains(reason, "malformed"):
		return xerrors.Wrap(ledger.CodeRejected, err, message)
	default:
		return xerrors.Wrap(ledger.CodeUnavailable, err, message)
	}
}

// 编译期接口一致性检查。
var _ ledger.Endpoint = (*Client)(nil)
