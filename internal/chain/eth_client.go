package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"escrowbridge/internal/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// gasPremiumPercent is added on top of the node's suggested gas price so the
// bridge's transactions don't sit in the pool behind market-rate traffic.
const gasPremiumPercent = 20

// submitGasLimit matches the deployed contract's worst-case path.
const submitGasLimit = 400_000

// EthClient submits transactions to the StablecoinEscrow contract and reads
// its state. A single signing identity issues every transaction, so submits
// are serialized to keep nonce selection collision-free.
type EthClient struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	from     common.Address
	key      *ecdsa.PrivateKey

	confirmTimeout time.Duration

	submitMu sync.Mutex
}

type EthClientConfig struct {
	RPCURL         string
	PrivateKeyHex  string
	EscrowAddress  string
	ConfirmTimeout time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.EscrowAddress == "" {
		return nil, fmt.Errorf("escrow address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for submitting transactions")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.StablecoinEscrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	key, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	address := common.HexToAddress(cfg.EscrowAddress)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	confirm := cfg.ConfirmTimeout
	if confirm <= 0 {
		confirm = 120 * time.Second
	}

	return &EthClient{
		client:         cli,
		contract:       bound,
		abi:            parsedABI,
		address:        address,
		chainID:        chainID,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		key:            key,
		confirmTimeout: confirm,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) CreateDeal(ctx context.Context, dealID common.Hash, buyer, seller common.Address, amount *big.Int) (string, error) {
	return c.submit(ctx, "createDeal", dealID, buyer, seller, amount)
}

func (c *EthClient) Release(ctx context.Context, dealID common.Hash) (string, error) {
	return c.submit(ctx, "release", dealID)
}

func (c *EthClient) Refund(ctx context.Context, dealID common.Hash) (string, error) {
	return c.submit(ctx, "refund", dealID)
}

// submit picks the next pending nonce, signs and broadcasts the call, then
// blocks until the transaction is mined or the confirmation window elapses.
// Nonce selection and broadcast stay under the lock; the confirmation wait
// does not need it.
func (c *EthClient) submit(ctx context.Context, method string, args ...interface{}) (string, error) {
	tx, err := c.broadcast(ctx, method, args...)
	if err != nil {
		return "", err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	if _, err := waitForReceipt(waitCtx, c.client, tx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return tx.Hash().Hex(), fmt.Errorf("%s tx %s: %w", method, tx.Hash().Hex(), ErrConfirmationTimeout)
		}
		return tx.Hash().Hex(), fmt.Errorf("%s receipt: %w", method, err)
	}
	return tx.Hash().Hex(), nil
}

func (c *EthClient) broadcast(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice.Mul(gasPrice, big.NewInt(100+gasPremiumPercent))
	gasPrice.Div(gasPrice, big.NewInt(100))

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.GasPrice = gasPrice
	opts.GasLimit = submitGasLimit

	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s tx: %w", method, err)
	}
	return tx, nil
}

// Deal reads the mirrored escrow record. An unknown deal id yields the zero
// record, mirroring the contract's mapping semantics.
func (c *EthClient) Deal(ctx context.Context, dealID common.Hash) (Deal, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "deals", dealID); err != nil {
		return Deal{}, fmt.Errorf("deals call: %w", err)
	}
	if len(out) != 5 {
		return Deal{}, fmt.Errorf("deals call: unexpected output arity %d", len(out))
	}
	return Deal{
		Buyer:     out[0].(common.Address),
		Seller:    out[1].(common.Address),
		Amount:    out[2].(*big.Int),
		Deposited: out[3].(bool),
		Done:      out[4].(bool),
	}, nil
}

// DepositsSince scans Deposited logs from fromBlock through the current head.
func (c *EthClient) DepositsSince(ctx context.Context, fromBlock uint64) ([]Deposit, uint64, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return nil, fromBlock, fmt.Errorf("block number: %w", err)
	}
	if head < fromBlock {
		return nil, fromBlock, nil
	}

	event := c.abi.Events["Deposited"]
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return nil, fromBlock, fmt.Errorf("filter logs: %w", err)
	}

	deposits := make([]Deposit, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 {
			continue
		}
		unpacked, err := c.abi.Unpack("Deposited", lg.Data)
		if err != nil {
			return nil, fromBlock, fmt.Errorf("unpack Deposited: %w", err)
		}
		amount, _ := unpacked[0].(*big.Int)
		deposits = append(deposits, Deposit{
			DealID: lg.Topics[1],
			Buyer:  common.BytesToAddress(lg.Topics[2].Bytes()),
			Amount: amount,
			Block:  lg.BlockNumber,
		})
	}
	return deposits, head + 1, nil
}

func (c *EthClient) Head(ctx context.Context) (uint64, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return head, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return ErrNotConnected
	}
	if _, err := c.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// waitForReceipt polls until the transaction is mined or the context ends.
func waitForReceipt(ctx context.Context, client *ethclient.Client, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
