package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/terraforum/backend/src/domain"
)

const (
	nativeTransferGasLimit = 21000
	erc20TransferGasLimit  = 80000
)

// PaymentRequest describes one outbound payment from the issuer account.
type PaymentRequest struct {
	To        string
	Amount    decimal.Decimal
	TokenKind domain.TokenKind
}

// ChainClient is the boundary to the external ledger. Implementations own
// exactly one issuer signing credential and one network session, constructed
// explicitly and injected into callers.
type ChainClient interface {
	IssuerAddress() string
	AccountExists(ctx context.Context, address string) (bool, error)
	SubmitPayment(ctx context.Context, req PaymentRequest) (string, error)
	AwaitFinality(ctx context.Context, txHash string, timeout time.Duration) error
	Close()
}

type EthChainConfig struct {
	RPCURL        string
	ChainID       int64
	PrivateKey    string
	TokenContract string // ERC-20 address for the platform token; empty disables "terra" payouts
	Confirmations uint64
	PollInterval  time.Duration
}

// EthChainClient submits payments to an EVM chain over JSON-RPC.
type EthChainClient struct {
	client        *ethclient.Client
	chainID       *big.Int
	privateKey    *ecdsa.PrivateKey
	issuer        common.Address
	tokenContract *common.Address
	confirmations uint64
	pollInterval  time.Duration

	// The issuer account requires strictly increasing nonces; mu serializes
	// nonce assignment and broadcast so concurrent submissions cannot corrupt
	// ordering.
	mu sync.Mutex
}

func NewEthChainClient(ctx context.Context, config EthChainConfig) (*EthChainClient, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(config.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	remoteChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if remoteChainID.Int64() != config.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: configured %d, node reports %s", config.ChainID, remoteChainID)
	}

	c := &EthChainClient{
		client:        client,
		chainID:       big.NewInt(config.ChainID),
		privateKey:    privateKey,
		issuer:        crypto.PubkeyToAddress(privateKey.PublicKey),
		confirmations: config.Confirmations,
		pollInterval:  config.PollInterval,
	}
	if c.confirmations == 0 {
		c.confirmations = 1
	}
	if c.pollInterval == 0 {
		c.pollInterval = 3 * time.Second
	}
	if config.TokenContract != "" {
		if !common.IsHexAddress(config.TokenContract) {
			client.Close()
			return nil, fmt.Errorf("invalid token contract address: %s", config.TokenContract)
		}
		addr := common.HexToAddress(config.TokenContract)
		c.tokenContract = &addr
	}

	return c, nil
}

// logger wraps the execution context with component info
func (c *EthChainClient) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "chain").Logger()
	return &l
}

func (c *EthChainClient) IssuerAddress() string {
	return c.issuer.Hex()
}

// AccountExists checks that the destination is reachable on the ledger. EVM
// accounts exist implicitly, so this validates the address shape and that the
// node answers for it.
func (c *EthChainClient) AccountExists(ctx context.Context, address string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, nil
	}
	if _, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil); err != nil {
		return false, domain.NewError(domain.ErrorCodeChainSubmission, err, domain.WithMsg("Ledger lookup failed"))
	}
	return true, nil
}

// SubmitPayment builds, signs and broadcasts a payment from the issuer
// account, returning the transaction hash. Calls are serialized per issuer.
func (c *EthChainClient) SubmitPayment(ctx context.Context, req PaymentRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !common.IsHexAddress(req.To) {
		return "", domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("invalid destination address: %s", req.To), domain.WithMsg("Invalid destination address"))
	}
	to := common.HexToAddress(req.To)

	nonce, err := c.client.PendingNonceAt(ctx, c.issuer)
	if err != nil {
		return "", domain.NewError(domain.ErrorCodeChainSubmission, fmt.Errorf("failed to fetch issuer nonce: %w", err), domain.WithMsg("Ledger submission failed"))
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", domain.NewError(domain.ErrorCodeChainSubmission, fmt.Errorf("failed to fetch gas price: %w", err), domain.WithMsg("Ledger submission failed"))
	}

	var tx *types.Transaction
	switch req.TokenKind {
	case domain.TokenKindNative:
		tx = types.NewTransaction(nonce, to, toBaseUnits(req.Amount), nativeTransferGasLimit, gasPrice, nil)
	case domain.TokenKindTerra:
		if c.tokenContract == nil {
			return "", domain.NewError(domain.ErrorCodeParameterInvalid, errors.New("platform token contract is not configured"), domain.WithMsg("Token payouts are not enabled"))
		}
		calldata, err := packTokenTransfer(to, toBaseUnits(req.Amount))
		if err != nil {
			return "", domain.NewError(domain.ErrorCodeInternalProcess, err)
		}
		tx = types.NewTransaction(nonce, *c.tokenContract, big.NewInt(0), erc20TransferGasLimit, gasPrice, calldata)
	default:
		return "", domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("unsupported token kind: %s", req.TokenKind), domain.WithMsg("Unsupported token kind"))
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return "", domain.NewError(domain.ErrorCodeInternalProcess, fmt.Errorf("failed to sign transaction: %w", err))
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", domain.NewError(domain.ErrorCodeChainSubmission, fmt.Errorf("failed to broadcast transaction: %w", err), domain.WithMsg("Ledger submission failed"))
	}

	txHash := signedTx.Hash().Hex()
	c.logger(ctx).Info().
		Str("tx_hash", txHash).
		Str("to", to.Hex()).
		Str("token_kind", string(req.TokenKind)).
		Str("amount", req.Amount.String()).
		Uint64("nonce", nonce).
		Msg("payment submitted")

	return txHash, nil
}

// AwaitFinality polls until the transaction is mined with the configured
// number of confirmations, the bounded timeout elapses, or the transaction
// reverts.
func (c *EthChainClient) AwaitFinality(ctx context.Context, txHash string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.NewError(domain.ErrorCodeChainTimeout, fmt.Errorf("finality wait for %s: %w", txHash, ctx.Err()), domain.WithMsg("Timed out waiting for ledger confirmation"))
		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue
				}
				if ctx.Err() != nil {
					return domain.NewError(domain.ErrorCodeChainTimeout, fmt.Errorf("finality wait for %s: %w", txHash, ctx.Err()), domain.WithMsg("Timed out waiting for ledger confirmation"))
				}
				c.logger(ctx).Warn().Err(err).Str("tx_hash", txHash).Msg("receipt lookup failed, retrying")
				continue
			}

			if receipt.Status != types.ReceiptStatusSuccessful {
				return domain.NewError(domain.ErrorCodeChainSubmission, fmt.Errorf("transaction %s reverted", txHash), domain.WithMsg("Ledger transaction reverted"))
			}

			head, err := c.client.BlockNumber(ctx)
			if err != nil {
				continue
			}
			if head >= receipt.BlockNumber.Uint64()+c.confirmations-1 {
				c.logger(ctx).Info().
					Str("tx_hash", txHash).
					Uint64("block", receipt.BlockNumber.Uint64()).
					Msg("payment finalized")
				return nil
			}
		}
	}
}

func (c *EthChainClient) Close() {
	c.client.Close()
}

// toBaseUnits converts a decimal token amount to base units (18 decimals,
// shared by the native currency and the platform token).
func toBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Mul(decimal.New(1, 18)).BigInt()
}

func packTokenTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	// ABI for transfer(address,uint256)
	contractABI := `[{"inputs":[{"type":"address"},{"type":"uint256"}],"name":"transfer","outputs":[{"type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

	parsedABI, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse transfer ABI: %w", err)
	}

	calldata, err := parsedABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer call: %w", err)
	}
	return calldata, nil
}
