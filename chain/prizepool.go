// Package chain implements the client for the on-chain prize pool contract.
// The contract itself is a black box: this service submits a Merkle root per
// game and reads fee/pause state; claimPrize is called by the user's own
// wallet, outside this process.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const prizePoolABI = `[
	{"inputs":[],"name":"platformFeeBps","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"paused","outputs":[{"type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"accumulatedFees","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"gameId","type":"uint256"},{"name":"merkleRoot","type":"bytes32"}],"name":"submitGameResults","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"gameId","type":"uint256"}],"name":"gameResults","outputs":[{"type":"bytes32"}],"stateMutability":"view","type":"function"}
]`

// PrizePool is the contract surface the settlement and claim services need.
// Kept as an interface so rank/publish logic can be exercised without RPC.
type PrizePool interface {
	PlatformFeeBps(ctx context.Context) (int, error)
	Paused(ctx context.Context) (bool, error)
	AccumulatedFees(ctx context.Context) (*big.Int, error)
	SubmittedRoot(ctx context.Context, chainGameID uint64) (common.Hash, error)
	SubmitMerkleRoot(ctx context.Context, chainGameID uint64, root common.Hash) (string, error)
}

// PrizePoolClient talks to the deployed prize pool contract over RPC.
type PrizePoolClient struct {
	ethClient    *ethclient.Client
	contractAddr common.Address
	contractABI  abi.ABI
	chainID      *big.Int

	operatorKey  *ecdsa.PrivateKey
	operatorAddr common.Address
}

// NewPrizePoolClient connects using CHAIN_RPC_URL, PRIZE_POOL_CONTRACT and
// OPERATOR_PRIVATE_KEY.
func NewPrizePoolClient() (*PrizePoolClient, error) {
	rpcURL := os.Getenv("CHAIN_RPC_URL")
	if rpcURL == "" {
		return nil, fmt.Errorf("CHAIN_RPC_URL environment variable not set")
	}
	contractHex := os.Getenv("PRIZE_POOL_CONTRACT")
	if !common.IsHexAddress(contractHex) {
		return nil, fmt.Errorf("PRIZE_POOL_CONTRACT is not a valid address: %q", contractHex)
	}
	keyHex := strings.TrimPrefix(os.Getenv("OPERATOR_PRIVATE_KEY"), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("OPERATOR_PRIVATE_KEY environment variable not set")
	}

	operatorKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid OPERATOR_PRIVATE_KEY: %w", err)
	}

	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain RPC: %w", err)
	}

	chainID, err := ethClient.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(prizePoolABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse prize pool ABI: %w", err)
	}

	return &PrizePoolClient{
		ethClient:    ethClient,
		contractAddr: common.HexToAddress(contractHex),
		contractABI:  parsedABI,
		chainID:      chainID,
		operatorKey:  operatorKey,
		operatorAddr: crypto.PubkeyToAddress(operatorKey.PublicKey),
	}, nil
}

func (c *PrizePoolClient) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	callData, err := c.contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}
	result, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contractAddr,
		Data: callData,
	}, nil)
	if err != nil {
		return fmt.Errorf("%s call failed: %w", method, err)
	}
	if err := c.contractABI.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// PlatformFeeBps reads the fee the contract will withhold, in basis points.
func (c *PrizePoolClient) PlatformFeeBps(ctx context.Context) (int, error) {
	var feeBps *big.Int
	if err := c.call(ctx, "platformFeeBps", &feeBps); err != nil {
		return 0, err
	}
	return int(feeBps.Int64()), nil
}

// Paused reports whether the contract is paused for submissions and claims.
func (c *PrizePoolClient) Paused(ctx context.Context) (bool, error) {
	var paused bool
	if err := c.call(ctx, "paused", &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// AccumulatedFees reads the platform fees accrued by the contract.
func (c *PrizePoolClient) AccumulatedFees(ctx context.Context) (*big.Int, error) {
	var fees *big.Int
	if err := c.call(ctx, "accumulatedFees", &fees); err != nil {
		return nil, err
	}
	return fees, nil
}

// SubmittedRoot reads an already-committed root for a game, zero if none.
func (c *PrizePoolClient) SubmittedRoot(ctx context.Context, chainGameID uint64) (common.Hash, error) {
	var root [32]byte
	if err := c.call(ctx, "gameResults", &root, new(big.Int).SetUint64(chainGameID)); err != nil {
		return common.Hash{}, err
	}
	return common.Hash(root), nil
}

// SubmitMerkleRoot signs and sends submitGameResults, waits for the receipt,
// and returns the transaction hash. The caller bounds the wait through ctx;
// a failed receipt status is an error.
func (c *PrizePoolClient) SubmitMerkleRoot(ctx context.Context, chainGameID uint64, root common.Hash) (string, error) {
	callData, err := c.contractABI.Pack("submitGameResults", new(big.Int).SetUint64(chainGameID), [32]byte(root))
	if err != nil {
		return "", fmt.Errorf("failed to encode submitGameResults: %w", err)
	}

	nonce, err := c.ethClient.PendingNonceAt(ctx, c.operatorAddr)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gasLimit, err := c.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From: c.operatorAddr,
		To:   &c.contractAddr,
		Data: callData,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, c.contractAddr, big.NewInt(0), gasLimit, gasPrice, callData)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.operatorKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	log.Printf("[Chain] Submitted root %s for game %d (tx: %s), waiting for receipt...",
		root.Hex(), chainGameID, signedTx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, c.ethClient, signedTx)
	if err != nil {
		return "", fmt.Errorf("failed waiting for receipt: %w", err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return "", fmt.Errorf("submitGameResults reverted (tx: %s)", signedTx.Hash().Hex())
	}

	log.Printf("[Chain] Root for game %d confirmed in block %d", chainGameID, receipt.BlockNumber.Uint64())
	return signedTx.Hash().Hex(), nil
}

// TxTimeout returns the bounded wait for a root submission, from
// CHAIN_TX_TIMEOUT (seconds), default 90s.
func TxTimeout() time.Duration {
	if raw := os.Getenv("CHAIN_TX_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw + "s"); err == nil && d > 0 {
			return d
		}
	}
	return 90 * time.Second
}
