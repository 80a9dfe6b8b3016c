package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

const redeemGasLimit = uint64(300_000)

var ctfABI = mustABI(`[
	{"name":"payoutDenominator","type":"function","stateMutability":"view",
	 "inputs":[{"name":"conditionId","type":"bytes32"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"redeemPositions","type":"function",
	 "inputs":[
		{"name":"collateralToken","type":"address"},
		{"name":"parentCollectionId","type":"bytes32"},
		{"name":"conditionId","type":"bytes32"},
		{"name":"indexSets","type":"uint256[]"}],
	 "outputs":[]}
]`)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: abi: " + err.Error())
	}
	return parsed
}

// Backend is the subset of an RPC client the oracle uses. *ethclient.Client
// implements it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ domain.ResolutionOracle = (*Oracle)(nil)

// Oracle reads condition resolution from the CTF and redeems winning
// positions with EIP-1559 transactions.
type Oracle struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	ctf     common.Address
	logger  *slog.Logger
}

// DialOracle connects to rpcURL and returns an oracle and its closer.
func DialOracle(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, logger *slog.Logger) (*Oracle, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial oracle rpc: %w", err)
	}
	o, err := NewOracle(client, key, PolygonChainID, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return o, client.Close, nil
}

// NewOracle creates an oracle. key may be nil for a read-only oracle whose
// Redeem always fails.
func NewOracle(backend Backend, key *ecdsa.PrivateKey, chainID int64, logger *slog.Logger) (*Oracle, error) {
	if backend == nil {
		return nil, errors.New("chain: oracle backend is required")
	}
	o := &Oracle{
		backend: backend,
		key:     key,
		chainID: big.NewInt(chainID),
		ctf:     common.HexToAddress(CTFAddress),
		logger:  logger.With(slog.String("component", "oracle")),
	}
	if key != nil {
		o.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return o, nil
}

// IsResolved reports whether payoutDenominator(conditionId) is non-zero.
func (o *Oracle) IsResolved(ctx context.Context, conditionID string) (bool, error) {
	cid, err := ParseConditionID(conditionID)
	if err != nil {
		return false, err
	}
	data, err := ctfABI.Pack("payoutDenominator", cid)
	if err != nil {
		return false, fmt.Errorf("chain: pack payoutDenominator: %w", err)
	}
	out, err := o.backend.CallContract(ctx, ethereum.CallMsg{To: &o.ctf, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("chain: payoutDenominator %s: %w", conditionID, err)
	}
	vals, err := ctfABI.Unpack("payoutDenominator", out)
	if err != nil || len(vals) == 0 {
		return false, fmt.Errorf("chain: unpack payoutDenominator: %v", err)
	}
	den, ok := vals[0].(*big.Int)
	if !ok {
		return false, fmt.Errorf("chain: payoutDenominator returned %T", vals[0])
	}
	return den.Sign() > 0, nil
}

// Redeem sends redeemPositions(collateral, 0x0, conditionId, [1, 2]) and
// returns the transaction hash. It does not wait for inclusion.
func (o *Oracle) Redeem(ctx context.Context, conditionID string) (string, error) {
	if o.key == nil {
		return "", fmt.Errorf("chain: redeem: %w: no wallet key", domain.ErrSigningFailed)
	}
	cid, err := ParseConditionID(conditionID)
	if err != nil {
		return "", err
	}
	data, err := ctfABI.Pack("redeemPositions",
		common.HexToAddress(CollateralAddress),
		[32]byte{},
		cid,
		[]*big.Int{big.NewInt(IndexSetYes), big.NewInt(IndexSetNo)},
	)
	if err != nil {
		return "", fmt.Errorf("chain: pack redeemPositions: %w", err)
	}

	nonce, err := o.backend.PendingNonceAt(ctx, o.from)
	if err != nil {
		return "", fmt.Errorf("chain: nonce: %w", err)
	}
	tip, err := o.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas tip: %w", err)
	}
	head, err := o.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("chain: latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	// fee cap tolerates the base fee doubling before inclusion
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	gas, err := o.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      o.from,
		To:        &o.ctf,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "gas estimate failed, using default",
			slog.String("error", err.Error()),
			slog.Uint64("limit", redeemGasLimit),
		)
		gas = redeemGasLimit
	} else {
		gas = gas * 12 / 10
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   o.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &o.ctf,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(o.chainID), o.key)
	if err != nil {
		return "", fmt.Errorf("chain: %w: %w", domain.ErrSigningFailed, err)
	}
	if err := o.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send redeem: %w", err)
	}

	hash := signed.Hash().Hex()
	o.logger.InfoContext(ctx, "redeem sent",
		slog.String("condition_id", conditionID),
		slog.String("tx", hash),
		slog.Uint64("nonce", nonce),
	)
	return hash, nil
}
