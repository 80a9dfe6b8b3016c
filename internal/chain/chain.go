// Package chain talks to the conditional-token contracts on Polygon: it
// derives outcome token ids, watches for new conditions and redeems
// resolved positions.
package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// PolygonChainID is Polygon PoS mainnet.
	PolygonChainID = int64(137)

	// CTFAddress is the Conditional Tokens Framework contract.
	CTFAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// CollateralAddress is USDC.e, the collateral of standard binary markets.
	CollateralAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// WrappedCollateralAddress is the neg-risk adapter's wrapped USDC.e,
	// which collateralizes the positions of neg-risk markets.
	WrappedCollateralAddress = "0x3A3BD7bb9528E159577F7C2e685CC81A765002E2"

	// Index sets of the two outcome slots of a binary condition.
	IndexSetYes = 1
	IndexSetNo  = 2
)

// ConditionPreparationTopic is topic0 of the CTF ConditionPreparation event.
var ConditionPreparationTopic = crypto.Keccak256Hash(
	[]byte("ConditionPreparation(bytes32,address,bytes32,uint256)"),
)

// ParseConditionID decodes a 0x-prefixed 32-byte condition id.
func ParseConditionID(s string) ([32]byte, error) {
	var out [32]byte
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 64 {
		return out, fmt.Errorf("chain: condition id %q: expected 64 hex chars, got %d", s, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return out, fmt.Errorf("chain: condition id %q: %w", s, err)
	}
	copy(out[:], b)
	return out, nil
}

// altBN128P is the field modulus of alt_bn128, the curve y² = x³ + 3 that
// collection ids are points on.
var altBN128P, _ = new(big.Int).SetString("30644e72e131a029b85045b68181585d97816a916871ca8d3c208c16d87cfd47", 16)

// sqrtExp is (P+1)/4. Since P is 3 mod 4, yy^sqrtExp is a square root of yy
// whenever one exists.
var sqrtExp = new(big.Int).Rsh(new(big.Int).Add(altBN128P, big.NewInt(1)), 2)

// DeriveAssetIDs computes the YES and NO outcome token ids of a USDC.e
// collateralized condition without a network call:
//
//	collectionId = compress(point on alt_bn128 from keccak256(conditionId ‖ uint256(indexSet)))
//	positionId   = keccak256(collateral ‖ collectionId)
//
// The ids are returned as decimal strings ordered [YES, NO].
func DeriveAssetIDs(conditionID string) ([]string, error) {
	return deriveAssetIDs(conditionID, CollateralAddress)
}

// DeriveNegRiskAssetIDs is DeriveAssetIDs for neg-risk markets.
func DeriveNegRiskAssetIDs(conditionID string) ([]string, error) {
	return deriveAssetIDs(conditionID, WrappedCollateralAddress)
}

func deriveAssetIDs(conditionID, collateral string) ([]string, error) {
	cid, err := ParseConditionID(conditionID)
	if err != nil {
		return nil, err
	}
	addr := common.HexToAddress(collateral)
	return []string{
		positionID(addr, collectionID(cid, IndexSetYes)).String(),
		positionID(addr, collectionID(cid, IndexSetNo)).String(),
	}, nil
}

// collectionID is the CTF collection id of an index set under the root
// collection. The hash is walked forward to the next x on the curve, y is
// chosen by the parity of the hash's top bit, and the point is compressed
// into x with bit 254 flagging an odd y.
func collectionID(cid [32]byte, indexSet int64) [32]byte {
	h := crypto.Keccak256(cid[:], common.LeftPadBytes(big.NewInt(indexSet).Bytes(), 32))
	x := new(big.Int).SetBytes(h)
	odd := x.Bit(255) == 1

	one, three := big.NewInt(1), big.NewInt(3)
	y, yy, sq := new(big.Int), new(big.Int), new(big.Int)
	for {
		x.Add(x, one).Mod(x, altBN128P)
		yy.Mul(x, x).Mul(yy, x).Add(yy, three).Mod(yy, altBN128P)
		y.Exp(yy, sqrtExp, altBN128P)
		if sq.Mul(y, y).Mod(sq, altBN128P).Cmp(yy) == 0 {
			break
		}
	}
	if odd != (y.Bit(0) == 1) {
		y.Sub(altBN128P, y)
	}
	if y.Bit(0) == 1 {
		x.SetBit(x, 254, x.Bit(254)^1)
	}

	var out [32]byte
	x.FillBytes(out[:])
	return out
}

func positionID(collateral common.Address, collection [32]byte) *big.Int {
	return new(big.Int).SetBytes(crypto.Keccak256(collateral.Bytes(), collection[:]))
}
