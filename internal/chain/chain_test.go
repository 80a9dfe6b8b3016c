package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

const (
	testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testCID = "0x5f65177b394277fd294cd75650044e32ba009a95022d88a0c1d565897d72f8f1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// The Polymarket "Will Donald Trump win the 2024 US Presidential Election?"
// market, a neg-risk market with well known outcome token ids.
const (
	trumpCID = "0xdd22472e552920b8438158ea7238bfadfa4f736aa4cee91a6b86c39ead110917"
	trumpYes = "21742633143463906290569050155826241533067272736897614950488156847949938836455"
	trumpNo  = "48331043336612883890938759509493159234755048973500640148014422747788308965732"
)

func TestDeriveNegRiskAssetIDs_MatchesOnChainTokens(t *testing.T) {
	ids, err := DeriveNegRiskAssetIDs(trumpCID)
	require.NoError(t, err)
	assert.Equal(t, []string{trumpYes, trumpNo}, ids)
}

func TestDeriveAssetIDs(t *testing.T) {
	ids, err := DeriveAssetIDs(trumpCID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"841307466155225383052511529578737033826783799931690508085638728778225200598",
		"25918554863900942499955133564096140932813638384082094931034142040029277123884",
	}, ids, "same collection ids under USDC.e")

	ids, err = DeriveAssetIDs(testCID)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	again, err := DeriveAssetIDs(testCID)
	require.NoError(t, err)
	assert.Equal(t, ids, again, "derivation is deterministic")

	for _, id := range ids {
		n, ok := new(big.Int).SetString(id, 10)
		require.True(t, ok, "decimal id %q", id)
		assert.Positive(t, n.Sign())
	}
}

func TestCollectionID_IsCompressedCurvePoint(t *testing.T) {
	cid, err := ParseConditionID(trumpCID)
	require.NoError(t, err)

	for _, set := range []int64{IndexSetYes, IndexSetNo} {
		c := collectionID(cid, set)
		x := new(big.Int).SetBytes(c[:])
		x.SetBit(x, 254, 0)
		require.Negative(t, x.Cmp(altBN128P))

		yy := new(big.Int).Mul(x, x)
		yy.Mul(yy, x).Add(yy, big.NewInt(3)).Mod(yy, altBN128P)
		assert.NotNil(t, new(big.Int).ModSqrt(yy, altBN128P), "x of index set %d is on the curve", set)
	}
}

func TestParseConditionID_Invalid(t *testing.T) {
	for _, s := range []string{"", "0x1234", "0x" + string(make([]byte, 64)), testCID + "00"} {
		_, err := ParseConditionID(s)
		assert.Error(t, err, "input %q", s)
	}
	_, err := DeriveAssetIDs("nope")
	assert.Error(t, err)
}

type fakeBackend struct {
	denominator *big.Int
	estimateErr error
	sent        []*types.Transaction
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return ctfABI.Methods["payoutDenominator"].Outputs.Pack(f.denominator)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(100_000_000_000)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func newTestOracle(t *testing.T, b *fakeBackend) *Oracle {
	t.Helper()
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	o, err := NewOracle(b, key, PolygonChainID, testLogger())
	require.NoError(t, err)
	return o
}

func TestOracle_IsResolved(t *testing.T) {
	b := &fakeBackend{denominator: big.NewInt(0)}
	o := newTestOracle(t, b)

	resolved, err := o.IsResolved(context.Background(), testCID)
	require.NoError(t, err)
	assert.False(t, resolved)

	b.denominator = big.NewInt(1)
	resolved, err = o.IsResolved(context.Background(), testCID)
	require.NoError(t, err)
	assert.True(t, resolved)

	_, err = o.IsResolved(context.Background(), "0xbad")
	assert.Error(t, err)
}

func TestOracle_Redeem_SendsDynamicFeeTx(t *testing.T) {
	b := &fakeBackend{}
	o := newTestOracle(t, b)

	hash, err := o.Redeem(context.Background(), testCID)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	assert.Equal(t, hash, tx.Hash().Hex())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, common.HexToAddress(CTFAddress), *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, big.NewInt(230_000_000_000), tx.GasFeeCap())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(PolygonChainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), sender)

	args, err := ctfABI.Methods["redeemPositions"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(CollateralAddress), args[0])
	assert.Equal(t, []*big.Int{big.NewInt(1), big.NewInt(2)}, args[3])
}

func TestOracle_Redeem_FallbackGasAndReadOnly(t *testing.T) {
	b := &fakeBackend{estimateErr: errors.New("execution reverted")}
	o := newTestOracle(t, b)
	_, err := o.Redeem(context.Background(), testCID)
	require.NoError(t, err)
	assert.Equal(t, redeemGasLimit, b.sent[0].Gas())

	ro, err := NewOracle(&fakeBackend{}, nil, PolygonChainID, testLogger())
	require.NoError(t, err)
	_, err = ro.Redeem(context.Background(), testCID)
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
}

type fakeSubscriber struct {
	mu    sync.Mutex
	calls int
	cid   common.Hash
}

func (f *fakeSubscriber) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if len(q.Topics) != 1 || q.Topics[0][0] != ConditionPreparationTopic {
		return nil, errors.New("unexpected filter")
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ch <- types.Log{Topics: []common.Hash{ConditionPreparationTopic}}
		ch <- types.Log{Topics: []common.Hash{ConditionPreparationTopic, f.cid}, BlockNumber: 9}
		if n == 1 {
			return errors.New("connection reset")
		}
		<-quit
		return nil
	}), nil
}

func TestConditionListener_EmitsAndResubscribes(t *testing.T) {
	sub := &fakeSubscriber{cid: common.HexToHash(testCID)}
	var dials atomic.Int32
	dial := func(context.Context, string) (LogSubscriber, func(), error) {
		dials.Add(1)
		return sub, func() {}, nil
	}
	l := NewConditionListener(ListenerConfig{RPCURL: "ws://test", Backoff: 10 * time.Millisecond}, dial, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case cid := <-l.Conditions():
		assert.Equal(t, testCID, cid)
	case <-time.After(2 * time.Second):
		t.Fatal("no condition emitted")
	}

	require.Eventually(t, func() bool { return dials.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
