package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// LogSubscriber is the part of an RPC client the listener needs.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// DialFunc opens a log subscriber and returns a function that closes it.
type DialFunc func(ctx context.Context, url string) (LogSubscriber, func(), error)

// DialWebsocket dials an RPC endpoint with ethclient.
func DialWebsocket(ctx context.Context, url string) (LogSubscriber, func(), error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// ListenerConfig configures a ConditionListener.
type ListenerConfig struct {
	RPCURL  string
	Backoff time.Duration
	Buffer  int
}

// ConditionListener streams the condition ids of newly prepared CTF
// conditions. The subscription is re-established after any error.
type ConditionListener struct {
	cfg    ListenerConfig
	dial   DialFunc
	out    chan string
	logger *slog.Logger
}

// NewConditionListener creates a listener. dial may be nil to use
// DialWebsocket.
func NewConditionListener(cfg ListenerConfig, dial DialFunc, logger *slog.Logger) *ConditionListener {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if dial == nil {
		dial = DialWebsocket
	}
	return &ConditionListener{
		cfg:    cfg,
		dial:   dial,
		out:    make(chan string, cfg.Buffer),
		logger: logger.With(slog.String("component", "condition_listener")),
	}
}

// Conditions returns the channel of new condition ids (0x-prefixed hex).
func (l *ConditionListener) Conditions() <-chan string {
	return l.out
}

// Run listens until ctx is cancelled.
func (l *ConditionListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.WarnContext(ctx, "condition subscription ended",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("backoff", l.cfg.Backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.Backoff):
		}
	}
}

func (l *ConditionListener) listen(ctx context.Context) error {
	client, closeFn, err := l.dial(ctx, l.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("chain: dial: %w", err)
	}
	defer closeFn()

	query := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(CTFAddress)},
		Topics:    [][]common.Hash{{ConditionPreparationTopic}},
	}
	logs := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("chain: subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	l.logger.InfoContext(ctx, "listening for new conditions", slog.String("contract", CTFAddress))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return fmt.Errorf("chain: subscription closed")
			}
			return fmt.Errorf("chain: subscription: %w", err)
		case lg := <-logs:
			if lg.Removed || len(lg.Topics) < 2 {
				continue
			}
			cid := lg.Topics[1].Hex()
			l.logger.InfoContext(ctx, "new condition",
				slog.String("condition_id", cid),
				slog.Uint64("block", lg.BlockNumber),
			)
			select {
			case l.out <- cid:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
