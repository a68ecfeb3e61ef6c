package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	timestampCacheSize = 4096
	headerRetries      = 3
	headerRetryDelay   = 200 * time.Millisecond
)

// Client wraps a go-ethereum websocket RPC connection.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	tsCache   *lru.Cache[uint64, uint64]
}

// ParseEndpoint validates a streaming node endpoint.
func ParseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("ws url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("ws url must use ws or wss scheme: %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("ws url has no host: %q", raw)
	}
	return u, nil
}

// NewClient dials the node at wsURL.
func NewClient(ctx context.Context, wsURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, wsURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache:   lru.NewCache[uint64, uint64](timestampCacheSize),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// BlockTimestamp returns the block timestamp in seconds, using an LRU cache.
// A node behind a load balancer may not have the header yet when the log
// arrives, so lookups are retried briefly.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.tsCache.Get(number); ok {
		return ts, nil
	}

	var header *types.Header
	err := withRetry(ctx, headerRetries, headerRetryDelay, func(ctx context.Context) error {
		h, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", number, err)
	}

	c.tsCache.Add(number, header.Time)
	return header.Time, nil
}

// SubscribeLogs streams new logs emitted by address into ch.
func (c *Client) SubscribeLogs(ctx context.Context, address common.Address, ch chan<- types.Log) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{address},
	}
	return c.ethClient.SubscribeFilterLogs(ctx, query, ch)
}
