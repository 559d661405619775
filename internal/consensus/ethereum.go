package consensus

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// BlockNumberer is the part of an Ethereum client the oracle needs.
// *ethclient.Client satisfies it.
type BlockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// EthereumOracle derives height and epoch from an Ethereum JSON-RPC endpoint.
// The epoch is the block number divided by the configured epoch length.
//
// Concurrent callers share one in-flight RPC, and the highest block seen is
// remembered so a lagging RPC backend never moves the height backwards.
type EthereumOracle struct {
	client      BlockNumberer
	epochBlocks uint64
	group       singleflight.Group
	highest     atomic.Uint64
	closeFunc   func()
}

// NewEthereumOracle wraps client. epochBlocks must be at least 1.
func NewEthereumOracle(client BlockNumberer, epochBlocks uint64) *EthereumOracle {
	return &EthereumOracle{client: client, epochBlocks: max(epochBlocks, 1)}
}

// DialEthereumOracle connects to rpcURL.
func DialEthereumOracle(ctx context.Context, rpcURL string, epochBlocks uint64) (*EthereumOracle, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum rpc: %w", err)
	}

	oracle := NewEthereumOracle(client, epochBlocks)
	oracle.closeFunc = client.Close
	return oracle, nil
}

// LatestHeight implements Oracle.
func (o *EthereumOracle) LatestHeight(ctx context.Context) (uint64, error) {
	v, err, _ := o.group.Do("block-number", func() (any, error) {
		return o.client.BlockNumber(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	height := v.(uint64)
	for {
		seen := o.highest.Load()
		if height <= seen {
			return seen, nil
		}
		if o.highest.CompareAndSwap(seen, height) {
			return height, nil
		}
	}
}

// CurrentEpoch implements Oracle.
func (o *EthereumOracle) CurrentEpoch(ctx context.Context) (uint64, error) {
	height, err := o.LatestHeight(ctx)
	if err != nil {
		return 0, err
	}
	return height / o.epochBlocks, nil
}

// Close releases the RPC connection when the oracle dialed it.
func (o *EthereumOracle) Close() {
	if o.closeFunc != nil {
		o.closeFunc()
	}
}
