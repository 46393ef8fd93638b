package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Dial connects to the RPC endpoint and checks it serves the expected chain
func Dial(ctx context.Context, rpcURL string, chainID int64) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL not configured")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if chainID > 0 && remote.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("RPC endpoint serves chain %s, expected %d", remote, chainID)
	}

	return client, nil
}
