package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"index-swap/pkg/swap"
)

const gatewayABI = `[
{"inputs":[{"name":"amount","type":"uint256"},{"name":"frontendHash","type":"bytes32"}],"name":"depositUSDC","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"amount","type":"uint256"},{"name":"frontendHash","type":"bytes32"}],"name":"depositDSPY","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Gateway submits deposits to the transaction gateway contract
type Gateway struct {
	address common.Address
	signer  *Signer
	abi     abi.ABI
}

// NewGateway creates a gateway adapter
func NewGateway(address common.Address, signer *Signer) (*Gateway, error) {
	if signer == nil {
		return nil, fmt.Errorf("no signer configured")
	}
	parsed, err := abi.JSON(strings.NewReader(gatewayABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway ABI: %w", err)
	}
	return &Gateway{address: address, signer: signer, abi: parsed}, nil
}

// Address returns the gateway contract address
func (g *Gateway) Address() common.Address {
	return g.address
}

// DepositData packs the deposit call for the given direction
func (g *Gateway) DepositData(direction swap.Direction, amount *big.Int, key [32]byte) ([]byte, error) {
	var method string
	switch direction {
	case swap.Buy:
		method = "depositUSDC"
	case swap.Sell:
		method = "depositDSPY"
	default:
		return nil, fmt.Errorf("unknown direction %q", direction)
	}

	data, err := g.abi.Pack(method, amount, key)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}
	return data, nil
}

// SubmitTransfer broadcasts the deposit carrying the idempotency key
func (g *Gateway) SubmitTransfer(ctx context.Context, direction swap.Direction, amount *big.Int, key [32]byte) (common.Hash, error) {
	data, err := g.DepositData(direction, amount, key)
	if err != nil {
		return common.Hash{}, err
	}
	return g.signer.Send(ctx, "deposit", g.address, data)
}
