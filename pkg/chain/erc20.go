package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// ERC20 reads allowances and balances and submits approvals
type ERC20 struct {
	caller ethereum.ContractCaller
	signer *Signer
	abi    abi.ABI
}

// NewERC20 creates a token adapter. signer may be nil for read-only use.
func NewERC20(caller ethereum.ContractCaller, signer *Signer) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return &ERC20{caller: caller, signer: signer, abi: parsed}, nil
}

// Allowance returns allowance(owner, spender) at the latest block
func (e *ERC20) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return e.callUint(ctx, token, "allowance", owner, spender)
}

// BalanceOf returns balanceOf(account) at the latest block
func (e *ERC20) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return e.callUint(ctx, token, "balanceOf", account)
}

// SubmitApproval broadcasts approve(spender, amount)
func (e *ERC20) SubmitApproval(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	if e.signer == nil {
		return common.Hash{}, fmt.Errorf("no signer configured")
	}

	data, err := e.abi.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve data: %w", err)
	}
	return e.signer.Send(ctx, "approve", token, data)
}

func (e *ERC20) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}

	result, err := e.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := e.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s result length %d", method, len(out))
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, out[0])
	}
	return value, nil
}
