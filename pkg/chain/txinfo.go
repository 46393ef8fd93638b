package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxReader looks up transactions and receipts.
// *ethclient.Client satisfies it.
type TxReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TxInfo summarises a transaction and its receipt, if mined
type TxInfo struct {
	Hash          string `json:"hash"`
	Nonce         uint64 `json:"nonce"`
	GasPrice      string `json:"gas_price"`
	GasLimit      uint64 `json:"gas_limit"`
	To            string `json:"to"`
	Value         string `json:"value"`
	Pending       bool   `json:"pending"`
	Mined         bool   `json:"mined"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	GasUsed       uint64 `json:"gas_used,omitempty"`
	Status        string `json:"status,omitempty"`
	Confirmations uint64 `json:"confirmations,omitempty"`
}

// GetTransactionInfo retrieves information about a transaction
func GetTransactionInfo(ctx context.Context, client TxReader, hash common.Hash) (*TxInfo, error) {
	tx, isPending, err := client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	info := &TxInfo{
		Hash:     tx.Hash().Hex(),
		Nonce:    tx.Nonce(),
		GasPrice: tx.GasPrice().String(),
		GasLimit: tx.Gas(),
		Value:    tx.Value().String(),
		Pending:  isPending,
	}
	if tx.To() != nil {
		info.To = tx.To().Hex()
	}
	if isPending {
		return info, nil
	}

	receipt, err := client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}
	if receipt.BlockNumber == nil {
		return info, nil
	}

	info.Mined = true
	info.BlockNumber = receipt.BlockNumber.Uint64()
	info.GasUsed = receipt.GasUsed
	info.Status = "success"
	if receipt.Status == types.ReceiptStatusFailed {
		info.Status = "reverted"
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}
	info.Confirmations = confirmations(head, receipt.BlockNumber)

	return info, nil
}
