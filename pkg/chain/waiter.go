package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"index-swap/pkg/swap"
)

const DefaultPollInterval = 2 * time.Second

var errNotDeepEnough = errors.New("not enough confirmations")

// ReceiptSource is the node surface the waiter polls.
// *ethclient.Client satisfies it.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Waiter polls for receipts until a transaction is deep enough,
// reverted, or the timeout elapses
type Waiter struct {
	client   ReceiptSource
	interval time.Duration
	log      *logrus.Entry
}

// NewWaiter creates a waiter polling at the given interval
func NewWaiter(client ReceiptSource, interval time.Duration, log *logrus.Entry) *Waiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Waiter{client: client, interval: interval, log: log}
}

// Wait blocks until hash has depth confirmations, its receipt reports
// failure, or timeout elapses. Timing out leaves the transaction in the
// mempool; the result is TxTimedOut, not an error. An error is returned
// only when ctx itself is cancelled.
func (w *Waiter) Wait(ctx context.Context, hash common.Hash, depth uint64, timeout time.Duration) (swap.WaitResult, error) {
	if depth == 0 {
		depth = 1
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := w.log.WithField("tx_hash", hash.Hex())
	var result swap.WaitResult

	operation := func() error {
		receipt, err := w.client.TransactionReceipt(waitCtx, hash)
		if err != nil {
			return err
		}
		if receipt == nil || receipt.BlockNumber == nil {
			return errNotDeepEnough
		}
		if receipt.Status == types.ReceiptStatusFailed {
			result.Status = swap.TxReverted
			return nil
		}

		head, err := w.client.BlockNumber(waitCtx)
		if err != nil {
			return fmt.Errorf("failed to get block number: %w", err)
		}
		result.Confirmations = confirmations(head, receipt.BlockNumber)
		if result.Confirmations < depth {
			return errNotDeepEnough
		}
		result.Status = swap.TxConfirmed
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(w.interval), waitCtx)
	err := backoff.RetryNotify(operation, b, func(e error, d time.Duration) {
		log.WithField("confirmations", result.Confirmations).Debugf("waiting for confirmation: %v", e)
	})
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		result.Status = swap.TxPending
		return result, ctx.Err()
	}

	log.WithField("timeout", timeout).Warn("confirmation wait timed out")
	result.Status = swap.TxTimedOut
	return result, nil
}

// confirmations counts the receipt's block as the first confirmation
func confirmations(head uint64, block *big.Int) uint64 {
	if !block.IsUint64() || head < block.Uint64() {
		return 0
	}
	return head - block.Uint64() + 1
}
