package swap

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"index-swap/pkg/idempotency"
)

// Direction says which token the user spends
type Direction string

const (
	Buy  Direction = "buy"  // Spend stablecoin, receive index token
	Sell Direction = "sell" // Spend index token, receive stablecoin
)

// ParseDirection accepts "buy" or "sell" in any case
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown direction %q: expected 'buy' or 'sell'", s)
	}
}

// Asset describes the ERC-20 token spent in one direction
type Asset struct {
	Symbol   string
	Token    common.Address
	Decimals int32
}

// maxUint256Digits is the number of decimal digits in 2^256-1
const maxUint256Digits = 78

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ToBaseUnits converts a positive decimal amount to the token's smallest
// unit. Amounts with more fractional digits than the token supports are
// rejected rather than rounded, and the result must fit in a uint256.
// The exponent is checked before any scaling so inputs like 1e-2000000000
// fail fast instead of building huge powers of ten.
func (a Asset) ToBaseUnits(amount decimal.Decimal) (*big.Int, error) {
	coef, exp := amount.Coefficient(), amount.Exponent()
	coef.Abs(coef)
	if coef.Sign() == 0 {
		return new(big.Int), nil
	}
	if len(coef.String()) > maxUint256Digits+int(a.Decimals) {
		return nil, fmt.Errorf("%s amount has too many digits", a.Symbol)
	}

	// drop trailing zeros so 1.500000000000 is accepted at 6 decimals
	ten := big.NewInt(10)
	for exp < -a.Decimals {
		q, r := new(big.Int).QuoRem(coef, ten, new(big.Int))
		if r.Sign() != 0 {
			break
		}
		coef, exp = q, exp+1
	}
	if exp < -a.Decimals {
		return nil, fmt.Errorf("%s supports at most %d decimal places", a.Symbol, a.Decimals)
	}

	shift := int64(exp) + int64(a.Decimals)
	if shift+int64(len(coef.String())) > maxUint256Digits {
		return nil, fmt.Errorf("%s amount exceeds uint256", a.Symbol)
	}
	units := coef.Mul(coef, new(big.Int).Exp(ten, big.NewInt(shift), nil))
	if units.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%s amount exceeds uint256", a.Symbol)
	}
	return units, nil
}

// SwapIntent is the user's request for one attempt.
// Only Status changes after creation.
type SwapIntent struct {
	Direction Direction       `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	BaseUnits *big.Int        `json:"base_units,omitempty"`
	Asset     string          `json:"asset"`
	Key       idempotency.Key `json:"idempotency_key"`
	Status    State           `json:"status"`
}

// AllowanceState is a snapshot of an on-chain allowance read during one attempt
type AllowanceState struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

// Sufficient reports whether the allowance covers the given amount
func (a AllowanceState) Sufficient(amount *big.Int) bool {
	return a.Amount != nil && a.Amount.Cmp(amount) >= 0
}

// TxKind distinguishes the two on-chain legs
type TxKind string

const (
	TxApproval TxKind = "approval"
	TxTransfer TxKind = "transfer"
)

// TxStatus is the observed status of a broadcast transaction
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxTimedOut  TxStatus = "timed_out"
	TxReverted  TxStatus = "reverted"
)

// Final reports whether no further status change is allowed
func (s TxStatus) Final() bool {
	return s == TxConfirmed || s == TxTimedOut || s == TxReverted
}

// TransactionRecord tracks one broadcast transaction for the lifetime of an attempt
type TransactionRecord struct {
	Kind          TxKind      `json:"kind"`
	Hash          common.Hash `json:"hash"`
	Confirmations uint64      `json:"confirmations"`
	Status        TxStatus    `json:"status"`
	SubmittedAt   time.Time   `json:"submitted_at"`
}

func newRecord(kind TxKind, hash common.Hash) *TransactionRecord {
	return &TransactionRecord{
		Kind:        kind,
		Hash:        hash,
		Status:      TxPending,
		SubmittedAt: time.Now(),
	}
}

// settle moves a pending record to its final status
func (r *TransactionRecord) settle(status TxStatus, confirmations uint64) error {
	if r.Status != TxPending {
		return fmt.Errorf("%s transaction %s already %s", r.Kind, r.Hash.Hex(), r.Status)
	}
	if !status.Final() {
		return fmt.Errorf("cannot settle %s transaction %s as %s", r.Kind, r.Hash.Hex(), status)
	}
	r.Status = status
	r.Confirmations = confirmations
	return nil
}

// Order is what gets registered with the backend before any chain action
type Order struct {
	Direction Direction
	Amount    decimal.Decimal
	Key       idempotency.Key
}

// OrderAck is the backend's acknowledgement of a pending order
type OrderAck struct {
	Reference string         `json:"reference,omitempty"`
	Event     string         `json:"event,omitempty"`
	Raw       map[string]any `json:"-"`
}

// WaitResult is what a ConfirmationWaiter observed
type WaitResult struct {
	Status        TxStatus
	Confirmations uint64
}
