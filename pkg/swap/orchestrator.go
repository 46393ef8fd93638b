package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"index-swap/pkg/idempotency"
)

const (
	DefaultConfirmationDepth   = 1
	DefaultConfirmationTimeout = 60 * time.Second
)

// OrderRegistrar records the swap intent with the backend
type OrderRegistrar interface {
	RegisterOrder(ctx context.Context, order Order) (*OrderAck, error)
}

// AllowanceInspector reads the current on-chain allowance
type AllowanceInspector interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// ApprovalSubmitter broadcasts approve(spender, amount) on a token
type ApprovalSubmitter interface {
	SubmitApproval(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
}

// TransferSubmitter broadcasts the gateway deposit carrying the idempotency key
type TransferSubmitter interface {
	SubmitTransfer(ctx context.Context, direction Direction, amount *big.Int, key [32]byte) (common.Hash, error)
}

// ConfirmationWaiter blocks until a transaction is confirmed, reverted or
// the timeout elapses. It returns an error only when ctx is cancelled.
type ConfirmationWaiter interface {
	Wait(ctx context.Context, hash common.Hash, depth uint64, timeout time.Duration) (WaitResult, error)
}

// Dependencies are the collaborators of an orchestrator
type Dependencies struct {
	Keys      idempotency.Generator
	Registrar OrderRegistrar
	Allowance AllowanceInspector
	Approver  ApprovalSubmitter
	Transfer  TransferSubmitter
	Waiter    ConfirmationWaiter
	Log       *logrus.Entry

	// Observer, if set, receives progress for every attempt
	Observer Observer
}

// Config holds the addresses and limits an orchestrator works with
type Config struct {
	Owner               common.Address
	Gateway             common.Address
	Assets              map[Direction]Asset
	ConfirmationDepth   uint64
	ConfirmationTimeout time.Duration
}

// Progress is reported to the observer on every state change and record update
type Progress struct {
	State  State
	Intent SwapIntent
	Record *TransactionRecord
}

// Observer receives progress updates; it runs on the attempt's goroutine
type Observer func(Progress)

// Outcome is the result of one attempt
type Outcome struct {
	Intent    SwapIntent
	State     State
	Trace     []State
	Order     *OrderAck
	Allowance *AllowanceState
	Records   []TransactionRecord
	Err       *Error
	Abandoned bool
}

// Ambiguous reports whether the attempt may still complete on chain
func (o *Outcome) Ambiguous() bool {
	return o.State == StateAmbiguous
}

// Orchestrator sequences the backend and chain legs of a swap.
// It keeps no per-attempt state, so Run may be called concurrently.
type Orchestrator struct {
	cfg  Config
	deps Dependencies
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Registrar == nil || deps.Allowance == nil || deps.Approver == nil ||
		deps.Transfer == nil || deps.Waiter == nil {
		return nil, fmt.Errorf("orchestrator requires registrar, allowance inspector, approver, transfer submitter and waiter")
	}
	if deps.Keys == nil {
		deps.Keys = idempotency.RandomGenerator{}
	}
	if deps.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		deps.Log = logrus.NewEntry(l)
	}
	for _, d := range []Direction{Buy, Sell} {
		if _, ok := cfg.Assets[d]; !ok {
			return nil, fmt.Errorf("no asset configured for %s", d)
		}
	}
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = DefaultConfirmationDepth
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfirmationTimeout
	}

	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// attempt is the state owned by a single Run call
type attempt struct {
	o       *Orchestrator
	machine *Machine
	intent  SwapIntent
	asset   Asset
	records []*TransactionRecord
	order   *OrderAck
	allow   *AllowanceState
	err     *Error
	log     *logrus.Entry
}

// Run executes one attempt with a fresh idempotency key. It always
// returns an outcome; the outcome is terminal unless ctx was cancelled.
func (o *Orchestrator) Run(ctx context.Context, direction Direction, amount string) *Outcome {
	key := o.deps.Keys.Generate()
	a := &attempt{
		o:       o,
		machine: NewMachine(),
		intent: SwapIntent{
			Direction: direction,
			Key:       key,
			Status:    StateIdle,
		},
		log: o.deps.Log.WithFields(logrus.Fields{
			"idempotency_key": key.String(),
			"direction":       direction,
		}),
	}

	a.run(ctx, amount)
	return a.outcome()
}

func (a *attempt) run(ctx context.Context, rawAmount string) {
	if err := a.prepare(rawAmount); err != nil {
		a.fail(err)
		return
	}
	a.fire(EventStart)

	for !a.machine.State().Terminal() {
		if ctx.Err() != nil {
			a.log.WithField("state", a.machine.State()).Warn("attempt abandoned")
			return
		}

		var ev Event
		var err error
		switch a.machine.State() {
		case StateRegisteringOrder:
			ev, err = a.registerOrder(ctx)
		case StateCheckingAllowance:
			ev, err = a.checkAllowance(ctx)
		case StateApproving:
			ev, err = a.approve(ctx)
		case StateAwaitingApproval:
			ev, err = a.await(ctx, TxApproval, EventApprovalConfirmed)
		case StateTransferring:
			ev, err = a.transfer(ctx)
		case StateAwaitingTransfer:
			ev, err = a.await(ctx, TxTransfer, EventTransferConfirmed)
		default:
			err = fmt.Errorf("no step for state %s", a.machine.State())
		}

		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				a.log.WithField("state", a.machine.State()).Warn("attempt abandoned")
				return
			}
			a.fail(err)
			return
		}
		a.fire(ev)
	}
}

// prepare validates the amount and fills the intent
func (a *attempt) prepare(rawAmount string) error {
	asset, ok := a.o.cfg.Assets[a.intent.Direction]
	if !ok {
		return NewError(KindValidation, "unknown direction %q", a.intent.Direction)
	}
	a.asset = asset
	a.intent.Asset = asset.Symbol

	amount, err := decimal.NewFromString(strings.TrimSpace(rawAmount))
	if err != nil {
		return NewError(KindValidation, "amount %q is not a number", truncate(rawAmount, 40))
	}
	if !amount.IsPositive() {
		return NewError(KindValidation, "amount must be greater than 0")
	}
	units, err := asset.ToBaseUnits(amount)
	if err != nil {
		return WrapError(KindValidation, err, "amount %q", truncate(rawAmount, 40))
	}

	a.intent.Amount = amount
	a.intent.BaseUnits = units
	return nil
}

func (a *attempt) registerOrder(ctx context.Context) (Event, error) {
	ack, err := a.o.deps.Registrar.RegisterOrder(ctx, Order{
		Direction: a.intent.Direction,
		Amount:    a.intent.Amount,
		Key:       a.intent.Key,
	})
	if err != nil {
		return "", classify(err, KindBackendUnreachable, "order registration failed")
	}
	if ack == nil {
		ack = &OrderAck{}
	}
	a.order = ack
	a.log.WithField("order_ref", ack.Reference).Info("order registered")
	return EventOrderRegistered, nil
}

// checkAllowance reads the allowance fresh. The read-then-approve sequence
// races other writers to the same allowance; the next attempt observes
// whatever landed.
func (a *attempt) checkAllowance(ctx context.Context) (Event, error) {
	cfg := a.o.cfg
	current, err := a.o.deps.Allowance.Allowance(ctx, a.asset.Token, cfg.Owner, cfg.Gateway)
	if err != nil {
		return "", classify(err, KindChainSubmissionFailed, "allowance read failed")
	}
	if current == nil {
		current = new(big.Int)
	}

	a.allow = &AllowanceState{
		Token:   a.asset.Token,
		Owner:   cfg.Owner,
		Spender: cfg.Gateway,
		Amount:  current,
	}
	log := a.log.WithFields(logrus.Fields{"allowance": current.String(), "required": a.intent.BaseUnits.String()})
	if a.allow.Sufficient(a.intent.BaseUnits) {
		log.Debug("allowance sufficient, skipping approval")
		return EventAllowanceSufficient, nil
	}
	log.Debug("allowance insufficient, approval required")
	return EventAllowanceInsufficient, nil
}

func (a *attempt) approve(ctx context.Context) (Event, error) {
	hash, err := a.o.deps.Approver.SubmitApproval(ctx, a.asset.Token, a.o.cfg.Gateway, a.intent.BaseUnits)
	if err != nil {
		return "", classify(err, KindChainSubmissionFailed, "approval submission failed")
	}
	a.addRecord(TxApproval, hash)
	return EventApprovalSubmitted, nil
}

func (a *attempt) transfer(ctx context.Context) (Event, error) {
	hash, err := a.o.deps.Transfer.SubmitTransfer(ctx, a.intent.Direction, a.intent.BaseUnits, a.intent.Key.Bytes32())
	if err != nil {
		return "", classify(err, KindChainSubmissionFailed, "transfer submission failed")
	}
	a.addRecord(TxTransfer, hash)
	return EventTransferSubmitted, nil
}

// await waits on the most recent record of the given kind
func (a *attempt) await(ctx context.Context, kind TxKind, confirmed Event) (Event, error) {
	rec := a.lastRecord(kind)
	if rec == nil {
		return "", fmt.Errorf("no %s transaction to wait for", kind)
	}

	res, err := a.o.deps.Waiter.Wait(ctx, rec.Hash, a.o.cfg.ConfirmationDepth, a.o.cfg.ConfirmationTimeout)
	if err != nil {
		return "", err
	}
	if err := rec.settle(res.Status, res.Confirmations); err != nil {
		return "", err
	}
	a.notify(rec)

	log := a.log.WithFields(logrus.Fields{"tx_hash": rec.Hash.Hex(), "kind": kind, "confirmations": res.Confirmations})
	switch res.Status {
	case TxConfirmed:
		log.Info("transaction confirmed")
		return confirmed, nil
	case TxTimedOut:
		log.Warn("confirmation timed out, transaction may still land")
		a.err = NewError(KindConfirmationTimeout, "%s transaction %s not confirmed within %s",
			kind, rec.Hash.Hex(), a.o.cfg.ConfirmationTimeout)
		return EventConfirmationTimedOut, nil
	case TxReverted:
		return "", NewError(KindConfirmationReverted, "%s transaction %s reverted", kind, rec.Hash.Hex())
	default:
		return "", fmt.Errorf("waiter returned non-final status %s", res.Status)
	}
}

func (a *attempt) addRecord(kind TxKind, hash common.Hash) {
	rec := newRecord(kind, hash)
	a.records = append(a.records, rec)
	a.log.WithFields(logrus.Fields{"tx_hash": hash.Hex(), "kind": kind}).Info("transaction broadcast")
	a.notify(rec)
}

func (a *attempt) lastRecord(kind TxKind) *TransactionRecord {
	for i := len(a.records) - 1; i >= 0; i-- {
		if a.records[i].Kind == kind {
			return a.records[i]
		}
	}
	return nil
}

func (a *attempt) fail(err error) {
	a.err = classify(err, KindChainSubmissionFailed, "unexpected failure")
	a.log.WithFields(logrus.Fields{"kind": a.err.Kind, "state": a.machine.State()}).WithError(err).Error("attempt failed")
	a.fire(EventFailed)
}

func (a *attempt) fire(e Event) {
	next, err := a.machine.Fire(e)
	if err != nil {
		// Only reachable through a bug in the step table above.
		panic(err)
	}
	a.intent.Status = next
	a.log.WithField("state", next).Debug("state changed")
	a.notify(nil)
}

func (a *attempt) notify(rec *TransactionRecord) {
	if a.o.deps.Observer == nil {
		return
	}
	p := Progress{State: a.machine.State(), Intent: a.intent}
	if rec != nil {
		cp := *rec
		p.Record = &cp
	}
	a.o.deps.Observer(p)
}

func (a *attempt) outcome() *Outcome {
	out := &Outcome{
		Intent:    a.intent,
		State:     a.machine.State(),
		Trace:     a.machine.Trace(),
		Order:     a.order,
		Allowance: a.allow,
		Records:   make([]TransactionRecord, 0, len(a.records)),
		Err:       a.err,
		Abandoned: !a.machine.State().Terminal(),
	}
	for _, r := range a.records {
		out.Records = append(out.Records, *r)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
