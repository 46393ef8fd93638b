package swap

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"index-swap/pkg/idempotency"
)

var (
	owner      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	gateway    = common.HexToAddress("0x2572C074DEbE6daff54cA99B9467a4cE19C2867B")
	stablecoin = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	indexToken = common.HexToAddress("0xEbfd0F43a86278c9E08b9Ae76f5Caa901eC16322")
)

// recorder collects the order in which collaborators are called
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.list() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeRegistrar struct {
	rec    *recorder
	err    error
	mu     sync.Mutex
	orders []Order
}

func (f *fakeRegistrar) RegisterOrder(_ context.Context, order Order) (*OrderAck, error) {
	f.rec.add("register")
	f.mu.Lock()
	f.orders = append(f.orders, order)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &OrderAck{Reference: "order-1"}, nil
}

type fakeAllowance struct {
	rec    *recorder
	amount *big.Int
	err    error
}

func (f *fakeAllowance) Allowance(_ context.Context, _, _, _ common.Address) (*big.Int, error) {
	f.rec.add("allowance")
	return f.amount, f.err
}

type fakeApprover struct {
	rec     *recorder
	err     error
	amounts []*big.Int
	onCall  func()
}

func (f *fakeApprover) SubmitApproval(_ context.Context, _, spender common.Address, amount *big.Int) (common.Hash, error) {
	f.rec.add("approve")
	if spender != gateway {
		return common.Hash{}, errors.New("wrong spender")
	}
	f.amounts = append(f.amounts, amount)
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return common.HexToHash("0xa1"), nil
}

type fakeTransfer struct {
	rec  *recorder
	err  error
	mu   sync.Mutex
	keys [][32]byte
}

func (f *fakeTransfer) SubmitTransfer(_ context.Context, _ Direction, _ *big.Int, key [32]byte) (common.Hash, error) {
	f.rec.add("transfer")
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return common.HexToHash("0xb2"), nil
}

type fakeWaiter struct {
	rec     *recorder
	results map[common.Hash]TxStatus
	block   bool
}

func (f *fakeWaiter) Wait(ctx context.Context, hash common.Hash, depth uint64, _ time.Duration) (WaitResult, error) {
	f.rec.add("wait")
	if f.block {
		<-ctx.Done()
		return WaitResult{}, ctx.Err()
	}
	status, ok := f.results[hash]
	if !ok {
		status = TxConfirmed
	}
	if status == TxConfirmed {
		return WaitResult{Status: status, Confirmations: depth}, nil
	}
	return WaitResult{Status: status}, nil
}

type fixture struct {
	rec       *recorder
	registrar *fakeRegistrar
	allowance *fakeAllowance
	approver  *fakeApprover
	transfer  *fakeTransfer
	waiter    *fakeWaiter
	observer  Observer
}

func newFixture(allowance int64) *fixture {
	rec := &recorder{}
	return &fixture{
		rec:       rec,
		registrar: &fakeRegistrar{rec: rec},
		allowance: &fakeAllowance{rec: rec, amount: big.NewInt(allowance)},
		approver:  &fakeApprover{rec: rec},
		transfer:  &fakeTransfer{rec: rec},
		waiter:    &fakeWaiter{rec: rec, results: map[common.Hash]TxStatus{}},
	}
}

func (f *fixture) orchestrator(t *testing.T, keys idempotency.Generator) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(Config{
		Owner:   owner,
		Gateway: gateway,
		Assets: map[Direction]Asset{
			Buy:  {Symbol: "USDC", Token: stablecoin, Decimals: 0},
			Sell: {Symbol: "DSPY", Token: indexToken, Decimals: 9},
		},
	}, Dependencies{
		Keys:      keys,
		Registrar: f.registrar,
		Allowance: f.allowance,
		Approver:  f.approver,
		Transfer:  f.transfer,
		Waiter:    f.waiter,
		Observer:  f.observer,
	})
	require.NoError(t, err)
	return o
}

func TestRun_ScenarioA_ApprovalThenTransfer(t *testing.T) {
	f := newFixture(0)
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "100")

	require.Nil(t, out.Err)
	assert.Equal(t, StateSuccess, out.State)
	assert.False(t, out.Abandoned)
	assert.Equal(t, []string{"register", "allowance", "approve", "wait", "transfer", "wait"}, f.rec.list())
	require.Len(t, out.Records, 2)
	assert.Equal(t, TxApproval, out.Records[0].Kind)
	assert.Equal(t, TxConfirmed, out.Records[0].Status)
	assert.Equal(t, TxTransfer, out.Records[1].Kind)
	assert.Equal(t, TxConfirmed, out.Records[1].Status)
	assert.Equal(t, uint64(1), out.Records[1].Confirmations)
	assert.Equal(t, "order-1", out.Order.Reference)

	require.Len(t, f.approver.amounts, 1)
	assert.Equal(t, "100", f.approver.amounts[0].String())
	assert.Equal(t, []State{
		StateIdle, StateRegisteringOrder, StateCheckingAllowance, StateApproving,
		StateAwaitingApproval, StateTransferring, StateAwaitingTransfer, StateSuccess,
	}, out.Trace)
}

func TestRun_ScenarioB_SufficientAllowanceSkipsApproval(t *testing.T) {
	f := newFixture(100)
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "50")

	require.Nil(t, out.Err)
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, 0, f.rec.count("approve"))
	require.Len(t, out.Records, 1)
	assert.Equal(t, TxTransfer, out.Records[0].Kind)
	assert.Equal(t, "100", out.Allowance.Amount.String())
	assert.NotContains(t, out.Trace, StateApproving)
}

func TestRun_AllowanceEqualToAmountIsSufficient(t *testing.T) {
	f := newFixture(50)
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "50")

	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, 0, f.rec.count("approve"))
}

func TestRun_ScenarioC_RegistrationRejected(t *testing.T) {
	f := newFixture(0)
	f.registrar.err = NewError(KindBackendRejected, "market closed")
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "100")

	assert.Equal(t, StateError, out.State)
	require.NotNil(t, out.Err)
	assert.Equal(t, KindBackendRejected, out.Err.Kind)
	assert.Contains(t, out.Err.Error(), "market closed")
	assert.Empty(t, out.Records)
	assert.Equal(t, []string{"register"}, f.rec.list())
}

func TestRun_UnclassifiedRegistrationErrorIsUnreachable(t *testing.T) {
	f := newFixture(0)
	f.registrar.err = errors.New("connection refused")
	out := f.orchestrator(t, nil).Run(context.Background(), Sell, "1")

	assert.Equal(t, StateError, out.State)
	assert.True(t, errors.Is(out.Err, ErrBackendUnreachable))
	assert.Equal(t, []string{"register"}, f.rec.list())
}

func TestRun_ScenarioD_TransferSignatureDeclined(t *testing.T) {
	f := newFixture(0)
	f.transfer.err = NewError(KindUserDeclined, "signature declined")
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "100")

	assert.Equal(t, StateError, out.State)
	require.NotNil(t, out.Err)
	assert.Equal(t, KindUserDeclined, out.Err.Kind)
	require.Len(t, out.Records, 1)
	assert.Equal(t, TxApproval, out.Records[0].Kind)
	assert.Equal(t, TxConfirmed, out.Records[0].Status)
}

func TestRun_ScenarioE_TransferTimeoutIsAmbiguous(t *testing.T) {
	f := newFixture(100)
	f.waiter.results[common.HexToHash("0xb2")] = TxTimedOut
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "100")

	assert.Equal(t, StateAmbiguous, out.State)
	assert.True(t, out.Ambiguous())
	require.NotNil(t, out.Err)
	assert.Equal(t, KindConfirmationTimeout, out.Err.Kind)
	require.Len(t, out.Records, 1)
	assert.Equal(t, TxTransfer, out.Records[0].Kind)
	assert.Equal(t, TxTimedOut, out.Records[0].Status)
}

func TestRun_ApprovalTimeoutIsAmbiguousAndSkipsTransfer(t *testing.T) {
	f := newFixture(0)
	f.waiter.results[common.HexToHash("0xa1")] = TxTimedOut
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "100")

	assert.Equal(t, StateAmbiguous, out.State)
	assert.Equal(t, 0, f.rec.count("transfer"))
	require.Len(t, out.Records, 1)
	assert.Equal(t, TxTimedOut, out.Records[0].Status)
}

func TestRun_RevertedApprovalIsError(t *testing.T) {
	f := newFixture(0)
	f.waiter.results[common.HexToHash("0xa1")] = TxReverted
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "100")

	assert.Equal(t, StateError, out.State)
	assert.Equal(t, KindConfirmationReverted, out.Err.Kind)
	assert.Equal(t, 0, f.rec.count("transfer"))
	require.Len(t, out.Records, 1)
	assert.Equal(t, TxReverted, out.Records[0].Status)
}

func TestRun_RevertedTransferKeepsBothRecords(t *testing.T) {
	f := newFixture(0)
	f.waiter.results[common.HexToHash("0xb2")] = TxReverted
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "100")

	assert.Equal(t, StateError, out.State)
	require.Len(t, out.Records, 2)
	assert.Equal(t, TxConfirmed, out.Records[0].Status)
	assert.Equal(t, TxReverted, out.Records[1].Status)
}

func TestRun_ApprovalSubmissionFailure(t *testing.T) {
	f := newFixture(0)
	f.approver.err = errors.New("insufficient funds for gas")
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "100")

	assert.Equal(t, StateError, out.State)
	assert.Equal(t, KindChainSubmissionFailed, out.Err.Kind)
	assert.Empty(t, out.Records)
	assert.Equal(t, 0, f.rec.count("transfer"))
}

func TestRun_AllowanceReadFailure(t *testing.T) {
	f := newFixture(0)
	f.allowance.err = errors.New("rpc down")
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "100")

	assert.Equal(t, StateError, out.State)
	assert.Equal(t, KindChainSubmissionFailed, out.Err.Kind)
	assert.Equal(t, []string{"register", "allowance"}, f.rec.list())
}

func TestRun_ValidationFailsBeforeAnyCall(t *testing.T) {
	for _, amount := range []string{"", "abc", "0", "-5", "1.5", "1e-2000000000", "1e2000000000"} {
		f := newFixture(0)
		out := f.orchestrator(t, nil).Run(context.Background(), Buy, amount)

		assert.Equal(t, StateError, out.State, "amount %q", amount)
		require.NotNil(t, out.Err, "amount %q", amount)
		assert.Equal(t, KindValidation, out.Err.Kind, "amount %q", amount)
		assert.Empty(t, f.rec.list(), "amount %q", amount)
		assert.Equal(t, []State{StateIdle, StateError}, out.Trace)
	}
}

func TestRun_ExtremeExponentsFailFast(t *testing.T) {
	for _, amount := range []string{"1e-2000000000", "1e2000000000"} {
		for _, dir := range []Direction{Buy, Sell} {
			f := newFixture(0)
			o := f.orchestrator(t, nil)
			done := make(chan *Outcome, 1)
			go func() { done <- o.Run(context.Background(), dir, amount) }()

			select {
			case out := <-done:
				require.NotNil(t, out.Err)
				assert.Equal(t, KindValidation, out.Err.Kind, "%s %s", dir, amount)
				assert.Empty(t, f.rec.list())
			case <-time.After(5 * time.Second):
				t.Fatalf("Run did not return for %s %s", dir, amount)
			}
		}
	}
}

func TestRun_AmountBeyondUint256IsRejectedBeforeRegistration(t *testing.T) {
	tooLarge := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(5))
	f := newFixture(0)
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, tooLarge.String())

	assert.Equal(t, StateError, out.State)
	require.NotNil(t, out.Err)
	assert.Equal(t, KindValidation, out.Err.Kind)
	assert.Empty(t, f.rec.list())
	assert.Empty(t, f.registrar.orders)
}

func TestRun_SellUsesIndexTokenDecimals(t *testing.T) {
	f := newFixture(0)
	out := f.orchestrator(t, nil).Run(context.Background(), Sell, "0.5")

	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "DSPY", out.Intent.Asset)
	assert.Equal(t, "500000000", out.Intent.BaseUnits.String())
	require.Len(t, f.registrar.orders, 1)
	assert.True(t, decimal.RequireFromString("0.5").Equal(f.registrar.orders[0].Amount))
}

func TestRun_KeyCarriedToBackendAndChain(t *testing.T) {
	key := idempotency.Key{0xde, 0xad, 0xbe, 0xef}
	f := newFixture(0)
	out := f.orchestrator(t, idempotency.NewFixedGenerator(key)).Run(context.Background(), Buy, "1")

	assert.Equal(t, key, out.Intent.Key)
	require.Len(t, f.registrar.orders, 1)
	assert.Equal(t, key, f.registrar.orders[0].Key)
	require.Len(t, f.transfer.keys, 1)
	assert.Equal(t, key.Bytes32(), f.transfer.keys[0])
}

func TestRun_EveryAttemptGetsANewKey(t *testing.T) {
	f := newFixture(0)
	f.registrar.err = NewError(KindBackendRejected, "duplicate")
	o := f.orchestrator(t, nil)

	first := o.Run(context.Background(), Buy, "10")
	second := o.Run(context.Background(), Buy, "10")

	assert.NotEqual(t, first.Intent.Key, second.Intent.Key)
	require.Len(t, f.registrar.orders, 2)
	assert.NotEqual(t, f.registrar.orders[0].Key, f.registrar.orders[1].Key)
}

func TestRun_RegistrationPrecedesChainCalls(t *testing.T) {
	// 7 DSPY is 7e9 base units, so the sufficient case must cover that
	for _, allowance := range []int64{0, 7_000_000_000} {
		for _, dir := range []Direction{Buy, Sell} {
			f := newFixture(allowance)
			f.orchestrator(t, nil).Run(context.Background(), dir, "7")

			calls := f.rec.list()
			require.NotEmpty(t, calls)
			assert.Equal(t, "register", calls[0])
			assert.Equal(t, 1, f.rec.count("register"))
			if allowance == 0 {
				assert.Equal(t, 1, f.rec.count("approve"))
			} else {
				assert.Equal(t, 0, f.rec.count("approve"))
			}
			assert.Equal(t, 1, f.rec.count("transfer"))
		}
	}
}

func TestRun_CancelledWhileWaitingIsAbandoned(t *testing.T) {
	f := newFixture(0)
	f.waiter.block = true
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	out := f.orchestrator(t, nil).Run(ctx, Buy, "100")

	assert.True(t, out.Abandoned)
	assert.Equal(t, StateAwaitingApproval, out.State)
	assert.Nil(t, out.Err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, TxPending, out.Records[0].Status)
	assert.Equal(t, 0, f.rec.count("transfer"))
}

func TestRun_CancelledAtSignaturePromptIsAbandoned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(0)
	f.approver.onCall = cancel
	f.approver.err = WrapError(KindUserDeclined, context.Canceled, "signature prompt failed")
	out := f.orchestrator(t, nil).Run(ctx, Buy, "3")

	assert.True(t, out.Abandoned)
	assert.Nil(t, out.Err)
	assert.Equal(t, StateApproving, out.State)
	assert.Empty(t, out.Records)
	assert.Equal(t, 0, f.rec.count("transfer"))
}

func TestRun_ObserverSeesEveryState(t *testing.T) {
	f := newFixture(0)
	var states []State
	var records int
	f.observer = func(p Progress) {
		if p.Record != nil {
			records++
			return
		}
		states = append(states, p.State)
	}
	out := f.orchestrator(t, nil).Run(context.Background(), Buy, "3")

	assert.Equal(t, out.Trace[1:], states)
	// broadcast and settlement of each of the two transactions
	assert.Equal(t, 4, records)
}

func TestRun_ConcurrentAttemptsShareNothing(t *testing.T) {
	f := newFixture(1000)
	o := f.orchestrator(t, nil)

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = o.Run(context.Background(), Buy, "1")
		}(i)
	}
	wg.Wait()

	seen := map[idempotency.Key]bool{}
	for _, out := range outcomes {
		assert.Equal(t, StateSuccess, out.State)
		assert.Len(t, out.Records, 1)
		assert.False(t, seen[out.Intent.Key])
		seen[out.Intent.Key] = true
	}
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Config{}, Dependencies{})
	assert.Error(t, err)
}
