package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"index-swap/config"
	"index-swap/pkg/chain"
	"index-swap/pkg/journal"
	"index-swap/pkg/parser"
	"index-swap/pkg/swap"
)

const (
	exitError     = 1
	exitAmbiguous = 2
	exitAbandoned = 130
)

var noConfirm bool

var swapCmd = &cobra.Command{
	Use:   "swap <buy|sell> <amount>",
	Short: "Swap USDC for DSPY or DSPY for USDC",
	Long: `Run one swap attempt.

The order is registered with the backend first. The gateway is approved
only when the current allowance does not cover the amount, then the
deposit is sent and awaited. A fresh idempotency key is used every time;
a failed attempt is never retried automatically.

Exit codes: 0 success, 1 error, 2 confirmation timed out (the transaction
may still land, check 'index-swap history'), 130 interrupted.

Examples:
  index-swap swap buy 100
  index-swap swap sell 0.5 dspy
  index-swap swap 100 usdc to dspy --yes`,
	Args: cobra.MinimumNArgs(2),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation and signature prompts")
}

func runSwap(cmd *cobra.Command, args []string) {
	if code := executeSwap(cmd, args); code != 0 {
		os.Exit(code)
	}
}

// executeSwap runs the command and returns the process exit code so that
// deferred cleanup runs before the process exits
func executeSwap(cmd *cobra.Command, args []string) int {
	swapReq, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		return exitError
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := loadConfig()
	log := newLogger(cmd, cfg)
	skipPrompts := noConfirm || cfg.AutoConfirm
	if jsonOutput && !skipPrompts {
		printError(fmt.Errorf("--json requires --yes or auto_confirm"))
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)

	var confirmer chain.Confirmer = chain.AutoConfirm
	if !skipPrompts {
		confirmer = chain.ConfirmFunc(func(ctx context.Context, req chain.SignRequest) (bool, error) {
			s.Stop()
			defer s.Start()
			return askUntilDone(ctx, func() bool { return confirmSignature(req) })
		})
	}

	var observer swap.Observer
	if !jsonOutput {
		observer = func(p swap.Progress) { renderProgress(s, p) }
	}

	stack, err := buildSwapStack(ctx, cfg, confirmer, observer, log)
	if err != nil {
		printError(err)
		return exitError
	}
	defer stack.Close()

	asset := cfg.Assets()[swapReq.Direction]
	if !jsonOutput {
		displaySwapSummary(cfg, swapReq, asset, stack.signer.Address().Hex())
	}
	if !skipPrompts {
		ok, err := askUntilDone(ctx, func() bool { return confirmPrompt("Proceed with swap?") })
		if err != nil || !ok {
			fmt.Println("\nSwap cancelled.")
			return 0
		}
	}

	if !jsonOutput {
		s.Suffix = " Starting..."
		s.Start()
	}

	started := time.Now()
	out := stack.orchestrator.Run(ctx, swapReq.Direction, swapReq.Amount)
	s.Stop()

	recordOutcome(cfg, out, started, jsonOutput)

	if jsonOutput {
		data, _ := json.MarshalIndent(newOutcomeView(out), "", "  ")
		fmt.Println(string(data))
	} else {
		displayOutcome(out)
	}

	return exitCode(out)
}

// askUntilDone runs a blocking prompt and gives up when ctx is cancelled.
// The prompt goroutine stays blocked on stdin until the process exits.
func askUntilDone(ctx context.Context, ask func() bool) (bool, error) {
	answer := make(chan bool, 1)
	go func() { answer <- ask() }()

	select {
	case ok := <-answer:
		return ok, nil
	case <-ctx.Done():
		fmt.Println()
		return false, ctx.Err()
	}
}

func exitCode(out *swap.Outcome) int {
	switch {
	case out.State == swap.StateSuccess:
		return 0
	case out.State == swap.StateAmbiguous:
		return exitAmbiguous
	case out.Abandoned:
		return exitAbandoned
	default:
		return exitError
	}
}

// recordOutcome appends the attempt to the journal unless it never left idle
func recordOutcome(cfg *config.Config, out *swap.Outcome, started time.Time, quiet bool) {
	if out.Err != nil && out.Err.Kind == swap.KindValidation {
		return
	}

	store, err := journal.NewStorage(cfg.JournalPath)
	if err == nil {
		err = store.Append(journal.NewEntry(out, started))
	}
	if err != nil && !quiet {
		color.Yellow("Warning: failed to record attempt in journal: %v", err)
	}
}

func renderProgress(s *spinner.Spinner, p swap.Progress) {
	if p.Record != nil {
		if p.Record.Status == swap.TxPending {
			s.Stop()
			fmt.Printf("  %s tx submitted: %s\n", kindLabel(p.Record.Kind), color.CyanString(p.Record.Hash.Hex()))
			s.Start()
		}
		return
	}

	var suffix string
	switch p.State {
	case swap.StateRegisteringOrder:
		suffix = " Creating order..."
	case swap.StateCheckingAllowance:
		suffix = " Checking allowance..."
	case swap.StateApproving:
		suffix = fmt.Sprintf(" Approving %s spending...", p.Intent.Asset)
	case swap.StateAwaitingApproval:
		suffix = " Waiting for approval confirmation..."
	case swap.StateTransferring:
		suffix = " Sending deposit..."
	case swap.StateAwaitingTransfer:
		suffix = " Waiting for deposit confirmation..."
	default:
		return
	}

	s.Lock()
	s.Suffix = suffix
	s.Unlock()
}

func kindLabel(kind swap.TxKind) string {
	if kind == swap.TxApproval {
		return "Approval"
	}
	return "Deposit"
}

func confirmSignature(req chain.SignRequest) bool {
	fmt.Println()
	fmt.Printf("  Sign %s transaction\n", color.YellowString(req.Description))
	fmt.Printf("  From:     %s\n", req.From.Hex())
	fmt.Printf("  To:       %s\n", req.To.Hex())
	fmt.Printf("  Nonce:    %d\n", req.Nonce)
	fmt.Printf("  Max fee:  %s ETH\n", formatUnits(req.MaxFee(), 18))
	return confirmPrompt("Sign and send?")
}

func displaySwapSummary(cfg *config.Config, swapReq *parser.SwapCommand, asset swap.Asset, wallet string) {
	receive := parser.IndexToken
	if swapReq.Direction == swap.Sell {
		receive = parser.Stablecoin
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Direction:   %s\n", color.CyanString(string(swapReq.Direction)))
	fmt.Printf("  Spend:       %s %s\n", swapReq.Amount, color.YellowString(asset.Symbol))
	fmt.Printf("  Receive:     %s\n", color.YellowString(receive))
	fmt.Printf("  Wallet:      %s\n", wallet)
	fmt.Printf("  Gateway:     %s\n", cfg.Contracts.Gateway)
	fmt.Printf("  Backend:     %s\n", cfg.BackendURL)

	fmt.Println("\n" + strings.Repeat("=", 60))
}

func displayOutcome(out *swap.Outcome) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	switch out.State {
	case swap.StateSuccess:
		color.Green("                   SWAP COMPLETE")
	case swap.StateAmbiguous:
		color.Yellow("                 CONFIRMATION PENDING")
	default:
		color.Red("                    SWAP FAILED")
	}
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Idempotency Key: %s\n", color.CyanString(out.Intent.Key.String()))
	fmt.Printf("  Amount:          %s %s\n", out.Intent.Amount, out.Intent.Asset)
	fmt.Printf("  State:           %s\n", getStateColor(out.State))
	if out.Order != nil && out.Order.Reference != "" {
		fmt.Printf("  Order:           %s\n", out.Order.Reference)
	}
	if out.Abandoned {
		fmt.Printf("  Abandoned:       %s\n", color.YellowString("yes"))
	}

	for _, rec := range out.Records {
		fmt.Printf("  %-16s %s (%s)\n", kindLabel(rec.Kind)+" Tx:", color.HiBlackString(rec.Hash.Hex()), getTxStatusColor(rec.Status))
	}

	if out.Err != nil {
		fmt.Printf("\n  %s %s\n", color.RedString("%s:", out.Err.Kind.Category()), out.Err.Message)
		if out.Err.Err != nil {
			fmt.Printf("  %s\n", color.HiBlackString(out.Err.Err.Error()))
		}
	}

	switch {
	case out.State == swap.StateAmbiguous:
		fmt.Println("\n  The transaction was broadcast but not confirmed in time. It may still land.")
		fmt.Println("  Check it with:")
		color.Cyan("    index-swap history %s", out.Intent.Key.String())
	case out.State == swap.StateError && len(out.Records) > 0:
		fmt.Println("\n  Some transactions were sent before the failure. A new attempt will reuse")
		fmt.Println("  any confirmed approval.")
	case out.Abandoned:
		fmt.Println("\n  Broadcast transactions are not cancelled by stopping the CLI.")
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

type outcomeView struct {
	Key       string                   `json:"idempotency_key"`
	Direction swap.Direction           `json:"direction"`
	Amount    string                   `json:"amount"`
	Asset     string                   `json:"asset"`
	State     swap.State               `json:"state"`
	Abandoned bool                     `json:"abandoned"`
	OrderRef  string                   `json:"order_ref,omitempty"`
	ErrorKind swap.ErrorKind           `json:"error_kind,omitempty"`
	Category  string                   `json:"category,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Records   []swap.TransactionRecord `json:"records"`
	Trace     []swap.State             `json:"trace"`
}

func newOutcomeView(out *swap.Outcome) outcomeView {
	v := outcomeView{
		Key:       out.Intent.Key.String(),
		Direction: out.Intent.Direction,
		Amount:    out.Intent.Amount.String(),
		Asset:     out.Intent.Asset,
		State:     out.State,
		Abandoned: out.Abandoned,
		Records:   out.Records,
		Trace:     out.Trace,
	}
	if out.Order != nil {
		v.OrderRef = out.Order.Reference
	}
	if out.Err != nil {
		v.ErrorKind = out.Err.Kind
		v.Category = out.Err.Kind.Category()
		v.Error = out.Err.Error()
	}
	return v
}
