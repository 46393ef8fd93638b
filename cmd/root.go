package cmd

import (
	"bufio"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"index-swap/config"
	"index-swap/pkg/swap"
)

var rootCmd = &cobra.Command{
	Use:   "index-swap",
	Short: "A CLI for swapping USDC and the DSPY index token",
	Long: `index-swap exchanges USDC for the DSPY synthetic index token and back.

Each swap registers the order with the trading backend, approves the
gateway contract if needed and deposits into the gateway with a
one-time idempotency key the backend uses to settle the order.

Examples:
  index-swap swap buy 100
  index-swap swap sell 0.5
  index-swap market
  index-swap history`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	return cfg
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Entry {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return logrus.NewEntry(cfg.Logger(verbose)).WithField("cmd", cmd.Name())
}

func printError(err error) {
	if kind := swap.KindOf(err); kind != "" {
		fmt.Printf("\n%s %v\n\n", color.RedString("%s:", kind.Category()), err)
		return
	}
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", color.GreenString(message))
}

func confirmPrompt(question string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", question)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func getStateColor(state swap.State) string {
	switch state {
	case swap.StateSuccess:
		return color.GreenString(string(state))
	case swap.StateAmbiguous:
		return color.YellowString(string(state))
	case swap.StateError:
		return color.RedString(string(state))
	default:
		return color.CyanString(string(state))
	}
}

func getTxStatusColor(status swap.TxStatus) string {
	switch status {
	case swap.TxConfirmed:
		return color.GreenString(string(status))
	case swap.TxPending, swap.TxTimedOut:
		return color.YellowString(string(status))
	case swap.TxReverted:
		return color.RedString(string(status))
	default:
		return string(status)
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatUnits renders a base-unit amount with the token's decimals
func formatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "-"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
