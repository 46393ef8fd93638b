package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Show whether the market is open",
	Long: `Show the trading backend's market status. Orders registered while the
market is closed are rejected.

Examples:
  index-swap market
  index-swap market --json`,
	Args: cobra.NoArgs,
	Run:  runMarket,
}

func init() {
	rootCmd.AddCommand(marketCmd)
}

func runMarket(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := loadConfig()
	backend := newBackend(cfg, newLogger(cmd, cfg))

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking market status..."
		s.Start()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	status, err := backend.MarketStatus(ctx)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(data))
		return
	}

	state := color.YellowString("UNKNOWN")
	if status.IsOpen != nil {
		if *status.IsOpen {
			state = color.GreenString("OPEN")
		} else {
			state = color.RedString("CLOSED")
		}
	}

	fmt.Printf("\n  Market:  %s\n", state)
	if status.Message != "" {
		fmt.Printf("  Message: %s\n", status.Message)
	}
	fmt.Println()
}
