package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"index-swap/pkg/chain"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

var txCmd = &cobra.Command{
	Use:   "tx <hash>",
	Short: "Show a transaction and its receipt",
	Long: `Show a transaction and, once mined, its receipt and confirmation count.
Useful to follow up on attempts that timed out waiting for confirmation.

Examples:
  index-swap tx 0x5c50...e1a2`,
	Args: cobra.ExactArgs(1),
	Run:  runTx,
}

func init() {
	rootCmd.AddCommand(txCmd)
}

func runTx(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if !txHashPattern.MatchString(args[0]) {
		printError(fmt.Errorf("invalid transaction hash: %s", args[0]))
		os.Exit(1)
	}

	cfg := loadConfig()
	if err := cfg.ValidateChain(); err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	eth, err := chain.Dial(ctx, cfg.Chain.RPCUrl, cfg.Chain.ChainID)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer eth.Close()

	info, err := chain.GetTransactionInfo(ctx, eth, common.HexToHash(args[0]))
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("\n  Hash:          %s\n", color.CyanString(info.Hash))
	fmt.Printf("  To:            %s\n", info.To)
	fmt.Printf("  Nonce:         %d\n", info.Nonce)
	fmt.Printf("  Gas Limit:     %d\n", info.GasLimit)
	fmt.Printf("  Gas Price:     %s wei\n", info.GasPrice)

	switch {
	case info.Pending:
		fmt.Printf("  Status:        %s\n", color.YellowString("pending"))
	case !info.Mined:
		fmt.Printf("  Status:        %s\n", color.YellowString("no receipt yet"))
	default:
		status := color.GreenString(info.Status)
		if info.Status != "success" {
			status = color.RedString(info.Status)
		}
		fmt.Printf("  Status:        %s\n", status)
		fmt.Printf("  Block:         %d\n", info.BlockNumber)
		fmt.Printf("  Gas Used:      %d\n", info.GasUsed)
		fmt.Printf("  Confirmations: %d\n", info.Confirmations)
	}
	fmt.Println()
}
