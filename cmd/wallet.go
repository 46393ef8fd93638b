package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"index-swap/config"
	"index-swap/pkg/chain"
	"index-swap/pkg/swap"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Show the signing wallet, its balances and allowances",
	Long: `Show the configured signing wallet, the payout wallet registered with
the backend, and for both tokens the wallet balance and the allowance
granted to the gateway.

Examples:
  index-swap wallet
  index-swap wallet register
  index-swap wallet register 0x1234...abcd`,
	Args: cobra.NoArgs,
	Run:  runWallet,
}

var walletRegisterCmd = &cobra.Command{
	Use:   "register [address]",
	Short: "Register the payout wallet with the backend",
	Long: `Register the address the backend pays out to. Defaults to the signing
wallet's address.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runWalletRegister,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletRegisterCmd)
}

type tokenView struct {
	Symbol    string `json:"symbol"`
	Address   string `json:"address"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

type walletView struct {
	Address    string      `json:"address,omitempty"`
	Registered string      `json:"registered_wallet,omitempty"`
	Tokens     []tokenView `json:"tokens,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

func runWallet(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := loadConfig()
	log := newLogger(cmd, cfg)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Loading wallet..."
		s.Start()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.RequestTimeout)
	defer cancel()

	view := walletView{}

	owner, err := signerAddress(cfg.Chain.PrivateKey)
	if err != nil {
		view.Warnings = append(view.Warnings, err.Error())
	} else {
		view.Address = owner.Hex()
	}

	if registered, err := newBackend(cfg, log).RegisteredWallet(ctx); err != nil {
		view.Warnings = append(view.Warnings, fmt.Sprintf("registered wallet: %v", err))
	} else {
		view.Registered = registered
	}

	if view.Address != "" {
		tokens, err := loadTokenViews(ctx, cfg, owner)
		if err != nil {
			view.Warnings = append(view.Warnings, err.Error())
		}
		view.Tokens = tokens
	}

	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(view, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                            WALLET")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Signing Wallet:    %s\n", color.CyanString(valueOr(view.Address, "-")))
	registered := valueOr(view.Registered, "not registered")
	if view.Registered != "" && view.Address != "" && !strings.EqualFold(view.Registered, view.Address) {
		registered = color.YellowString("%s (differs from signing wallet)", view.Registered)
	}
	fmt.Printf("  Registered Wallet: %s\n", registered)

	for _, t := range view.Tokens {
		fmt.Printf("\n  %s (%s)\n", color.YellowString(t.Symbol), color.HiBlackString(t.Address))
		fmt.Printf("    Balance:   %s\n", t.Balance)
		fmt.Printf("    Allowance: %s\n", t.Allowance)
	}

	for _, w := range view.Warnings {
		color.Yellow("\n  Warning: %s", w)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func runWalletRegister(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	var address string
	if len(args) == 1 {
		address = args[0]
	} else {
		owner, err := signerAddress(cfg.Chain.PrivateKey)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		address = owner.Hex()
	}
	if !common.IsHexAddress(address) {
		printError(fmt.Errorf("invalid address: %s", address))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	if err := newBackend(cfg, newLogger(cmd, cfg)).RegisterWallet(ctx, common.HexToAddress(address).Hex()); err != nil {
		printError(err)
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Registered payout wallet %s", common.HexToAddress(address).Hex()))
}

func signerAddress(privateKey string) (common.Address, error) {
	if privateKey == "" {
		return common.Address{}, fmt.Errorf("private key not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func loadTokenViews(ctx context.Context, cfg *config.Config, owner common.Address) ([]tokenView, error) {
	if err := cfg.ValidateChain(); err != nil {
		return nil, err
	}
	eth, err := chain.Dial(ctx, cfg.Chain.RPCUrl, cfg.Chain.ChainID)
	if err != nil {
		return nil, err
	}
	defer eth.Close()

	token, err := chain.NewERC20(eth, nil)
	if err != nil {
		return nil, err
	}

	gateway := common.HexToAddress(cfg.Contracts.Gateway)
	assets := cfg.Assets()
	views := make([]tokenView, 0, 2)
	for _, dir := range []swap.Direction{swap.Buy, swap.Sell} {
		asset := assets[dir]
		balance, err := token.BalanceOf(ctx, asset.Token, owner)
		if err != nil {
			return views, fmt.Errorf("%s balance: %w", asset.Symbol, err)
		}
		allowance, err := token.Allowance(ctx, asset.Token, owner, gateway)
		if err != nil {
			return views, fmt.Errorf("%s allowance: %w", asset.Symbol, err)
		}
		views = append(views, tokenView{
			Symbol:    asset.Symbol,
			Address:   asset.Token.Hex(),
			Balance:   formatUnits(balance, asset.Decimals),
			Allowance: formatUnits(allowance, asset.Decimals),
		})
	}
	return views, nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
