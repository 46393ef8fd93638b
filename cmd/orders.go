package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"index-swap/pkg/client"
)

var ordersTypeFilter string

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders known to the backend",
	Long: `List the orders the backend has recorded for your account.

Examples:
  index-swap orders
  index-swap orders --type sell`,
	Args: cobra.NoArgs,
	Run:  runOrders,
}

func init() {
	rootCmd.AddCommand(ordersCmd)

	ordersCmd.Flags().StringVar(&ordersTypeFilter, "type", "", "Filter by order type (buy, sell)")
}

func runOrders(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := loadConfig()
	backend := newBackend(cfg, newLogger(cmd, cfg))

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching orders..."
		s.Start()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	orders, err := backend.Orders(ctx)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	filtered := make([]client.BackendOrder, 0, len(orders))
	for _, o := range orders {
		if ordersTypeFilter == "" || o.Direction() == strings.ToLower(ordersTypeFilter) {
			filtered = append(filtered, o)
		}
	}

	if jsonOutput {
		raw := make([]map[string]interface{}, len(filtered))
		for i, o := range filtered {
			raw[i] = o.Fields
		}
		data, _ := json.MarshalIndent(raw, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(filtered) == 0 {
		color.Yellow("No orders found.\n")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 100))
	color.Green("                                          ORDERS")
	fmt.Println(strings.Repeat("=", 100))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nCREATED\tHASH\tTYPE\tSENT\tEVENT")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, o := range filtered {
		sent := "-"
		switch {
		case o.USDCReceived != nil:
			sent = formatDecimal(o.USDCReceived) + " USDC"
		case o.DSPYReceived != nil:
			sent = formatDecimal(o.DSPYReceived) + " DSPY"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			o.CreatedAt, truncateString(o.FrontendHash, 12), o.Direction(), sent, o.Event)
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 100) + "\n")
}

func formatDecimal(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
