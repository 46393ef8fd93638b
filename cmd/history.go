package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"index-swap/config"
	"index-swap/pkg/client"
	"index-swap/pkg/journal"
	"index-swap/pkg/swap"
)

var (
	historyStateFilter string
	historyRemote      bool
)

var historyCmd = &cobra.Command{
	Use:   "history [idempotency-key]",
	Short: "Show past swap attempts",
	Long: `List the attempts recorded in the local journal, or show one attempt by
its idempotency key (a unique prefix is enough).

Attempts that ended in error or timed out after sending transactions are
marked for reconciliation. Use --remote to look the order up on the
backend.

Examples:
  index-swap history
  index-swap history --state ambiguous
  index-swap history 3f2a9c --remote`,
	Args: cobra.MaximumNArgs(1),
	Run:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyStateFilter, "state", "", "Filter by final state (success, error, ambiguous)")
	historyCmd.Flags().BoolVar(&historyRemote, "remote", false, "Look the order up on the backend")
}

func runHistory(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := loadConfig()
	store, err := journal.NewStorage(cfg.JournalPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if len(args) == 1 {
		showHistoryEntry(cmd, cfg, store, args[0], jsonOutput)
		return
	}

	var entries []*journal.Entry
	if historyStateFilter != "" {
		entries = store.ListByState(swap.State(historyStateFilter))
	} else {
		entries = store.List()
	}

	if jsonOutput {
		output, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(output))
		return
	}

	if len(entries) == 0 {
		color.Yellow("No swap attempts recorded.\n")
		fmt.Println("\nStart one with:")
		color.Cyan("  index-swap swap buy <amount>\n")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 110))
	color.Green("                                            SWAP HISTORY")
	fmt.Println(strings.Repeat("=", 110))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTARTED\tKEY\tDIRECTION\tAMOUNT\tSTATE\tTXS\tNOTE")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, e := range entries {
		note := ""
		if e.NeedsReconciliation() {
			note = color.YellowString("reconcile")
		} else if e.ErrorKind != "" {
			note = e.ErrorKind.Category()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%s\t%d\t%s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			truncateString(e.Key.String(), 12),
			e.Direction,
			e.Amount, e.Asset,
			getStateColor(e.State),
			len(e.Records),
			note)
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 110) + "\n")
}

func showHistoryEntry(cmd *cobra.Command, cfg *config.Config, store *journal.Storage, key string, jsonOutput bool) {
	entry, err := store.Get(key)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var remote *client.BackendOrder
	var remoteErr error
	if historyRemote {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		remote, remoteErr = newBackend(cfg, newLogger(cmd, cfg)).FindOrder(ctx, entry.Key.String())
	}

	if jsonOutput {
		output := map[string]interface{}{"entry": entry}
		if remote != nil {
			output["backend_order"] = remote.Fields
		}
		if remoteErr != nil {
			output["backend_error"] = remoteErr.Error()
		}
		data, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                         SWAP ATTEMPT")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Idempotency Key: %s\n", color.CyanString(entry.Key.String()))
	fmt.Printf("  Direction:       %s\n", entry.Direction)
	fmt.Printf("  Amount:          %s %s\n", entry.Amount, entry.Asset)
	fmt.Printf("  State:           %s\n", getStateColor(entry.State))
	fmt.Printf("  Started:         %s\n", entry.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Finished:        %s\n", entry.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	if entry.OrderRef != "" {
		fmt.Printf("  Order:           %s\n", entry.OrderRef)
	}
	if entry.Abandoned {
		fmt.Printf("  Abandoned:       %s\n", color.YellowString("yes"))
	}
	if entry.ErrorKind != "" {
		fmt.Printf("  Error:           %s\n", color.RedString("%s: %s", entry.ErrorKind.Category(), entry.Error))
	}

	if len(entry.Records) > 0 {
		fmt.Println("\n  Transactions:")
		for _, rec := range entry.Records {
			fmt.Printf("    %-9s %s  %s  %d conf\n", rec.Kind, rec.Hash.Hex(), getTxStatusColor(rec.Status), rec.Confirmations)
		}
		if entry.NeedsReconciliation() {
			fmt.Println("\n  Check the current status of a transaction with:")
			color.Cyan("    index-swap tx %s", entry.Records[len(entry.Records)-1].Hash.Hex())
		}
	}

	if historyRemote {
		fmt.Println()
		switch {
		case remoteErr != nil:
			color.Yellow("  Backend: %v", remoteErr)
		case remote != nil:
			fmt.Printf("  Backend Event:   %s\n", color.CyanString(remote.Event))
			if remote.CreatedAt != "" {
				fmt.Printf("  Backend Created: %s\n", remote.CreatedAt)
			}
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
