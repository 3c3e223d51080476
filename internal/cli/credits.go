package cli

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsBalanceCmd)
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsHistoryCmd)

	creditsGrantCmd.Flags().String("kind", "PURCHASE", "Transaction kind: PURCHASE, BONUS, REFUND or ADJUSTMENT")
	creditsGrantCmd.Flags().String("note", "", "Description recorded on the transaction")
	creditsHistoryCmd.Flags().Int("limit", 20, "Number of transactions to show")
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and manage account credits",
}

// ─── credits balance ────────────────────────────────────────────────────────

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT_ID",
	Short: "Show an account's balance, holds and available credits",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsBalance,
}

func runCreditsBalance(cmd *cobra.Command, args []string) error {
	resp, err := apiCall(http.MethodGet, "/v1/accounts/"+args[0]+"/balance", "")
	if err != nil {
		return err
	}
	fmt.Printf("Account:   %v\n", resp["account_id"])
	fmt.Printf("Balance:   %v\n", resp["balance"])
	fmt.Printf("Reserved:  %v\n", resp["reserved"])
	fmt.Printf("Available: %v\n", resp["available"])
	return nil
}

// ─── credits grant ──────────────────────────────────────────────────────────

var creditsGrantCmd = &cobra.Command{
	Use:   "grant ACCOUNT_ID AMOUNT",
	Short: "Add credits to an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreditsGrant,
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[1])
	}
	kind, _ := cmd.Flags().GetString("kind")
	note, _ := cmd.Flags().GetString("note")

	body := fmt.Sprintf(`{"amount": %d, "kind": %q, "description": %q}`, amount, kind, note)
	resp, err := apiCall(http.MethodPost, "/v1/accounts/"+args[0]+"/credits", body)
	if err != nil {
		return err
	}
	fmt.Printf("Granted %d credits to %s (balance now %v)\n", amount, args[0], resp["balance"])
	return nil
}

// ─── credits history ────────────────────────────────────────────────────────

var creditsHistoryCmd = &cobra.Command{
	Use:   "history ACCOUNT_ID",
	Short: "Show an account's recent ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsHistory,
}

func runCreditsHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	resp, err := apiCall(http.MethodGet,
		fmt.Sprintf("/v1/accounts/%s/transactions?limit=%d", args[0], limit), "")
	if err != nil {
		return err
	}
	printJSON(resp["transactions"])
	return nil
}
