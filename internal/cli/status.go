package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	pb "github.com/ppiankov/delayguard/api/delayguard/v1"
)

var statusAccount string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAccount, "account", "", "Account address (required)")
	statusCmd.MarkFlagRequired("account")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show an account's guard installation and configuration",
	Long: "Prints the engine's view of an account: guard slots, installation,\n" +
		"cosigner, pending guard removal and every allowlisted call.",
	RunE: runStatus,
}

// statusOutput is what the status command prints.
type statusOutput struct {
	Status       *pb.StatusResponse   `json:"status"`
	Cosigner     *pb.CosignerResponse `json:"cosigner"`
	Removal      *pb.RemovalResponse  `json:"removal"`
	Transactions []pb.Transaction     `json:"transactions"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	account, err := parseAddress("account", statusAccount)
	if err != nil {
		return err
	}
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out statusOutput
	if out.Status, err = c.Status(ctx, account); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if out.Cosigner, err = c.Cosigner(ctx, account); err != nil {
		return fmt.Errorf("cosigner: %w", err)
	}
	if out.Removal, err = c.Removal(ctx, account); err != nil {
		return fmt.Errorf("removal: %w", err)
	}
	if out.Transactions, err = c.ListTransactions(ctx, account); err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
