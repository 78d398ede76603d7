package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	checkAccount string
	checkAt      int64
	checkFormat  string
	checkCall    callFlags
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkAccount, "account", "", "Account address (required)")
	checkCmd.Flags().Int64Var(&checkAt, "at", 0, "Unix time to evaluate at (default now)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCall.register(checkCmd)
	checkCmd.MarkFlagRequired("account")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Preview whether a call would be allowed",
	Long: "Asks the server whether the account's allowlist permits the call.\n" +
		"The cosigner fast path is not considered. Nothing is written.\n\n" +
		"Exit code 0 if allowed, 1 if denied or the server is unreachable.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	account, err := parseAddress("account", checkAccount)
	if err != nil {
		return err
	}
	call, err := checkCall.call()
	if err != nil {
		return err
	}
	if checkAt < 0 {
		return fmt.Errorf("--at must not be negative")
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, account, call, uint64(checkAt))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch checkFormat {
	case "json":
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Fprintln(out, string(data))
	default:
		if resp.Allowed {
			fmt.Fprintf(out, "ALLOW  %s at %d\n", call.To.Hex(), resp.At)
		} else {
			fmt.Fprintf(out, "DENY   %s: %s\n", resp.Reason, resp.Detail)
		}
	}
	if !resp.Allowed {
		os.Exit(1)
	}
	return nil
}
