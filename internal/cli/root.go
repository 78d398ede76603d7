package cli

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/ppiankov/delayguard/internal/client"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
)

// DefaultAddr is where the CLI looks for a running engine.
const DefaultAddr = "127.0.0.1:9411"

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "delayguard",
	Short: "Delayed-activation allowlist guard for Safe accounts",
	Long: "Guards a multisig account so that only allowlisted calls execute.\n" +
		"New entries become usable one delay after they are configured, giving\n" +
		"owners time to notice and revoke a malicious grant.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", DefaultAddr, "delayguard server address")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dial() (*client.Client, error) {
	c, err := client.New(serverAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", serverAddr, err)
	}
	return c, nil
}

func parseAddress(flag, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("--%s: invalid address %q", flag, v)
	}
	return common.HexToAddress(v), nil
}

// parseSelector accepts a function signature or a 4-byte hex selector.
// Empty is the zero selector of a plain value transfer.
func parseSelector(v string) (model.Selector, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return model.Selector{}, nil
	case strings.Contains(v, "("):
		return ident.FromSignature(strings.ReplaceAll(v, " ", "")), nil
	default:
		return model.ParseSelector(v)
	}
}

func parseAmount(flag, v string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(v), 0)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("--%s: invalid amount %q", flag, v)
	}
	return amount, nil
}

// callFlags are the flags shared by commands that take a call.
type callFlags struct {
	to        string
	value     string
	data      string
	selector  string
	operation string
}

func (f *callFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.to, "to", "", "Call target address (required)")
	cmd.Flags().StringVar(&f.value, "value", "", "Wei sent with the call")
	cmd.Flags().StringVar(&f.data, "data", "", "Hex calldata")
	cmd.Flags().StringVar(&f.selector, "selector", "", "Function signature or 4-byte selector, used when --data is empty")
	cmd.Flags().StringVar(&f.operation, "operation", "call", "call or delegatecall")
	cmd.MarkFlagRequired("to")
}

func (f *callFlags) call() (model.Call, error) {
	var call model.Call
	to, err := parseAddress("to", f.to)
	if err != nil {
		return call, err
	}
	call.To = to
	if call.Operation, err = model.ParseOperation(f.operation); err != nil {
		return call, err
	}
	if f.value != "" {
		if call.Value, err = parseAmount("value", f.value); err != nil {
			return call, err
		}
	}
	switch {
	case f.data != "":
		if call.Data, err = hexutil.Decode(f.data); err != nil {
			return call, fmt.Errorf("--data: %w", err)
		}
	case f.selector != "":
		sel, err := parseSelector(f.selector)
		if err != nil {
			return call, err
		}
		call.Data = sel[:]
	}
	return call, nil
}
