package cli

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/ppiankov/delayguard/internal/client"
	"github.com/ppiankov/delayguard/internal/guard"
	"github.com/ppiankov/delayguard/internal/ident"
)

// KeyEnv holds the hex signing key when --key and --key-file are unset.
const KeyEnv = "DELAYGUARD_KEY"

// signerFlags select the key that authorizes a configuration request and
// whether to print Safe calldata instead of sending it.
type signerFlags struct {
	key      string
	keyFile  string
	reset    bool
	calldata bool
}

func (f *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", "", "Hex private key of the account (default $"+KeyEnv+")")
	cmd.Flags().StringVar(&f.keyFile, "key-file", "", "File holding the hex private key")
	cmd.Flags().BoolVar(&f.calldata, "calldata", false, "Print the engine calldata to submit through the Safe instead of calling the server")
}

func (f *signerFlags) loadKey() (*ecdsa.PrivateKey, error) {
	switch {
	case f.keyFile != "":
		key, err := crypto.LoadECDSA(f.keyFile)
		if err != nil {
			return nil, fmt.Errorf("--key-file: %w", err)
		}
		return key, nil
	case f.key != "":
		return parseKey("--key", f.key)
	case os.Getenv(KeyEnv) != "":
		return parseKey(KeyEnv, os.Getenv(KeyEnv))
	}
	return nil, fmt.Errorf("no signing key: set --key, --key-file or $%s", KeyEnv)
}

func parseKey(source, v string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(v), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return key, nil
}

// configure sends a signed request, or prints data when --calldata is set.
func (f *signerFlags) configure(cmd *cobra.Command, data []byte, send func(ctx context.Context, c *client.Client, a client.Authorizer) (uint64, error)) error {
	if f.calldata {
		return printCalldata(cmd.OutOrStdout(), data)
	}
	key, err := f.loadKey()
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
	activeFrom, err := send(ctx, c, client.KeyAuthorizer(key))
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(map[string]any{"active_from": activeFrom}, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func printCalldata(w io.Writer, data []byte) error {
	_, err := fmt.Fprintln(w, hexutil.Encode(data))
	return err
}

var (
	allowSigner signerFlags
	allowCall   callFlags
)

var allowCmd = &cobra.Command{
	Use:   "allow",
	Short: "Allowlist (target, selector, operation) for an account",
	Long: "Sets the allowlist entry of a call. Once the engine is fully installed\n" +
		"the entry becomes usable one delay later; --reset clears it at once.",
	RunE: func(cmd *cobra.Command, args []string) error {
		call, err := allowCall.call()
		if err != nil {
			return err
		}
		sel, err := ident.SelectorOf(call.Data)
		if err != nil {
			return err
		}
		data := guard.EncodeSetAllowedTx(call.To, sel, call.Operation, allowSigner.reset)
		return allowSigner.configure(cmd, data, func(ctx context.Context, c *client.Client, a client.Authorizer) (uint64, error) {
			return c.SetAllowedTx(ctx, a, call.To, sel, call.Operation, allowSigner.reset)
		})
	},
}

var (
	cosignerSigner  signerFlags
	cosignerAddress string
)

var cosignerCmd = &cobra.Command{
	Use:   "cosigner",
	Short: "Register the account's cosigner",
	Long: "Registers the single cosigner whose signature lets a transaction skip\n" +
		"the allowlist and upgrade it. Replaces any previous cosigner.",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress("address", cosignerAddress)
		if err != nil {
			return err
		}
		data := guard.EncodeSetCosigner(addr, cosignerSigner.reset)
		return cosignerSigner.configure(cmd, data, func(ctx context.Context, c *client.Client, a client.Authorizer) (uint64, error) {
			return c.SetCosigner(ctx, a, addr, cosignerSigner.reset)
		})
	},
}

var (
	tokenSigner    signerFlags
	tokenAddress   string
	tokenRecipient string
	tokenAmount    string
)

var allowTokenCmd = &cobra.Command{
	Use:   "allow-token",
	Short: "Set an ERC-20 transfer ceiling for a recipient",
	Long: "Allows transfer(recipient, amount) on token up to --amount per\n" +
		"transaction. --reset clears both the ceiling and its timestamp.",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := parseAddress("token", tokenAddress)
		if err != nil {
			return err
		}
		recipient, err := parseAddress("recipient", tokenRecipient)
		if err != nil {
			return err
		}
		amount := "0"
		if tokenAmount != "" {
			amount = tokenAmount
		}
		value, err := parseAmount("amount", amount)
		if err != nil {
			return err
		}
		data := guard.EncodeSetAllowedTokenTransfer(token, recipient, value, tokenSigner.reset)
		return tokenSigner.configure(cmd, data, func(ctx context.Context, c *client.Client, a client.Authorizer) (uint64, error) {
			return c.SetAllowedTokenTransfer(ctx, a, token, recipient, value, tokenSigner.reset)
		})
	},
}

var removalSigner signerFlags

var scheduleRemovalCmd = &cobra.Command{
	Use:   "schedule-removal",
	Short: "Open the guard removal window one delay from now",
	Long: "Schedules removal of the guard. After the delay, a transaction that\n" +
		"unsets both guard slots passes both hooks and clears the schedule.\n" +
		"The engine must be fully installed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return removalSigner.configure(cmd, guard.EncodeScheduleGuardRemoval(), func(ctx context.Context, c *client.Client, a client.Authorizer) (uint64, error) {
			return c.ScheduleGuardRemoval(ctx, a)
		})
	},
}

func init() {
	allowCall.register(allowCmd)
	allowSigner.register(allowCmd)
	allowCmd.Flags().BoolVar(&allowSigner.reset, "reset", false, "Clear the entry")

	cosignerSigner.register(cosignerCmd)
	cosignerCmd.Flags().StringVar(&cosignerAddress, "address", "", "Cosigner address (required)")
	cosignerCmd.Flags().BoolVar(&cosignerSigner.reset, "reset", false, "Clear the cosigner")
	cosignerCmd.MarkFlagRequired("address")

	tokenSigner.register(allowTokenCmd)
	allowTokenCmd.Flags().StringVar(&tokenAddress, "token", "", "Token contract address (required)")
	allowTokenCmd.Flags().StringVar(&tokenRecipient, "recipient", "", "Recipient address (required)")
	allowTokenCmd.Flags().StringVar(&tokenAmount, "amount", "", "Ceiling per transfer, in token base units")
	allowTokenCmd.Flags().BoolVar(&tokenSigner.reset, "reset", false, "Clear the ceiling")
	allowTokenCmd.MarkFlagRequired("token")
	allowTokenCmd.MarkFlagRequired("recipient")

	removalSigner.register(scheduleRemovalCmd)

	rootCmd.AddCommand(allowCmd, cosignerCmd, allowTokenCmd, scheduleRemovalCmd)
}

