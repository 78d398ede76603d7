package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
)

var (
	decodeTo        string
	decodeOperation string
	decodeFormat    string
)

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVar(&decodeTo, "to", "", "Target of the outer call")
	decodeCmd.Flags().StringVar(&decodeOperation, "operation", "delegatecall", "Operation of the outer call")
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "text", "Output format (text|json)")
}

var decodeCmd = &cobra.Command{
	Use:   "decode <calldata>",
	Short: "Decode nested multiSend batches",
	Long: "Decodes multiSend(bytes) calldata and every batch nested in it, with\n" +
		"the same depth and size limits the engine applies, and prints one line\n" +
		"per call with its allowlist identifier.",
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func runDecode(cmd *cobra.Command, args []string) error {
	data, err := hexutil.Decode(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("invalid calldata: %w", err)
	}
	op, err := model.ParseOperation(decodeOperation)
	if err != nil {
		return err
	}
	call := model.Call{Data: data, Operation: op}
	if decodeTo != "" {
		if call.To, err = parseAddress("to", decodeTo); err != nil {
			return err
		}
	}

	tree, err := calldata.Tree(call, calldata.DefaultLimits())
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	out := cmd.OutOrStdout()
	if decodeFormat == "json" {
		b, _ := json.MarshalIndent(tree, "", "  ")
		fmt.Fprintln(out, string(b))
		return nil
	}
	fmt.Fprint(out, formatTree(tree))
	return nil
}

func formatTree(tree *calldata.Node) string {
	var b strings.Builder
	tree.Walk(func(n *calldata.Node, depth int) {
		sel, _ := ident.SelectorOf(n.Call.Data)
		fmt.Fprintf(&b, "%s%s %s %-12s value=%s id=%s",
			strings.Repeat("  ", depth),
			shortHex(n.Call.To),
			sel,
			n.Call.Operation,
			model.BigOrZero(n.Call.Value),
			ident.CallID(n.Call.To, sel, n.Call.Operation).Hex()[:10])
		if n.Batch != nil {
			fmt.Fprintf(&b, " batch=%d", len(n.Batch))
		}
		b.WriteString("\n")
	})
	return b.String()
}

func shortHex(a common.Address) string {
	h := a.Hex()
	return h[:6] + ".." + h[len(h)-4:]
}
