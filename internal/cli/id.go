package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
)

var idCall callFlags

func init() {
	rootCmd.AddCommand(idCmd)
	idCall.register(idCmd)
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Derive the allowlist identifier of a call",
	Long: "Prints keccak256(target ‖ selector ‖ operation), the key the allowlist\n" +
		"stores an entry under. Value and arguments do not affect it.",
	RunE: runID,
}

// idOutput is what the id command prints.
type idOutput struct {
	TxID      string          `json:"tx_id"`
	Target    string          `json:"target"`
	Selector  model.Selector  `json:"selector"`
	Operation model.Operation `json:"operation"`
}

func runID(cmd *cobra.Command, args []string) error {
	call, err := idCall.call()
	if err != nil {
		return err
	}
	sel, err := ident.SelectorOf(call.Data)
	if err != nil {
		return err
	}
	data, _ := json.MarshalIndent(idOutput{
		TxID:      ident.CallID(call.To, sel, call.Operation).Hex(),
		Target:    call.To.Hex(),
		Selector:  sel,
		Operation: call.Operation,
	}, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
