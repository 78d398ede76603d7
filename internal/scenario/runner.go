package scenario

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/cosigner"
	"github.com/ppiankov/delayguard/internal/event"
	"github.com/ppiankov/delayguard/internal/guard"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/integrity"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/safe"
	"github.com/ppiankov/delayguard/internal/sigcheck"
	"github.com/ppiankov/delayguard/internal/store"
)

// DefaultStart is the simulated unix time a scenario starts at.
const DefaultStart = 1_700_000_000

// Well-known names. Every name, these included, resolves to the address
// of a key derived from it, so any name can sign.
const (
	NameAccount   = "account"
	NameEngine    = "engine"
	NameMultiSend = "multisend"
	NameZero      = "zero"
)

// ChainID is the chain the simulated account lives on.
var ChainID = big.NewInt(1)

// ownerSignature stands in for the owner signatures a Safe checks itself.
var ownerSignature = bytes.Repeat([]byte{0x11}, 65)

// Key returns the private key derived from name.
func Key(name string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte("delayguard/scenario/" + name)))
	if err != nil {
		return nil, fmt.Errorf("derive key %q: %w", name, err)
	}
	return key, nil
}

// Resolve maps a name or hex address to an address.
func Resolve(name string) (common.Address, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return common.Address{}, fmt.Errorf("missing address")
	case name == NameZero:
		return common.Address{}, nil
	case strings.HasPrefix(name, "0x"):
		if !common.IsHexAddress(name) {
			return common.Address{}, fmt.Errorf("invalid address %q", name)
		}
		return common.HexToAddress(name), nil
	}
	key, err := Key(name)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// world is the simulated engine and the single account it guards.
type world struct {
	engine *guard.Engine
	acct   *safe.Local
	clock  *clock
	events *event.Recorder
}

func newWorld(s *Scenario) (*world, error) {
	strategy, err := integrity.ParseStrategy(s.Installation)
	if err != nil {
		return nil, err
	}
	delay := guard.DefaultDelay
	if s.Delay != nil {
		delay = *s.Delay
	}
	start := s.Start
	if start == 0 {
		start = DefaultStart
	}
	self, err := Resolve(NameEngine)
	if err != nil {
		return nil, err
	}
	address, err := Resolve(NameAccount)
	if err != nil {
		return nil, err
	}

	w := &world{
		clock:  &clock{t: time.Unix(start, 0)},
		events: &event.Recorder{},
		acct:   safe.NewLocal(address, ChainID),
	}
	w.engine = guard.New(store.NewMemory(), guard.Config{
		Self:               self,
		Delay:              delay,
		Strategy:           strategy,
		StrictGuardRemoval: s.StrictGuardRemoval,
		Clock:              w.clock.now,
		Bus:                event.NewBus(w.events),
	})
	return w, nil
}

// Run executes every step of s in order against a fresh engine. Steps
// share state; a failed expectation does not stop the run.
func Run(s *Scenario) (*RunResult, error) {
	w, err := newWorld(s)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	ctx := context.Background()

	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Steps),
	}
	for i, step := range s.Steps {
		sr := w.run(ctx, step)
		sr.Index = i + 1
		if sr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Steps = append(result.Steps, sr)
	}
	return result, nil
}

func (w *world) run(ctx context.Context, step Step) StepResult {
	w.events.Reset()
	at := w.engine.Now()

	expected := step.Expect
	if expected == "" {
		expected = ExpectAllow
	}
	sr := StepResult{
		Action:   step.Action,
		Purpose:  step.Purpose,
		Expected: expected,
		At:       at,
	}

	activeFrom, err := w.apply(ctx, step)
	var invalid *stepError
	switch {
	case err == nil:
		sr.Actual = ExpectAllow
	case errors.As(err, &invalid):
		sr.Actual = "invalid"
		sr.Detail = err.Error()
		return sr
	default:
		sr.Actual = model.Reason(err)
		sr.Detail = err.Error()
	}
	for _, k := range w.events.Kinds() {
		sr.Events = append(sr.Events, string(k))
	}
	sr.Passed = strings.EqualFold(sr.Actual, expected)

	if sr.Passed && step.ExpectActiveFrom != "" && activeFrom != nil {
		want, err := expectedActiveFrom(step.ExpectActiveFrom, at)
		if err != nil {
			sr.Passed = false
			sr.Detail = err.Error()
		} else if *activeFrom != want {
			sr.Passed = false
			sr.Detail = fmt.Sprintf("expected active_from %d, got %d", want, *activeFrom)
		}
	}
	if sr.Passed && step.ExpectEvents != nil && !equalKinds(step.ExpectEvents, sr.Events) {
		sr.Passed = false
		sr.Detail = fmt.Sprintf("expected events %v, got %v", step.ExpectEvents, sr.Events)
	}
	return sr
}

// apply performs step. Setter steps return the activation timestamp they
// wrote.
func (w *world) apply(ctx context.Context, step Step) (*uint64, error) {
	switch step.Action {
	case ActionAdvance:
		if step.By < 0 {
			return nil, invalidf("advance by negative duration %s", step.By)
		}
		w.clock.t = w.clock.t.Add(step.By)
		return nil, nil

	case ActionInstall:
		self := w.engine.Self()
		switch step.Guards {
		case "", "both":
			w.acct.SetGuards(self, self)
		case "guard":
			w.acct.SetGuards(self, common.Address{})
		case "module":
			w.acct.SetGuards(common.Address{}, self)
		case "none":
			w.acct.SetGuards(common.Address{}, common.Address{})
		default:
			return nil, invalidf("unknown guards %q (want both, guard, module or none)", step.Guards)
		}
		return nil, nil

	case ActionAllow:
		call, err := buildCall(step.Call)
		if err != nil {
			return nil, err
		}
		sel, err := ident.SelectorOf(call.Data)
		if err != nil {
			return nil, invalidf("allow: %v", err)
		}
		return timestamp(w.engine.SetAllowedTx(ctx, w.acct, call.To, sel, call.Operation, step.Reset))

	case ActionAllowToken:
		token, err := resolve("token", step.Token)
		if err != nil {
			return nil, err
		}
		recipient, err := resolve("recipient", step.Recipient)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return nil, err
		}
		return timestamp(w.engine.SetAllowedTokenTransfer(ctx, w.acct, token, recipient, amount, step.Reset))

	case ActionCosigner:
		addr, err := resolve("cosigner", step.Cosigner)
		if err != nil {
			return nil, err
		}
		return timestamp(w.engine.SetCosigner(ctx, w.acct, addr, step.Reset))

	case ActionScheduleRemoval:
		return timestamp(w.engine.ScheduleGuardRemoval(ctx, w.acct))

	case ActionExec:
		call, err := buildCall(step.Call)
		if err != nil {
			return nil, err
		}
		return nil, w.exec(ctx, model.Transaction{Call: call}, step.Cosigner)

	case ActionModule:
		call, err := buildCall(step.Call)
		if err != nil {
			return nil, err
		}
		name := step.Module
		if name == "" {
			name = "module"
		}
		module, err := resolve("module", name)
		if err != nil {
			return nil, err
		}
		before := w.acct.Snapshot()
		if before.ModuleGuard != w.engine.Self() {
			return nil, w.unguarded(ctx, call)
		}
		if err := w.engine.RunModule(ctx, w.acct, call, module, w.execute(call)); err != nil {
			w.acct.Restore(before)
			return nil, err
		}
		_, err = w.engine.SelfCalls(ctx, w.acct, call)
		return nil, err

	case ActionCheck:
		call, err := buildCall(step.Call)
		if err != nil {
			return nil, err
		}
		return nil, w.engine.IsTransactionAllowed(ctx, w.acct.Address(), call)
	}
	return nil, invalidf("unknown action %q", step.Action)
}

// exec runs tx the way a Safe does: the nonce advances, the hooks run
// around the call, and a failure reverts the account. The guard slot is
// read once up front; an account not guarded by the engine skips both
// hooks.
func (w *world) exec(ctx context.Context, tx model.Transaction, cosignerName string) error {
	before := w.acct.Snapshot()
	if before.Guard != w.engine.Self() {
		w.acct.Begin()
		return w.unguarded(ctx, tx.Call)
	}
	if cosignerName != "" {
		key, err := Key(cosignerName)
		if err != nil {
			return invalidf("%v", err)
		}
		digest, err := w.acct.TransactionHash(ctx, tx, before.Nonce)
		if err != nil {
			return err
		}
		sig, err := sigcheck.Sign(digest, crypto.FromECDSA(key))
		if err != nil {
			return invalidf("cosign: %v", err)
		}
		tx.Signatures = cosigner.AppendContext(ownerSignature, sig)
	} else {
		tx.Signatures = ownerSignature
	}

	w.acct.Begin()
	if err := w.engine.Run(ctx, w.acct, tx, w.execute(tx.Call)); err != nil {
		w.acct.Restore(before)
		return err
	}
	_, err := w.engine.SelfCalls(ctx, w.acct, tx.Call)
	return err
}

// unguarded applies call without any hook.
func (w *world) unguarded(ctx context.Context, call model.Call) error {
	before := w.acct.Snapshot()
	if err := w.acct.Apply(ctx, call); err != nil {
		w.acct.Restore(before)
		return err
	}
	_, err := w.engine.SelfCalls(ctx, w.acct, call)
	return err
}

func (w *world) execute(call model.Call) guard.Executor {
	return func(ctx context.Context) error {
		return w.acct.Apply(ctx, call)
	}
}

func buildCall(spec CallSpec) (model.Call, error) {
	var call model.Call
	op, err := model.ParseOperation(spec.Operation)
	if err != nil {
		return call, invalidf("%v", err)
	}
	call.Operation = op
	if spec.Value != "" {
		v, ok := new(big.Int).SetString(spec.Value, 0)
		if !ok || v.Sign() < 0 {
			return call, invalidf("invalid value %q", spec.Value)
		}
		call.Value = v
	}

	to := spec.To
	switch {
	case len(spec.Batch) > 0:
		calls := make([]model.Call, 0, len(spec.Batch))
		for _, sub := range spec.Batch {
			c, err := buildCall(sub)
			if err != nil {
				return call, err
			}
			calls = append(calls, c)
		}
		call.Data = calldata.EncodeMultiSend(calls)
		if spec.Operation == "" {
			call.Operation = model.OpDelegateCall
		}
		to = defaultName(to, NameMultiSend)

	case spec.Transfer != nil:
		recipient, err := resolve("recipient", spec.Transfer.Recipient)
		if err != nil {
			return call, err
		}
		amount, err := parseAmount(spec.Transfer.Amount)
		if err != nil {
			return call, err
		}
		call.Data = calldata.EncodeTransfer(recipient, amount)

	case spec.SetGuard != nil || spec.SetModuleGuard != nil:
		sel, arg := ident.SetGuard, spec.SetGuard
		if spec.SetModuleGuard != nil {
			sel, arg = ident.SetModuleGuard, spec.SetModuleGuard
		}
		addr, err := resolve("guard", *arg)
		if err != nil {
			return call, err
		}
		call.Data = calldata.EncodeGuardSetter(sel, addr)
		to = defaultName(to, NameAccount)

	case spec.Allow != nil:
		inner, err := buildCall(*spec.Allow)
		if err != nil {
			return call, err
		}
		sel, err := ident.SelectorOf(inner.Data)
		if err != nil {
			return call, invalidf("allow: %v", err)
		}
		call.Data = guard.EncodeSetAllowedTx(inner.To, sel, inner.Operation, false)
		to = defaultName(to, NameEngine)

	case spec.ScheduleRemoval:
		call.Data = guard.EncodeScheduleGuardRemoval()
		to = defaultName(to, NameEngine)

	case spec.Data != "":
		data, err := hexutil.Decode(spec.Data)
		if err != nil {
			return call, invalidf("invalid data %q: %v", spec.Data, err)
		}
		call.Data = data

	case spec.Selector != "":
		sel, err := parseSelector(spec.Selector)
		if err != nil {
			return call, err
		}
		call.Data = sel[:]
	}

	call.To, err = resolve("to", to)
	return call, err
}

func parseSelector(v string) (model.Selector, error) {
	if strings.Contains(v, "(") {
		return ident.FromSignature(strings.ReplaceAll(v, " ", "")), nil
	}
	sel, err := model.ParseSelector(v)
	if err != nil {
		return sel, invalidf("%v", err)
	}
	return sel, nil
}

// parseAmount reads a decimal or 0x amount. Empty is zero.
func parseAmount(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(v, 0)
	if !ok || amount.Sign() < 0 {
		return nil, invalidf("invalid amount %q", v)
	}
	return amount, nil
}

func resolve(field, name string) (common.Address, error) {
	addr, err := Resolve(name)
	if err != nil {
		return addr, invalidf("%s: %v", field, err)
	}
	return addr, nil
}

func defaultName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func timestamp(ts uint64, err error) (*uint64, error) {
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// expectedActiveFrom turns "unset" or an offset into a timestamp.
func expectedActiveFrom(v string, at uint64) (uint64, error) {
	if v == "unset" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid expect_active_from %q: %w", v, err)
	}
	return at + uint64(d/time.Second), nil
}

func equalKinds(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// stepError marks a step that could not be run as written.
type stepError struct{ msg string }

func (e *stepError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &stepError{msg: fmt.Sprintf(format, args...)}
}

// Load parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadAndRun loads a scenario YAML file and runs it.
func LoadAndRun(path string) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result, err := Run(s)
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}
