package guard

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/safe"
	"github.com/ppiankov/delayguard/internal/store"
)

// Hook names used in logs and denial events.
const (
	HookTransaction      = "check_transaction"
	HookAfterExecution   = "check_after_execution"
	HookModule           = "check_module_transaction"
	HookAfterModule      = "check_after_module_execution"
	HookRun              = "run"
	HookRunModule        = "run_module"
	HookExecutionFailure = "execution"
)

// Executor runs the guarded transaction on the host. A non-nil error
// aborts the whole run.
type Executor func(ctx context.Context) error

// CheckTransaction is the pre-execution hook for owner-signed
// transactions. A cosigned transaction is authorized by the fast path and
// upgrades the allowlist; anything else must pass the validator.
func (e *Engine) CheckTransaction(ctx context.Context, acct safe.Account, tx model.Transaction) error {
	now := e.now()
	var events []model.Event
	err := e.store.Update(ctx, func(w store.Writer) error {
		var err error
		events, err = e.pre(ctx, w, acct, tx, now)
		return err
	})
	if err != nil {
		return e.denied(ctx, acct.Address(), HookTransaction, tx.Call, err)
	}
	e.cfg.Bus.Publish(ctx, events...)
	return nil
}

// CheckAfterExecution is the post-execution hook for owner-signed
// transactions. The integrity check runs whether or not the inner call
// succeeded.
func (e *Engine) CheckAfterExecution(ctx context.Context, acct safe.Account, success bool) error {
	return e.post(ctx, acct, HookAfterExecution, success)
}

// CheckModuleTransaction is the pre-execution hook for module
// transactions. There are no owner signatures, so only the validator
// applies. module identifies the initiating module in logs.
func (e *Engine) CheckModuleTransaction(ctx context.Context, acct safe.Account, call model.Call, module common.Address) error {
	now := e.now()
	err := e.store.View(ctx, func(r store.Reader) error {
		return e.validator.Evaluate(ctx, r, acct.Address(), call, now)
	})
	if err != nil {
		return e.denied(ctx, acct.Address(), HookModule, call, err)
	}
	e.cfg.Logger.Debug("module transaction allowed", "account", acct.Address().Hex(), "module", module.Hex())
	return nil
}

// CheckAfterModuleExecution is the post-execution hook for module
// transactions.
func (e *Engine) CheckAfterModuleExecution(ctx context.Context, acct safe.Account, success bool) error {
	return e.post(ctx, acct, HookAfterModule, success)
}

func (e *Engine) post(ctx context.Context, acct safe.Account, hook string, success bool) error {
	now := e.now()
	var removed bool
	err := e.store.Update(ctx, func(w store.Writer) error {
		var err error
		removed, err = e.monitor.Check(ctx, acct.Address(), acct, w, now)
		return err
	})
	if err != nil {
		return e.denied(ctx, acct.Address(), hook, model.Call{To: acct.Address()}, err)
	}
	if !success {
		e.cfg.Logger.Debug("inner execution reported failure", "hook", hook, "account", acct.Address().Hex())
	}
	if removed {
		e.cfg.Bus.Publish(ctx, e.removedEvent(acct.Address()))
	}
	return nil
}

// Run executes pre-check, exec and post-check as one atomic unit: any
// failure discards every state change the checks made, and events are
// published only once everything committed.
func (e *Engine) Run(ctx context.Context, acct safe.Account, tx model.Transaction, exec Executor) error {
	now := e.now()
	var events []model.Event
	stage := HookTransaction
	err := e.store.Update(ctx, func(w store.Writer) error {
		var err error
		if events, err = e.pre(ctx, w, acct, tx, now); err != nil {
			return err
		}
		stage = HookExecutionFailure
		if exec != nil {
			if err := exec(ctx); err != nil {
				return fmt.Errorf("execute: %w", err)
			}
		}
		stage = HookAfterExecution
		removed, err := e.monitor.Check(ctx, acct.Address(), acct, w, now)
		if err != nil {
			return err
		}
		if removed {
			events = append(events, e.removedEvent(acct.Address()))
		}
		return nil
	})
	if err != nil {
		return e.denied(ctx, acct.Address(), HookRun+"/"+stage, tx.Call, err)
	}
	e.cfg.Bus.Publish(ctx, events...)
	return nil
}

// RunModule is Run for module transactions.
func (e *Engine) RunModule(ctx context.Context, acct safe.Account, call model.Call, module common.Address, exec Executor) error {
	now := e.now()
	var removed bool
	stage := HookModule
	err := e.store.Update(ctx, func(w store.Writer) error {
		if err := e.validator.Evaluate(ctx, w, acct.Address(), call, now); err != nil {
			return err
		}
		stage = HookExecutionFailure
		if exec != nil {
			if err := exec(ctx); err != nil {
				return fmt.Errorf("execute: %w", err)
			}
		}
		stage = HookAfterModule
		var err error
		removed, err = e.monitor.Check(ctx, acct.Address(), acct, w, now)
		return err
	})
	if err != nil {
		return e.denied(ctx, acct.Address(), HookRunModule+"/"+stage, call, err)
	}
	e.cfg.Logger.Debug("module transaction executed", "account", acct.Address().Hex(), "module", module.Hex())
	if removed {
		e.cfg.Bus.Publish(ctx, e.removedEvent(acct.Address()))
	}
	return nil
}

// pre authorizes tx through the cosigner fast path, falling back to the
// validator. It returns the events of any upgrade it wrote.
func (e *Engine) pre(ctx context.Context, w store.Writer, acct safe.Account, tx model.Transaction, now uint64) ([]model.Event, error) {
	res, err := e.fastPath.Authorize(ctx, w, acct, tx, now)
	if err != nil {
		return nil, err
	}
	if res.Matched {
		e.cfg.Logger.Info("cosigned transaction authorized",
			"account", acct.Address().Hex(),
			"target", tx.To.Hex(),
			"upgrades", len(res.Events),
		)
		return res.Events, nil
	}
	if res.VerifyErr != nil {
		e.cfg.Logger.Warn("cosigner verification failed", "account", acct.Address().Hex(), "error", res.VerifyErr)
	}
	if err := e.validator.Evaluate(ctx, w, acct.Address(), tx.Call, now); err != nil {
		return nil, err
	}
	return nil, nil
}

func (e *Engine) removedEvent(account common.Address) model.Event {
	e.cfg.Logger.Info("guard removed", "account", account.Hex())
	return model.Event{
		Kind:    model.EventGuardRemoved,
		Account: account,
		Source:  model.SourceHook,
	}
}
