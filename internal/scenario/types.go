package scenario

import "time"

// Step actions.
const (
	ActionAdvance         = "advance"
	ActionInstall         = "install"
	ActionAllow           = "allow"
	ActionAllowToken      = "allow_token"
	ActionCosigner        = "cosigner"
	ActionScheduleRemoval = "schedule_removal"
	ActionExec            = "exec"
	ActionModule          = "module"
	ActionCheck           = "check"
)

// Expected outcome of a step that succeeds.
const ExpectAllow = "allow"

// CallSpec describes a call by name. Exactly one payload field is
// normally set; Data wins over Selector when both are.
type CallSpec struct {
	To        string `yaml:"to,omitempty"`
	Value     string `yaml:"value,omitempty"`
	Operation string `yaml:"operation,omitempty"`
	// Data is raw hex calldata.
	Data string `yaml:"data,omitempty"`
	// Selector is a function signature ("approve(address,uint256)") or a
	// 4-byte hex selector.
	Selector string        `yaml:"selector,omitempty"`
	Transfer *TransferSpec `yaml:"transfer,omitempty"`
	// SetGuard and SetModuleGuard call the account's guard setters.
	SetGuard       *string `yaml:"set_guard,omitempty"`
	SetModuleGuard *string `yaml:"set_module_guard,omitempty"`
	// Allow calls setAllowedTx on the engine for the nested call.
	Allow           *CallSpec `yaml:"allow,omitempty"`
	ScheduleRemoval bool      `yaml:"schedule_removal,omitempty"`
	// Batch wraps the nested calls in multiSend, by delegatecall to the
	// multisend address unless To and Operation say otherwise.
	Batch []CallSpec `yaml:"batch,omitempty"`
}

// TransferSpec is an ERC-20 transfer(recipient, amount).
type TransferSpec struct {
	Recipient string `yaml:"recipient"`
	Amount    string `yaml:"amount"`
}

// Step is one action against the simulated engine and account.
type Step struct {
	Action  string `yaml:"action"`
	Purpose string `yaml:"purpose,omitempty"`

	// advance
	By time.Duration `yaml:"by,omitempty"`
	// install: both, guard, module or none
	Guards string `yaml:"guards,omitempty"`

	Call  CallSpec `yaml:"call,omitempty"`
	Reset bool     `yaml:"reset,omitempty"`

	// allow_token
	Token     string `yaml:"token,omitempty"`
	Recipient string `yaml:"recipient,omitempty"`
	Amount    string `yaml:"amount,omitempty"`

	// cosigner names the key registered by a cosigner step. On exec it
	// names the key that cosigns the transaction.
	Cosigner string `yaml:"cosigner,omitempty"`
	// module names the module running a module step.
	Module string `yaml:"module,omitempty"`

	// Expect is "allow" or a denial kind such as "FirstTimeTx".
	Expect string `yaml:"expect,omitempty"`
	// ExpectActiveFrom is "unset" or an offset from the step's time.
	ExpectActiveFrom string   `yaml:"expect_active_from,omitempty"`
	ExpectEvents     []string `yaml:"expect_events,omitempty"`
}

// Scenario is a named sequence of steps run against a fresh engine.
type Scenario struct {
	Name               string         `yaml:"name"`
	Description        string         `yaml:"description,omitempty"`
	Start              int64          `yaml:"start,omitempty"`
	Delay              *time.Duration `yaml:"delay,omitempty"`
	Installation       string         `yaml:"installation,omitempty"`
	StrictGuardRemoval bool           `yaml:"strict_guard_removal,omitempty"`
	Steps              []Step         `yaml:"steps"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int      `json:"index"`
	Action   string   `json:"action"`
	Purpose  string   `json:"purpose,omitempty"`
	Passed   bool     `json:"passed"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Detail   string   `json:"detail,omitempty"`
	Events   []string `json:"events,omitempty"`
	At       uint64   `json:"at"`
}

// RunResult is the outcome of running one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Steps  []StepResult `json:"steps"`
}
