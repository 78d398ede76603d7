package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/delayguard/internal/config"
)

var (
	initMode  string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.delayguard) or system (/etc/delayguard)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration and an example scenario",
	Long: `Creates the config directory with a commented config.yaml and an
example scenario under scenarios/.

User mode (default):  writes to ~/.delayguard/
System mode:          writes to /etc/delayguard/ (requires root)`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}
	configPath := filepath.Join(configDir, "config.yaml")
	files := []struct{ path, content string }{
		{configPath, config.DefaultConfigYAML()},
		{filepath.Join(configDir, "scenarios", "example.yaml"), exampleScenarioYAML},
	}

	out := cmd.OutOrStdout()
	for _, f := range files {
		wrote, err := writeIfMissing(f.path, f.content)
		if err != nil {
			return err
		}
		state := "exists"
		if wrote {
			state = "created"
		}
		fmt.Fprintf(out, "  %-8s %s\n", state, f.path)
	}

	fmt.Fprintf(out, "\nSet engine_address in %s, then:\n", configPath)
	fmt.Fprintf(out, "  delayguard serve --config %s\n", configPath)
	fmt.Fprintf(out, "  delayguard simulate --scenario '%s'\n", filepath.Join(configDir, "scenarios", "*.yaml"))
	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/delayguard", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".delayguard"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

const exampleScenarioYAML = `# Example scenario. Names such as "target" or "alice" resolve to
# addresses of keys derived from them; "account", "engine" and "multisend"
# are the simulated Safe, this engine and the multiSend library.
name: grant, wait, remove
delay: 24h
steps:
  - action: allow
    purpose: grants before installation apply at once
    call: {to: target, selector: "doSomething()"}
    expect_active_from: 0s
  - action: allow
    call: {to: multisend, operation: delegatecall, selector: "multiSend(bytes)"}
  - action: install
  - action: allow
    call: {to: vault, selector: "deposit(uint256)"}
    expect_active_from: 24h
  - action: exec
    purpose: a fresh grant is not usable yet
    call: {to: vault, selector: "deposit(uint256)"}
    expect: FirstTimeTx
    expect_events: [denied]
  - action: advance
    by: 24h
  - action: exec
    call: {to: vault, selector: "deposit(uint256)"}
  - action: schedule_removal
    expect_active_from: 24h
  - action: advance
    by: 24h
  - action: exec
    purpose: both slots must go together
    call:
      batch:
        - set_guard: zero
        - set_module_guard: zero
    expect_events: [guard_removed]
`
