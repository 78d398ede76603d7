package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/config"
	"github.com/ppiankov/delayguard/internal/guard"
	"github.com/ppiankov/delayguard/internal/model"
)

func TestRunInit_UserMode(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	initMode = "user"
	initForce = false

	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	configDir := filepath.Join(tmpDir, ".delayguard")
	configPath := filepath.Join(configDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if !strings.Contains(string(data), "engine_address") {
		t.Error("config.yaml missing engine_address")
	}
	if _, err := config.Load(configPath); err != nil {
		t.Errorf("written config does not load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(configDir, "scenarios", "example.yaml")); err != nil {
		t.Error("example scenario not created")
	}
}

func TestRunInit_NoOverwriteWithoutForce(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configDir := filepath.Join(tmpDir, ".delayguard")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	sentinel := "# sentinel content\n"
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(sentinel), 0o644); err != nil {
		t.Fatal(err)
	}

	initMode = "user"
	initForce = false
	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	data, _ := os.ReadFile(configPath)
	if string(data) != sentinel {
		t.Error("config.yaml was overwritten without --force")
	}

	initForce = true
	defer func() { initForce = false }()
	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	data, _ = os.ReadFile(configPath)
	if string(data) == sentinel {
		t.Error("config.yaml was NOT overwritten with --force")
	}
}

func TestInitConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	tests := []struct {
		mode    string
		want    string
		wantErr bool
	}{
		{"user", filepath.Join(tmpDir, ".delayguard"), false},
		{"system", "/etc/delayguard", false},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		initMode = tt.mode
		got, err := initConfigDir()
		if tt.wantErr {
			if err == nil {
				t.Errorf("mode=%q: expected error", tt.mode)
			}
			continue
		}
		if err != nil {
			t.Errorf("mode=%q: unexpected error: %v", tt.mode, err)
			continue
		}
		if got != tt.want {
			t.Errorf("mode=%q: got %q, want %q", tt.mode, got, tt.want)
		}
	}
	initMode = "user"
}

func TestExampleScenarioPasses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.yaml")
	if err := os.WriteFile(path, []byte(exampleScenarioYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	results, err := simulate(filepath.Join(dir, "*.yaml"))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	for _, s := range results[0].Steps {
		if !s.Passed {
			t.Errorf("step %d (%s): expected %s, got %s: %s", s.Index, s.Action, s.Expected, s.Actual, s.Detail)
		}
	}
}

func TestSimulateNoMatches(t *testing.T) {
	if _, err := simulate(filepath.Join(t.TempDir(), "*.yaml")); err == nil {
		t.Fatal("expected error when no scenario matches")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestIDCommand(t *testing.T) {
	out, err := execute(t, "id", "--to", "0x00000000000000000000000000000000000000d0", "--selector", "transfer(address,uint256)", "--operation", "call")
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	if !strings.Contains(out, `"selector": "0xa9059cbb"`) || !strings.Contains(out, `"tx_id": "0x`) {
		t.Errorf("unexpected id output: %s", out)
	}
}

func TestDecodeCommand(t *testing.T) {
	inner := model.Call{To: common.HexToAddress("0x00000000000000000000000000000000000000d0"), Data: []byte{0x12, 0x34, 0x56, 0x78}}
	data := hexutil.Encode(calldata.EncodeMultiSend([]model.Call{inner}))
	out, err := execute(t, "decode", data, "--format", "text")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "batch=1") ||
		!strings.HasPrefix(strings.ToLower(lines[1]), "  0x0000..00d0 0x12345678 call") {
		t.Errorf("unexpected decode output:\n%s", out)
	}

	if _, err := execute(t, "decode", "0x8d80ff0a00", "--format", "text"); err == nil {
		t.Error("expected error for malformed batch")
	}
}

func TestConfigureCalldata(t *testing.T) {
	out, err := execute(t, "schedule-removal", "--calldata")
	if err != nil {
		t.Fatalf("schedule-removal: %v", err)
	}
	want := hexutil.Encode(guard.EncodeScheduleGuardRemoval())
	if strings.TrimSpace(out) != want {
		t.Errorf("expected %s, got %q", want, out)
	}
}

func TestConfigureRequiresKey(t *testing.T) {
	t.Setenv(KeyEnv, "")
	_, err := execute(t, "schedule-removal", "--calldata=false")
	if err == nil || !strings.Contains(err.Error(), "no signing key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}
