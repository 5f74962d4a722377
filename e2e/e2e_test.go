//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/adminctl/testutil"
)

var (
	binaryPath string
	configPath string
	resource   string
)

// TestMain builds the binary and points it at the backend named by
// ADMINCTL_E2E_BASE_URL with an isolated config and session file.
func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	baseURL := testutil.RequireEnv("ADMINCTL_E2E_BASE_URL")
	testutil.ValidateAllowlist(baseURL)

	resource = os.Getenv("ADMINCTL_E2E_RESOURCE")
	if resource == "" {
		resource = "reasons"
	}

	tmpDir, err := os.MkdirTemp("", "adminctl-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "adminctl")

	build := exec.Command("go", "build", "-o", binaryPath, ".")
	build.Dir = root
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr

	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	configPath = filepath.Join(tmpDir, "config.toml")
	cfg := fmt.Sprintf("base_url = %q\nsession_backend = \"file\"\nsession_path = %q\n",
		baseURL, filepath.Join(tmpDir, "credential.json"))

	if err := os.WriteFile(configPath, []byte(cfg), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "writing config: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func runCLIWithInput(t *testing.T, stdin string, args ...string) (string, string) {
	t.Helper()

	fullArgs := append([]string{"--config", configPath}, args...)
	cmd := exec.Command(binaryPath, fullArgs...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout.String(), stderr.String())
	}

	return stdout.String(), stderr.String()
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	return runCLIWithInput(t, "", args...)
}

func TestE2E_RoundTrip(t *testing.T) {
	username := testutil.RequireEnv("ADMINCTL_E2E_USERNAME")
	password := testutil.RequireEnv("ADMINCTL_E2E_PASSWORD")
	code := fmt.Sprintf("E2E%d", time.Now().UnixNano()%1_000_000)

	var id string

	t.Cleanup(func() {
		if id != "" {
			_ = exec.Command(binaryPath, "--config", configPath, "delete", resource, id).Run()
		}

		_ = exec.Command(binaryPath, "--config", configPath, "logout").Run()
	})

	t.Run("login", func(t *testing.T) {
		_, stderr := runCLIWithInput(t, password+"\n", "login", "-u", username)
		assert.Contains(t, stderr, "Logged in")
	})

	t.Run("status", func(t *testing.T) {
		stdout, _ := runCLI(t, "status", "--json")

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.Equal(t, true, out["logged_in"])
	})

	t.Run("create", func(t *testing.T) {
		body := fmt.Sprintf(`{"code":%q,"name":"adminctl e2e"}`, code)
		stdout, _ := runCLI(t, "create", resource, "--data", body, "--json")

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		require.Contains(t, out, "id")
		id = fmt.Sprint(out["id"])
	})

	t.Run("search", func(t *testing.T) {
		stdout, _ := runCLI(t, "list", resource, "--search", code)
		assert.Contains(t, stdout, code)
	})

	t.Run("get", func(t *testing.T) {
		require.NotEmpty(t, id)

		stdout, _ := runCLI(t, "get", resource, id, "--json")
		assert.Contains(t, stdout, code)
	})

	t.Run("list_all", func(t *testing.T) {
		stdout, _ := runCLI(t, "list", resource, "--all", "--json")

		var items []map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &items))
		assert.NotEmpty(t, items)
	})

	t.Run("delete", func(t *testing.T) {
		require.NotEmpty(t, id)

		runCLI(t, "delete", resource, id)
		id = ""
	})
}
