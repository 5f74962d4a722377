// Package testutil provides shared test environment helpers for E2E tests.
// It depends only on stdlib so that E2E tests (which cannot import
// internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// RequireEnv returns the value of name, or crashes with a hint when unset.
func RequireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", name)
		fmt.Fprintln(os.Stderr, "Set it in .env or as an environment variable.")
		os.Exit(1)
	}

	return v
}

// ValidateAllowlist crashes the process unless the host of baseURL appears
// in ADMINCTL_ALLOWED_TEST_HOSTS. E2E tests create and delete rows, so they
// must never point at a production backend by accident.
func ValidateAllowlist(baseURL string) {
	allowlist := os.Getenv("ADMINCTL_ALLOWED_TEST_HOSTS")
	if allowlist == "" {
		fmt.Fprintln(os.Stderr, "FATAL: ADMINCTL_ALLOWED_TEST_HOSTS not set")
		fmt.Fprintln(os.Stderr, "Example: ADMINCTL_ALLOWED_TEST_HOSTS=staging.example.com,localhost:8080")
		os.Exit(1)
	}

	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		fmt.Fprintf(os.Stderr, "FATAL: cannot parse base URL %q\n", baseURL)
		os.Exit(1)
	}

	for _, h := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(h) == u.Host {
			return
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: host %q is not in ADMINCTL_ALLOWED_TEST_HOSTS=%q\n", u.Host, allowlist)
	os.Exit(1)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
