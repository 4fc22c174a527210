// Package testutil holds environment helpers for the live e2e suite. It uses
// only the standard library so the e2e package stays outside internal/.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the e2e suite.
const (
	EnvTestUsername    = "SEEDR_TEST_USERNAME"
	EnvTestPassword    = "SEEDR_TEST_PASSWORD"
	EnvAllowedAccounts = "SEEDR_ALLOWED_TEST_ACCOUNTS"
)

// LoadDotEnv reads KEY=VALUE lines from envPath into the environment. A
// missing file is fine; variables already set win over the file.
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

		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
}

// RequireAllowedAccount exits the process unless username is listed in
// SEEDR_ALLOWED_TEST_ACCOUNTS.
func RequireAllowedAccount(username string) {
	allowlist := os.Getenv(EnvAllowedAccounts)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set (comma-separated Seedr usernames)\n", EnvAllowedAccounts)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(a), username) {
			return
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s\n", EnvTestUsername, username, EnvAllowedAccounts)
	os.Exit(1)
}

// FindModuleRoot walks up from the working directory to the directory
// holding go.mod, or returns fallback.
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
