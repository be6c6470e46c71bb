package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "frost version ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestServeRejectsBadConfig(t *testing.T) {
	t.Cleanup(func() { configPath = "" })

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("storage:\n  type: tape\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{missing, invalid} {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"serve", "--conf", path})
		if err := cmd.Execute(); err == nil {
			t.Errorf("serve --conf %s succeeded", filepath.Base(path))
		}
	}
}

func TestConfigPathFromEnv(t *testing.T) {
	t.Cleanup(func() { configPath = "" })
	t.Setenv("FROST_CONF", "/etc/frost.yaml")

	if got := getConfigPath(); got != "/etc/frost.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
	configPath = "local.yaml"
	if got := getConfigPath(); got != "local.yaml" {
		t.Errorf("getConfigPath() = %q, flag should win", got)
	}
}
