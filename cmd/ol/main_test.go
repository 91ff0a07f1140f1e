package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "offerline.yml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestConfigValidateJSONExitCode(t *testing.T) {
	viper.Set("json", true)
	t.Cleanup(func() { viper.Set("json", false) })

	bad := configValidateCmd()
	bad.SilenceErrors = true
	bad.SetArgs([]string{"--file", writeConfig(t, "connector:\n  page_size: 5\n")})
	if err := bad.Execute(); err == nil {
		t.Fatalf("expected invalid config to fail")
	}

	good := configValidateCmd()
	good.SetArgs([]string{"--file", writeConfig(t, "connector:\n  base: https://host/connector\n")})
	if err := good.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidationReport(t *testing.T) {
	ok := validationReport(nil)
	if ok["ok"] != true {
		t.Fatalf("expected ok, got %v", ok)
	}
	if _, present := ok["error"]; present {
		t.Fatalf("error key on success: %v", ok)
	}
	failed := validationReport(errors.New("config.connector.base is required"))
	if failed["ok"] != false || failed["error"] != "config.connector.base is required" {
		t.Fatalf("unexpected report %v", failed)
	}
}
