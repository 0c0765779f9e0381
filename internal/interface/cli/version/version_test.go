package version

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewCommand(t *testing.T) {
	cmd := NewCommand()

	if cmd.Use != "version" {
		t.Errorf("Expected Use='version', got '%s'", cmd.Use)
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("Descriptions should not be empty")
	}
}

func TestVersionCommand_Output(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()

	tests := []struct {
		name    string
		version string
		want    string
	}{
		{"release build", "v1.2.3", "odoogen version v1.2.3"},
		{"empty falls back to dev", "", "odoogen version dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version = tt.version
			var out bytes.Buffer
			cmd := NewCommand()
			cmd.SetOut(&out)
			cmd.SetArgs([]string{})
			if err := cmd.Execute(); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output %q does not contain %q", out.String(), tt.want)
			}
			if !strings.Contains(out.String(), "Go version:") {
				t.Errorf("output %q lacks the Go version", out.String())
			}
		})
	}
}
