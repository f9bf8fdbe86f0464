package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/npm-group/hvctl/pkg/generator"
)

func TestLocalCommands(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"generator", "template"}, want: generator.ScriptTemplate},
		{args: []string{"version"}, want: "UNKNOWN UNKNOWN\n"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var out bytes.Buffer
			cmd := NewCommand()
			cmd.SetOut(&out)
			cmd.SetArgs(append(tt.args, "--daemon-socket", "/nonexistent/hvctl.sock"))
			if err := cmd.Execute(); err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			if out.String() != tt.want {
				t.Fatalf("got %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestClientCommandWithoutDaemon(t *testing.T) {
	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"status", "--daemon-socket", "/nonexistent/hvctl.sock"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("status should fail without a daemon")
	}
}

func TestCommandGroups(t *testing.T) {
	cmd := NewCommand()
	for _, c := range cmd.Commands() {
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			continue
		}
		if c.GroupID == "" {
			t.Errorf("command %s has no group", c.Name())
		}
	}
}
