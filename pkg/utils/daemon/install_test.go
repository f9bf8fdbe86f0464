package daemon

import (
	"strings"
	"testing"
)

func TestUnit(t *testing.T) {
	unit := Unit("/usr/local/bin/hvctl", "/etc/hvctl.yaml")
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/hvctl daemon --config /etc/hvctl.yaml\n") {
		t.Fatalf("unexpected unit:\n%s", unit)
	}
	if strings.Contains(unit, "/path/to") {
		t.Fatalf("placeholders left in unit:\n%s", unit)
	}
}
