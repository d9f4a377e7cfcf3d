// File: control/debug_test.go
// License: Apache-2.0

package control

import (
	"strings"
	"testing"
)

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 2 })
	dp.RegisterProbe("a", func() any { return "one" })
	dp.RegisterProbe("boom", func() any { panic("bad probe") })

	names := dp.Names()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "boom" {
		t.Fatalf("names = %v", names)
	}
	state := dp.DumpState()
	if state["a"] != "one" || state["b"] != 2 {
		t.Errorf("state = %v", state)
	}
	if s, _ := state["boom"].(string); !strings.Contains(s, "bad probe") {
		t.Errorf("panic not captured: %v", state["boom"])
	}
}

func TestPlatformProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	state := dp.DumpState()
	if n, ok := state["platform.cpus"].(int); !ok || n < 1 {
		t.Errorf("platform.cpus = %v", state["platform.cpus"])
	}
	if _, ok := state["platform.goroutines"]; !ok {
		t.Error("missing goroutine probe")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("debug", "console"); err != nil {
		t.Fatalf("console logger: %v", err)
	}
	if _, err := NewLogger("info", "json"); err != nil {
		t.Fatalf("json logger: %v", err)
	}
	if _, err := NewLogger("loud", "json"); err == nil {
		t.Error("expected error for bad level")
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Error("expected error for bad format")
	}
}
