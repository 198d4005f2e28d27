package lib

import (
	"context"
	"testing"
	"time"
)

func TestInvoker_Run_Success(t *testing.T) {
	inv := NewInvoker()
	res := inv.Run(context.Background(), "echo", "hello")
	if res.Exit != 0 {
		t.Fatalf("Exit = %d, want 0", res.Exit)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello\n")
	}
}

func TestInvoker_Run_NonZeroExit(t *testing.T) {
	inv := NewInvoker()
	res := inv.Run(context.Background(), "sh", "-c", "exit 3")
	if res.Exit != 3 {
		t.Fatalf("Exit = %d, want 3", res.Exit)
	}
}

func TestInvoker_Run_Timeout(t *testing.T) {
	inv := &Invoker{Timeout: 50 * time.Millisecond}
	res := inv.Run(context.Background(), "sleep", "5")
	if !res.TimedOut {
		t.Fatal("expected TimedOut = true")
	}
}

func TestInvoker_RunStdin(t *testing.T) {
	inv := NewInvoker()
	res := inv.RunStdin(context.Background(), "secret\n", "cat")
	if res.Exit != 0 {
		t.Fatalf("Exit = %d, want 0", res.Exit)
	}
	if res.Stdout != "secret\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "secret\n")
	}
}

func TestDdNoSpaceLeft(t *testing.T) {
	cases := []struct {
		name string
		res  CommandResult
		want bool
	}{
		{"clean exit", CommandResult{Exit: 0}, true},
		{"no space left", CommandResult{Exit: 1, Stderr: "dd: error writing '/dev/sdz': No space left on device"}, true},
		{"other failure", CommandResult{Exit: 1, Stderr: "dd: permission denied"}, false},
		{"unrelated exit code", CommandResult{Exit: 2, Stderr: "No space left"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DdNoSpaceLeft(tc.res); got != tc.want {
				t.Errorf("DdNoSpaceLeft() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSmartctlStandbyExit(t *testing.T) {
	if !SmartctlStandbyExit(CommandResult{Exit: 2}) {
		t.Error("expected exit 2 to indicate standby")
	}
	if SmartctlStandbyExit(CommandResult{Exit: 0}) {
		t.Error("expected exit 0 to not indicate standby")
	}
}
