package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable(t *testing.T) {
	err := fmt.Errorf("execute: %w", &ErrToolUnavailable{ToolName: "run_command"})

	var target *ErrToolUnavailable
	if !errors.As(err, &target) {
		t.Fatalf("errors.As did not find *ErrToolUnavailable in %v", err)
	}
	if target.ToolName != "run_command" {
		t.Errorf("ToolName = %q", target.ToolName)
	}
	if want := `tool "run_command" is not available in this context`; target.Error() != want {
		t.Errorf("Error() = %q, want %q", target.Error(), want)
	}
	if errors.As(ErrConfirmationTimeout, &target) {
		t.Error("sentinel confirmation error matched *ErrToolUnavailable")
	}
}
