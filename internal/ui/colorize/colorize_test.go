package colorize

import (
	"strings"
	"testing"
)

func TestInstructionDisabled(t *testing.T) {
	t.Setenv("DISASSEMBLE_NO_COLOR", "1")
	const text = "mov %rsp,%rbp"
	if got := Instruction(text); got != text {
		t.Errorf("Instruction = %q, want unchanged %q", got, text)
	}
}

func TestInstructionKeepsText(t *testing.T) {
	t.Setenv("DISASSEMBLE_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	const text = "callq 0x401000"
	got := Instruction(text)
	if strings.TrimSpace(Strip(got)) != text {
		t.Errorf("Strip(Instruction(%q)) = %q", text, Strip(got))
	}
}

func TestStrip(t *testing.T) {
	if got := Strip("\x1b[38;2;79;79;79m401000\x1b[0m ret"); got != "401000 ret" {
		t.Errorf("Strip = %q, want %q", got, "401000 ret")
	}
}
