package shared

import (
	"strings"
	"testing"
)

func TestRedact_APIKeyAssignment(t *testing.T) {
	in := `api_key=sk-abcdef1234567890`
	out := Redact(in)
	if strings.Contains(out, "sk-abcdef1234567890") {
		t.Fatalf("secret survived redaction: %q", out)
	}
}

func TestRedact_TelegramToken(t *testing.T) {
	in := "using token 123456789:AAHdqTcvbXJf9bs2evjq_PoiWpLmk4ccc30"
	out := Redact(in)
	if strings.Contains(out, "AAHdqTcvbXJf9bs2evjq") {
		t.Fatalf("bot token survived redaction: %q", out)
	}
}

func TestRedact_PlainTextUntouched(t *testing.T) {
	in := "task finished after 3 continuations"
	if out := Redact(in); out != in {
		t.Fatalf("plain text mangled: %q", out)
	}
}

func TestRedactEnvValue(t *testing.T) {
	if got := RedactEnvValue("TELEGRAM_BOT_TOKEN", "abc"); got != "[REDACTED]" {
		t.Fatalf("got %q", got)
	}
	if got := RedactEnvValue("TASKPILOT_HOME", "/home/op"); got != "/home/op" {
		t.Fatalf("got %q", got)
	}
}
