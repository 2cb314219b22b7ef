package env

import (
	"testing"
	"time"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	v := fromLookup(lookupFrom(nil))

	if v.PoolTargetCount != 5 {
		t.Fatalf("unexpected pool target: got=%d want=5", v.PoolTargetCount)
	}
	if v.PoolSpacing != 10*time.Minute {
		t.Fatalf("unexpected pool spacing: got=%s want=10m", v.PoolSpacing)
	}
	if v.TriadDuration != 600*time.Second {
		t.Fatalf("unexpected triad duration: got=%s", v.TriadDuration)
	}
	if v.ModerationFailMode != ModerationFailBlock {
		t.Fatalf("moderation should fail closed by default: got=%q", v.ModerationFailMode)
	}
}

func TestFromLookup_Overrides(t *testing.T) {
	v := fromLookup(lookupFrom(map[string]string{
		"SERVER_PORT":          "9090",
		"TRIAD_DURATION_SEC":   "120",
		"REPLY_COOLDOWN_SEC":   "1.5",
		"PROMPT_CATEGORIES":    "a, b ,,c",
		"MODERATION_FAIL_MODE": "ALLOW",
		"WIN_CREDIT":           "nope",
		"DEBUG_MODE":           "true",
	}))

	if v.ServerPort != 9090 {
		t.Fatalf("unexpected port: got=%d", v.ServerPort)
	}
	if v.TriadDuration != 2*time.Minute {
		t.Fatalf("unexpected duration: got=%s", v.TriadDuration)
	}
	if v.ReplyCooldown != 1500*time.Millisecond {
		t.Fatalf("unexpected cooldown: got=%s", v.ReplyCooldown)
	}
	if len(v.PromptCategories) != 3 || v.PromptCategories[1] != "b" {
		t.Fatalf("unexpected categories: %v", v.PromptCategories)
	}
	if v.ModerationFailMode != ModerationFailAllow {
		t.Fatalf("unexpected fail mode: got=%q", v.ModerationFailMode)
	}
	if v.WinCredit != 10 {
		t.Fatalf("invalid integer should keep default: got=%d", v.WinCredit)
	}
	if !v.DebugMode {
		t.Fatalf("debug mode should be enabled")
	}
}
