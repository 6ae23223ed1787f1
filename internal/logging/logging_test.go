package logging

import "testing"

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"error":   LevelError,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"info":    LevelInfo,
		"Debug":   LevelDebug,
		"trace":   LevelDebug,
		"":        LevelWarn,
		"bogus":   LevelWarn,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestEnabled(t *testing.T) {
	SetLevel(LevelInfo)
	defer SetLevel(LevelWarn)

	if !enabled(LevelError) || !enabled(LevelInfo) {
		t.Fatal("error and info should be enabled at info level")
	}
	if enabled(LevelDebug) {
		t.Fatal("debug should be gated at info level")
	}
}
