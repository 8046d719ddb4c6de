package transcribe

import "testing"

func TestParseSegmentEnd(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{"[00:00.000 --> 00:02.500]  hello world", 2.5, true},
		{"[01:10.000 --> 01:15.250]  more words", 75.25, true},
		{"[00:00,000 --> 00:02,000] comma style", 2, true},
		{"loading model...", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseSegmentEnd(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseSegmentEnd(%q) = %v, %v; want %v, %v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNewWhisperEngineDefaults(t *testing.T) {
	engine := NewWhisperEngine("", "")
	if engine.binary != "whisper" || engine.model != "small" {
		t.Fatalf("unexpected defaults: %+v", engine)
	}
}
