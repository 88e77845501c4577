package provider

import "testing"

func TestFromTag(t *testing.T) {
	cases := []struct {
		tag  string
		want Provider
		ok   bool
	}{
		{"Google", Google, true},
		{"gemini", Google, true},
		{"Cloudflare", WorkersAI, true},
		{"workers-ai", WorkersAI, true},
		{"cf", WorkersAI, true},
		{"openai", OpenAICompat, true},
		{"openai-compatible", OpenAICompat, true},
		{" google ", Google, true},
		{"anthropic", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := FromTag(tc.tag)
		if tc.ok != (err == nil) {
			t.Fatalf("FromTag(%q): unexpected err %v", tc.tag, err)
		}
		if got != tc.want {
			t.Fatalf("FromTag(%q) = %q, want %q", tc.tag, got, tc.want)
		}
	}
}

func TestNormalizeModelID(t *testing.T) {
	if got := NormalizeModelID("models/gemini-2.0-flash"); got != "gemini-2.0-flash" {
		t.Fatalf("expected prefix stripped, got %q", got)
	}
	if got := NormalizeModelID("  gemini-2.0-flash "); got != "gemini-2.0-flash" {
		t.Fatalf("expected trimmed id, got %q", got)
	}
}

func TestRewriteThroughProxy(t *testing.T) {
	target := "https://generativelanguage.googleapis.com/v1beta/models?key=abc"
	if got := RewriteThroughProxy("", target); got != target {
		t.Fatalf("expected passthrough without proxy, got %q", got)
	}
	want := "https://proxy.example.com/v1beta/models?key=abc"
	if got := RewriteThroughProxy("https://proxy.example.com/", target); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
