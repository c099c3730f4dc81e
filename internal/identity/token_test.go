package identity

import "testing"

func TestTokenIsSHA256Hex(t *testing.T) {
	// sha256("123456789")
	const want = "15e2b0d3c33891ebb0f1ef609ec419420c20e320ce94c65fbc8c3312448eb225"
	if got := Token("123456789"); got != want {
		t.Fatalf("Token = %s, want %s", got, want)
	}
}

func TestTokenDeterministicAndDistinct(t *testing.T) {
	if Token("5511999999999") != Token("5511999999999") {
		t.Fatal("expected same token for same id")
	}
	if Token("1") == Token("2") {
		t.Fatal("expected different tokens for different ids")
	}
	if len(Token("")) != 64 {
		t.Fatalf("expected 64 hex chars")
	}
}

func TestRedact(t *testing.T) {
	got := Redact("mail jane@example.com, call 555-123-4567", 0)
	want := "mail [EMAIL], call[PHONE]"
	if got != want {
		t.Fatalf("Redact = %q, want %q", got, want)
	}
	if got := Redact("hello world", 5); got != "hello..." {
		t.Fatalf("truncate = %q", got)
	}
}
