package passphrase

import "testing"

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("LLAMABOT_TEST_PASS", "hunter2")
	src := NewSource("LLAMABOT_TEST_PASS", "polygon")
	got, err := src.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("expected env passphrase, got %q (%v)", got, err)
	}
	t.Setenv("LLAMABOT_TEST_PASS", "changed")
	if again, _ := src.Get(); again != "hunter2" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("LLAMABOT_TEST_PASS", "   ")
	if _, err := NewSource("LLAMABOT_TEST_PASS", "").Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}
