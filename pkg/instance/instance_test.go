package instance

import "testing"

func TestIDPrefersDyno(t *testing.T) {
	t.Setenv("DYNO", "web.2")
	t.Setenv("SETTLA_INSTANCE_ID", "pod-a")
	if got := ID(); got != "web.2" {
		t.Fatalf("expected dyno id, got %q", got)
	}
}

func TestIDFallsBackToInstanceEnv(t *testing.T) {
	t.Setenv("DYNO", "")
	t.Setenv("SETTLA_INSTANCE_ID", "pod-a")
	if got := ID(); got != "pod-a" {
		t.Fatalf("expected instance env id, got %q", got)
	}
}

func TestIDNeverEmpty(t *testing.T) {
	t.Setenv("DYNO", "")
	t.Setenv("SETTLA_INSTANCE_ID", "")
	if ID() == "" {
		t.Fatal("expected a non-empty id")
	}
}
