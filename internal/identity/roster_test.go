package identity

import (
	"os"
	"path/filepath"
	"testing"
)

const rosterYAML = `broadcasts:
  demo:
    editors:
      u1: Ada Lovelace
      u2: Grace Hopper
  other:
    editors:
      u3: ""
`

func writeRoster(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRoster(t *testing.T) {
	r, err := LoadRoster(writeRoster(t, rosterYAML))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.CanEdit("demo", "u1") {
		t.Error("u1 should be able to edit demo")
	}
	if !r.CanEdit("demo", "u2") {
		t.Error("u2 should be able to edit demo")
	}
	if r.CanEdit("demo", "u3") {
		t.Error("u3 should not be able to edit demo")
	}
	if r.CanEdit("missing", "u1") {
		t.Error("unknown broadcast should deny everyone")
	}
}

func TestProfile(t *testing.T) {
	r, err := LoadRoster(writeRoster(t, rosterYAML))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if got := r.Profile("u1").DisplayName; got != "Ada Lovelace" {
		t.Errorf("Profile(u1) = %q, want %q", got, "Ada Lovelace")
	}
	// Empty and missing display names fall back to the user id.
	if got := r.Profile("u3").DisplayName; got != "u3" {
		t.Errorf("Profile(u3) = %q, want %q", got, "u3")
	}
	if got := r.Profile("stranger").DisplayName; got != "stranger" {
		t.Errorf("Profile(stranger) = %q, want %q", got, "stranger")
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeRoster(t, rosterYAML)
	r, err := LoadRoster(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	updated := `broadcasts:
  demo:
    editors:
      u9: Newcomer
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.reload(); err != nil {
		t.Fatal(err)
	}
	if r.CanEdit("demo", "u1") {
		t.Error("u1 should have been revoked by reload")
	}
	if !r.CanEdit("demo", "u9") {
		t.Error("u9 should have been granted by reload")
	}
}

func TestLoadRosterBadFile(t *testing.T) {
	if _, err := LoadRoster(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("missing roster file should fail to load")
	}
	if _, err := LoadRoster(writeRoster(t, ":\tnot yaml")); err == nil {
		t.Error("malformed roster file should fail to load")
	}
}
