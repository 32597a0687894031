package distribution

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	return path
}

func TestLoadRoster(t *testing.T) {
	idA := uuid.New()
	idB := uuid.New()
	path := writeRoster(t, `workers:
  - id: `+idA.String()+`
    name: Ana
    email: ana@example.com
    quota: 18
  - id: `+idB.String()+`
    name: Bruno
    email: bruno@example.com
    quota: 17
`)

	roster, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("load roster: %v", err)
	}

	if len(roster) != 2 {
		t.Fatalf("workers = %d, want 2", len(roster))
	}
	if roster[0].ID != idA || roster[0].Quota != 18 {
		t.Errorf("first entry = %+v", roster[0])
	}
	if roster[1].Email != "bruno@example.com" {
		t.Errorf("second entry email = %s", roster[1].Email)
	}
}

func TestLoadRosterEmptyPath(t *testing.T) {
	roster, err := LoadRoster("")
	if err != nil {
		t.Fatalf("empty path must not error: %v", err)
	}
	if roster != nil {
		t.Errorf("expected nil roster, got %d entries", len(roster))
	}
}

func TestLoadRosterRejectsZeroQuota(t *testing.T) {
	path := writeRoster(t, `workers:
  - id: `+uuid.NewString()+`
    name: Ana
    email: ana@example.com
    quota: 0
`)

	if _, err := LoadRoster(path); err == nil {
		t.Fatal("expected error for zero quota")
	}
}

func TestLoadRosterRejectsMissingID(t *testing.T) {
	path := writeRoster(t, `workers:
  - name: Ana
    email: ana@example.com
    quota: 5
`)

	if _, err := LoadRoster(path); err == nil {
		t.Fatal("expected error for missing worker id")
	}
}
