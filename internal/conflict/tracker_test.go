package conflict

import (
	"testing"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

func TestRecordModificationDetectsConflict(t *testing.T) {
	tr := New()
	a1 := agentid.New()
	a2 := agentid.New()

	tr.RecordModification(a1, "pkg/foo.go", ModModified)
	if len(tr.GetActiveConflicts()) != 0 {
		t.Fatal("single agent should not raise a conflict")
	}

	tr.RecordModification(a2, "pkg/foo.go", ModModified)
	conflicts := tr.GetActiveConflicts()
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].Severity != SeverityError {
		t.Errorf("severity = %v, want error", conflicts[0].Severity)
	}
}

func TestDetermineSeverity(t *testing.T) {
	cases := []struct {
		path string
		want Severity
	}{
		{"db/migrations/0001_init.sql", SeverityBlock},
		{".env", SeverityBlock},
		{"config/schema.json", SeverityBlock},
		{"pkg/foo.go", SeverityError},
		{"pkg", SeverityWarning},
	}
	for _, tc := range cases {
		if got := determineSeverity(tc.path); got != tc.want {
			t.Errorf("determineSeverity(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestClearAgentFilesRefreshesConflicts(t *testing.T) {
	tr := New()
	a1 := agentid.New()
	a2 := agentid.New()

	tr.RecordModification(a1, "pkg/foo.go", ModModified)
	tr.RecordModification(a2, "pkg/foo.go", ModModified)
	if len(tr.GetActiveConflicts()) != 1 {
		t.Fatal("expected conflict before clearing")
	}

	tr.ClearAgentFiles(a1)
	if len(tr.GetActiveConflicts()) != 0 {
		t.Fatal("conflict should resolve once only one agent remains")
	}
	if got := tr.GetAgentFiles(a1); len(got) != 0 {
		t.Errorf("agent files should be cleared, got %v", got)
	}
}

func TestGetAgentConflicts(t *testing.T) {
	tr := New()
	a1 := agentid.New()
	a2 := agentid.New()
	a3 := agentid.New()

	tr.RecordModification(a1, "pkg/foo.go", ModModified)
	tr.RecordModification(a2, "pkg/foo.go", ModModified)
	tr.RecordModification(a3, "pkg/bar.go", ModCreated)

	if got := tr.GetAgentConflicts(a1); len(got) != 1 {
		t.Errorf("a1 should have 1 conflict, got %d", len(got))
	}
	if got := tr.GetAgentConflicts(a3); len(got) != 0 {
		t.Errorf("a3 touched a file alone, should have 0 conflicts, got %d", len(got))
	}
}
