package deps_test

import (
	"testing"

	"scribe/internal/deps"
	"scribe/internal/testsupport"
)

func TestCheckBinariesReportsMissing(t *testing.T) {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "Ghost", Command: "definitely-not-a-real-binary-xyz"},
		{Name: "Blank", Command: "   "},
	})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	for _, status := range statuses {
		if status.Available {
			t.Fatalf("expected %s unavailable", status.Name)
		}
		if status.Detail == "" {
			t.Fatalf("expected detail for %s", status.Name)
		}
	}

	missing := deps.MissingRequired(statuses)
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing, got %v", missing)
	}
}

func TestCheckBinariesFindsStubbed(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	for _, status := range statuses {
		if !status.Available {
			t.Fatalf("expected %s available via stub, got detail %q", status.Name, status.Detail)
		}
	}
	if missing := deps.MissingRequired(statuses); len(missing) != 0 {
		t.Fatalf("expected nothing missing, got %v", missing)
	}
}

func TestOptionalMissingNotRequired(t *testing.T) {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "Extra", Command: "definitely-not-a-real-binary-xyz", Optional: true},
	})
	if missing := deps.MissingRequired(statuses); len(missing) != 0 {
		t.Fatalf("expected optional dependency ignored, got %v", missing)
	}
}
