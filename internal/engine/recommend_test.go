package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

func TestPlaybookEngineSteps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playbooks.yaml")
	if err := os.WriteFile(path, []byte(`playbooks:
  - id: db
    match:
      category: "database"
    steps: ["Check connection pool", "Fail over to replica"]
  - id: payments
    match:
      service: "payment-api"
      cause_contains: ["pool"]
    steps: ["Page payments on-call", "Check connection pool"]
`), 0644); err != nil {
		t.Fatalf("write playbooks: %v", err)
	}

	engine, err := NewPlaybookEngine(path, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("new playbook engine: %v", err)
	}

	detail := models.GroupDetail{
		Group:       models.Group{Category: "Database"},
		ServiceName: "payment-api",
		RootCause:   models.RootCause{Cause: "connection pool exhausted"},
		Analysis:    models.AnalysisResult{Action: "Raise pool size"},
	}
	steps := engine.Steps(detail)
	want := []string{"Raise pool size", "Check connection pool", "Fail over to replica", "Page payments on-call"}
	if len(steps) != len(want) {
		t.Fatalf("expected %v, got %v", want, steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("step %d: expected %q, got %q", i, want[i], steps[i])
		}
	}
}

func TestPlaybookEngineDefaults(t *testing.T) {
	engine, err := NewPlaybookEngine("non-existent", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	steps := engine.Steps(models.GroupDetail{Group: models.Group{Category: "Network"}})
	if len(steps) != len(DefaultPlaybookSteps) {
		t.Fatalf("expected default steps, got %v", steps)
	}
}
