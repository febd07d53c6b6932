package routing

import (
	"testing"

	catalog "github.com/haasonsaas/magi/internal/models"
	"github.com/haasonsaas/magi/pkg/models"
)

func TestBuildPoolsFromCatalog_PopulatesKnownClasses(t *testing.T) {
	pools := BuildPoolsFromCatalog(catalog.NewCatalog())

	for _, class := range []models.ModelClass{
		models.ClassReasoning,
		models.ClassCode,
		models.ClassStandard,
		models.ClassMini,
	} {
		if len(pools[class]) == 0 {
			t.Fatalf("expected at least one candidate for class %q", class)
		}
	}
}

func TestBuildPoolsFromCatalog_CandidatesCarryProviderAndModel(t *testing.T) {
	pools := BuildPoolsFromCatalog(catalog.NewCatalog())
	for _, cand := range pools[models.ClassStandard] {
		if cand.Provider == "" || cand.Model == "" {
			t.Fatalf("expected every candidate to carry provider and model, got %+v", cand)
		}
	}
}
