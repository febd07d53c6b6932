package routing

import (
	catalog "github.com/haasonsaas/magi/internal/models"
	"github.com/haasonsaas/magi/pkg/models"
)

// BuildPoolsFromCatalog derives class pools from a models.Catalog,
// folding the teacher's richer model metadata (provider, tier,
// capability tags) into the class-routing scheme. Each class maps to a
// catalog filter; the resulting models keep the catalog's own ordering
// (provider, then tier, then name).
func BuildPoolsFromCatalog(cat *catalog.Catalog) map[models.ModelClass][]PoolEntry {
	pools := make(map[models.ModelClass][]PoolEntry)
	pools[models.ClassReasoning] = poolFor(cat, &catalog.Filter{RequiredCapabilities: []catalog.Capability{catalog.CapReasoning}})
	pools[models.ClassCode] = poolFor(cat, &catalog.Filter{RequiredCapabilities: []catalog.Capability{catalog.CapCode}})
	pools[models.ClassVision] = poolFor(cat, &catalog.Filter{RequiredCapabilities: []catalog.Capability{catalog.CapVision}})
	pools[models.ClassMini] = poolFor(cat, &catalog.Filter{Tiers: []catalog.Tier{catalog.TierMini, catalog.TierFast}})
	pools[models.ClassStandard] = poolFor(cat, &catalog.Filter{Tiers: []catalog.Tier{catalog.TierStandard, catalog.TierFlagship}})
	pools[models.ClassSummary] = pools[models.ClassMini]
	pools[models.ClassMonologue] = pools[models.ClassStandard]
	pools[models.ClassSearch] = poolFor(cat, &catalog.Filter{RequiredCapabilities: []catalog.Capability{catalog.CapLongContext}})
	// No image-generation capability tag exists in the catalog; approximate
	// with vision-capable models until a dedicated tag is added.
	pools[models.ClassImageGeneration] = poolFor(cat, &catalog.Filter{RequiredCapabilities: []catalog.Capability{catalog.CapVision}})
	return pools
}

func poolFor(cat *catalog.Catalog, filter *catalog.Filter) []PoolEntry {
	var out []PoolEntry
	for _, m := range cat.List(filter) {
		out = append(out, PoolEntry{Provider: string(m.Provider), Model: m.ID})
	}
	return out
}
