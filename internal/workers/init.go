package workers

import (
	"context"
	"fmt"

	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/logging"
	gormModels "pulseone/vpengine/internal/models/gorm"
)

// DefinitionSource lists every live definition at startup.
type DefinitionSource interface {
	ListSchedulable(ctx context.Context) ([]gormModels.VirtualPoint, error)
}

// LoadScheduler registers every persisted point with s, seeding each with
// its persisted runtime state. Definitions that no longer parse or would
// close a cycle are skipped and logged; the rest still load.
func LoadScheduler(ctx context.Context, src DefinitionSource, s *Scheduler) (int, error) {
	rows, err := src.ListSchedulable(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for i := range rows {
		def := repositories.EntityFromModel(&rows[i])
		state := repositories.RuntimeFromModel(&rows[i])
		if err := s.Register(def, state); err != nil {
			logging.Error("Skipping virtual point that cannot be scheduled",
				"point_id", def.ID,
				"tenant_id", def.TenantID,
				"error", err,
			)
			continue
		}
		loaded++
	}
	logging.Info("Loaded virtual points", "loaded", loaded, "total", len(rows))
	if loaded < len(rows) {
		return loaded, fmt.Errorf("%d of %d virtual points could not be scheduled", len(rows)-loaded, len(rows))
	}
	return loaded, nil
}
