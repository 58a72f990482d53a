package api

import (
	"time"

	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/providers"
	"pulseone/vpengine/internal/services"
	"pulseone/vpengine/internal/workers"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Repositories struct {
	Points     *repositories.VirtualPointRepo
	Executions *repositories.ExecutionRepo
	Templates  *repositories.FormulaTemplateRepo
}

type Services struct {
	Points    *services.VirtualPointService
	DryRun    *services.DryRunService
	Stats     *services.StatsService
	Templates *services.TemplateService
}

// Dependencies is everything the HTTP layer needs. TelemetryDB and Redis are
// optional and only reported by the health check when set.
type Dependencies struct {
	Repo      *Repositories
	Services  *Services
	Scheduler *workers.Scheduler

	ORM         *gorm.DB
	TelemetryDB *sqlx.DB
	Redis       redis.UniversalClient
	UpSince     time.Time
}

func InitDependencies(orm *gorm.DB, scheduler *workers.Scheduler, scopes providers.ScopeProvider) *Dependencies {
	repos := &Repositories{
		Points:     repositories.NewVirtualPointRepo(orm),
		Executions: repositories.NewExecutionRepo(orm),
		Templates:  repositories.NewFormulaTemplateRepo(orm),
	}

	templates := services.NewTemplateService(repos.Templates)
	svcs := &Services{
		Points:    services.NewVirtualPointService(repos.Points, scheduler, scopes, templates),
		DryRun:    services.NewDryRunService(repos.Points, scheduler),
		Stats:     services.NewStatsService(repos.Points, repos.Executions),
		Templates: templates,
	}

	return &Dependencies{
		Repo:      repos,
		Services:  svcs,
		Scheduler: scheduler,
		ORM:       orm,
		UpSince:   time.Now(),
	}
}
