package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/graph"
	"pulseone/vpengine/internal/logging"
	"pulseone/vpengine/internal/models/entities"
	gormModels "pulseone/vpengine/internal/models/gorm"
	"pulseone/vpengine/internal/providers"
	"pulseone/vpengine/internal/workers"

	gormlib "gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// VirtualPointView is a definition together with its runtime state.
type VirtualPointView struct {
	entities.VirtualPoint
	Runtime entities.RuntimeState `json:"runtime"`
}

// Page is one page of List results.
type Page struct {
	Items      []VirtualPointView `json:"items"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	Total      int64              `json:"total"`
	TotalPages int                `json:"total_pages"`
}

// ExecutionResult is the outcome of a manual run. A failed calculation is
// not a Go error: the raw failure is reported in Error.
type ExecutionResult struct {
	PointID    int64                 `json:"point_id"`
	RunID      string                `json:"run_id"`
	Success    bool                  `json:"success"`
	Value      *expression.Value     `json:"value"`
	Error      *entities.CalcError   `json:"error,omitempty"`
	DurationMs float64               `json:"duration_ms"`
	ExecutedAt time.Time             `json:"executed_at"`
	Runtime    entities.RuntimeState `json:"runtime"`
}

// VirtualPointService manages definitions and keeps the scheduler in step
// with the database. Definition writes are serialized so the cycle check and
// the graph update see the same graph.
type VirtualPointService struct {
	repo      *repositories.VirtualPointRepo
	scheduler *workers.Scheduler
	scopes    providers.ScopeProvider
	templates *TemplateService

	mu sync.Mutex
}

// NewVirtualPointService wires the service. templates may be nil, in which
// case template links on new points are dropped.
func NewVirtualPointService(repo *repositories.VirtualPointRepo, scheduler *workers.Scheduler, scopes providers.ScopeProvider, templates *TemplateService) *VirtualPointService {
	return &VirtualPointService{
		repo:      repo,
		scheduler: scheduler,
		scopes:    scopes,
		templates: templates,
	}
}

// Create validates and stores a new definition, then schedules it.
func (s *VirtualPointService) Create(ctx context.Context, tenantID int64, vp entities.VirtualPoint) (*VirtualPointView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vp.ID = 0
	vp.TenantID = tenantID
	normalize(&vp)
	if err := s.checkTemplate(ctx, &vp); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, &vp); err != nil {
		return nil, err
	}

	m := repositories.ModelFromEntity(&vp)
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, internal(err)
	}
	def := repositories.EntityFromModel(m)
	if err := s.scheduler.Register(def, entities.RuntimeState{}); err != nil {
		// the database and graph disagree; undo the insert
		if _, derr := s.repo.SoftDelete(ctx, tenantID, def.ID); derr != nil {
			logging.Error("Failed to roll back unschedulable virtual point", "point_id", def.ID, "error", derr)
		}
		return nil, s.classifyRegisterError(err)
	}

	if def.TemplateID != nil {
		s.templates.RecordUsage(ctx, tenantID, *def.TemplateID, def.ID)
	}

	logging.Info("Virtual point created", "point_id", def.ID, "tenant_id", tenantID, "trigger", def.Trigger)
	return s.view(&def, m), nil
}

// checkTemplate verifies the template a new point claims to come from.
func (s *VirtualPointService) checkTemplate(ctx context.Context, vp *entities.VirtualPoint) error {
	if vp.TemplateID == nil {
		return nil
	}
	if s.templates == nil {
		vp.TemplateID = nil
		return nil
	}
	ok, err := s.templates.Visible(ctx, vp.TenantID, *vp.TemplateID)
	if err != nil {
		return internal(err)
	}
	if !ok {
		return validationFailed(&ValidationError{Fields: []entities.FieldError{
			{Field: "template_id", Message: fmt.Sprintf("formula template %d does not exist", *vp.TemplateID)},
		}})
	}
	return nil
}

// Update replaces a definition. Runtime state carries over.
func (s *VirtualPointService) Update(ctx context.Context, tenantID, id int64, vp entities.VirtualPoint) (*VirtualPointView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.GetByID(ctx, tenantID, id, false)
	if err != nil {
		return nil, internal(err)
	}
	if existing == nil {
		return nil, notFound(id)
	}

	vp.ID = id
	vp.TenantID = tenantID
	normalize(&vp)
	if err := s.validate(ctx, &vp); err != nil {
		return nil, err
	}

	m := repositories.ModelFromEntity(&vp)
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, internal(err)
	}
	fresh, err := s.repo.GetByID(ctx, tenantID, id, false)
	if err != nil || fresh == nil {
		return nil, internal(fmt.Errorf("reload virtual point %d: %v", id, err))
	}
	def := repositories.EntityFromModel(fresh)
	if err := s.scheduler.Register(def, repositories.RuntimeFromModel(fresh)); err != nil {
		return nil, s.classifyRegisterError(err)
	}

	logging.Info("Virtual point updated", "point_id", id, "tenant_id", tenantID)
	return s.view(&def, fresh), nil
}

// Get returns a live definition with its current runtime state.
func (s *VirtualPointService) Get(ctx context.Context, tenantID, id int64) (*VirtualPointView, error) {
	m, err := s.repo.GetByID(ctx, tenantID, id, false)
	if err != nil {
		return nil, internal(err)
	}
	if m == nil {
		return nil, notFound(id)
	}
	def := repositories.EntityFromModel(m)
	return s.view(&def, m), nil
}

// List returns one page of definitions. Page defaults to 1 and limit to 20
// (max 100).
func (s *VirtualPointService) List(ctx context.Context, tenantID int64, f repositories.ListFilter) (*Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}

	rows, total, err := s.repo.List(ctx, tenantID, f)
	if err != nil {
		return nil, internal(err)
	}
	items := make([]VirtualPointView, 0, len(rows))
	for i := range rows {
		def := repositories.EntityFromModel(&rows[i])
		items = append(items, *s.view(&def, &rows[i]))
	}
	return &Page{
		Items:      items,
		Page:       f.Page,
		Limit:      f.Limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(f.Limit))),
	}, nil
}

// Delete soft-deletes a point. Points that live consumers still read cannot
// be deleted.
func (s *VirtualPointService) Delete(ctx context.Context, tenantID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.repo.GetByID(ctx, tenantID, id, false)
	if err != nil {
		return internal(err)
	}
	if m == nil {
		return notFound(id)
	}
	consumers, err := s.repo.LiveConsumers(ctx, id)
	if err != nil {
		return internal(err)
	}
	if len(consumers) > 0 {
		return newServiceError(constants.ErrCodeHasDependents,
			map[string][]int64{"consumers": consumers},
			fmt.Errorf("virtual point %d is read by %v: %w", id, consumers, ErrConflict))
	}

	if _, err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		return internal(err)
	}
	s.scheduler.Unregister(id)
	logging.Info("Virtual point deleted", "point_id", id, "tenant_id", tenantID)
	return nil
}

// Restore brings back a soft-deleted point. Its producers must still exist
// and the graph must stay acyclic.
func (s *VirtualPointService) Restore(ctx context.Context, tenantID, id int64) (*VirtualPointView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.repo.GetByID(ctx, tenantID, id, true)
	if err != nil {
		return nil, internal(err)
	}
	if m == nil {
		return nil, notFound(id)
	}
	def := repositories.EntityFromModel(m)
	if !def.IsDeleted() {
		return s.view(&def, m), nil
	}
	def.DeletedAt = nil

	if err := s.checkReferences(ctx, &def); err != nil {
		return nil, err
	}
	if err := s.checkName(ctx, &def); err != nil {
		return nil, err
	}
	if err := s.scheduler.Graph().Check(id, def.ProducerIDs()); err != nil {
		return nil, s.classifyRegisterError(err)
	}

	if _, err := s.repo.Restore(ctx, tenantID, id); err != nil {
		return nil, internal(err)
	}
	m.DeletedAt = gormlib.DeletedAt{}
	if err := s.scheduler.Register(def, repositories.RuntimeFromModel(m)); err != nil {
		return nil, s.classifyRegisterError(err)
	}
	logging.Info("Virtual point restored", "point_id", id, "tenant_id", tenantID)
	return s.view(&def, m), nil
}

// Toggle flips IsEnabled.
func (s *VirtualPointService) Toggle(ctx context.Context, tenantID, id int64) (*VirtualPointView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.repo.GetByID(ctx, tenantID, id, false)
	if err != nil {
		return nil, internal(err)
	}
	if m == nil {
		return nil, notFound(id)
	}
	enabled := !m.IsEnabled
	if err := s.repo.SetEnabled(ctx, tenantID, id, enabled); err != nil {
		return nil, internal(err)
	}
	m.IsEnabled = enabled
	def := repositories.EntityFromModel(m)

	if err := s.scheduler.SetEnabled(id, enabled); errors.Is(err, workers.ErrUnknownPoint) {
		if err := s.scheduler.Register(def, repositories.RuntimeFromModel(m)); err != nil {
			return nil, s.classifyRegisterError(err)
		}
	}
	logging.Info("Virtual point toggled", "point_id", id, "tenant_id", tenantID, "enabled", enabled)
	return s.view(&def, m), nil
}

// Execute runs a point now and waits for the result.
func (s *VirtualPointService) Execute(ctx context.Context, tenantID, id int64) (*ExecutionResult, error) {
	m, err := s.repo.GetByID(ctx, tenantID, id, false)
	if err != nil {
		return nil, internal(err)
	}
	if m == nil {
		return nil, notFound(id)
	}

	out, err := s.scheduler.Execute(ctx, id)
	switch {
	case errors.Is(err, workers.ErrPointDisabled):
		return nil, newServiceError(constants.ErrCodePointDisabled, nil, fmt.Errorf("%w: %v", ErrConflict, err))
	case errors.Is(err, workers.ErrSchedulerStopped):
		return nil, newServiceError(constants.ErrCodeSchedulerStopped, nil, err)
	case errors.Is(err, workers.ErrUnknownPoint):
		return nil, internal(err)
	}

	calcErr := out.CalcError
	if out.RunID == "" && err != nil {
		// failed before the run started, e.g. waiting for the in-flight run
		calcErr = workers.Classify(err)
		out.State, _ = s.scheduler.State(id)
	}
	return &ExecutionResult{
		PointID:    id,
		RunID:      out.RunID,
		Success:    calcErr == nil,
		Value:      out.Value,
		Error:      calcErr,
		DurationMs: float64(out.Duration.Microseconds()) / 1000,
		ExecutedAt: out.ExecutedAt,
		Runtime:    out.State,
	}, nil
}

func (s *VirtualPointService) view(def *entities.VirtualPoint, m *gormModels.VirtualPoint) *VirtualPointView {
	state, ok := s.scheduler.State(def.ID)
	if !ok {
		state = repositories.RuntimeFromModel(m)
	}
	return &VirtualPointView{VirtualPoint: *def, Runtime: state}
}

func normalize(vp *entities.VirtualPoint) {
	vp.Name = strings.TrimSpace(vp.Name)
	vp.Category = strings.TrimSpace(vp.Category)
	if vp.Tags == nil {
		vp.Tags = []string{}
	}
	if vp.OnError == "" {
		vp.OnError = entities.OnErrorPropagate
	}
	if vp.Trigger != entities.TriggerPeriodic {
		vp.IntervalMs = 0
	}
	vp.DeletedAt = nil
}

// validate runs every definition check in order: structural rules, the
// expression, scope, producer references, cycles and the name.
func (s *VirtualPointService) validate(ctx context.Context, vp *entities.VirtualPoint) error {
	ve := &ValidationError{Fields: vp.Validate()}

	if strings.TrimSpace(vp.Expression) != "" {
		_, result, err := expression.Analyze(vp.Expression, vp.VariableKinds(), vp.DataType.Kind())
		if err != nil {
			var perr *expression.ParseError
			if errors.As(err, &perr) {
				return newServiceError(constants.ErrCodeParseFailed, perr, perr)
			}
			return internal(err)
		}
		ve.Expression = &result
	}
	if !ve.empty() {
		return validationFailed(ve)
	}

	if err := s.checkReferences(ctx, vp); err != nil {
		return err
	}
	if err := s.scheduler.Graph().Check(vp.ID, vp.ProducerIDs()); err != nil {
		return s.classifyRegisterError(err)
	}
	return s.checkName(ctx, vp)
}

// checkReferences verifies the scope exists for the tenant and that every
// producer is a live point visible from vp's scope.
func (s *VirtualPointService) checkReferences(ctx context.Context, vp *entities.VirtualPoint) error {
	ok, err := s.scopes.ValidScope(ctx, vp.TenantID, vp.Scope)
	if err != nil {
		return internal(err)
	}
	if !ok {
		return newServiceError(constants.ErrCodeInvalidScope,
			entities.FieldError{Field: "scope", Message: "scope does not exist for this tenant"},
			fmt.Errorf("scope %s %v not found", vp.Scope.Type, vp.Scope.ID))
	}

	producers, err := s.repo.GetByIDs(ctx, vp.TenantID, vp.ProducerIDs())
	if err != nil {
		return internal(err)
	}
	ve := &ValidationError{}
	for i, in := range vp.Inputs {
		if in.Source.Type != entities.SourceVirtualPoint {
			continue
		}
		field := fmt.Sprintf("inputs[%d].source.point_id", i)
		p, ok := producers[in.Source.PointID]
		if !ok {
			ve.Fields = append(ve.Fields, entities.FieldError{Field: field, Message: fmt.Sprintf("virtual point %d does not exist", in.Source.PointID)})
			continue
		}
		producerScope := entities.Scope{Type: entities.ScopeType(p.ScopeType), ID: p.ScopeID}
		visible, err := providers.Visible(ctx, s.scopes, vp.TenantID, producerScope, vp.Scope)
		if err != nil {
			return internal(err)
		}
		if !visible {
			return newServiceError(constants.ErrCodeInvalidScope,
				entities.FieldError{Field: field, Message: fmt.Sprintf("virtual point %d is not visible from this scope", p.ID)},
				fmt.Errorf("producer %d not visible", p.ID))
		}
	}
	if len(ve.Fields) > 0 {
		return validationFailed(ve)
	}
	return nil
}

func (s *VirtualPointService) checkName(ctx context.Context, vp *entities.VirtualPoint) error {
	taken, err := s.repo.NameTaken(ctx, vp.TenantID, vp.Scope, vp.Name, vp.ID)
	if err != nil {
		return internal(err)
	}
	if taken {
		return newServiceError(constants.ErrCodeNameConflict,
			entities.FieldError{Field: "name", Message: fmt.Sprintf("%q is already used in this scope", vp.Name)},
			ErrConflict)
	}
	return nil
}

func (s *VirtualPointService) classifyRegisterError(err error) error {
	var cerr *graph.CyclicDependencyError
	if errors.As(err, &cerr) {
		return newServiceError(constants.ErrCodeCyclicDependency, cerr, fmt.Errorf("%w: %v", ErrConflict, cerr))
	}
	var perr *expression.ParseError
	if errors.As(err, &perr) {
		return newServiceError(constants.ErrCodeParseFailed, perr, perr)
	}
	return internal(err)
}
