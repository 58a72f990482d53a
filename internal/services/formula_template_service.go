package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/logging"
	"pulseone/vpengine/internal/models/entities"

	gormlib "gorm.io/gorm"
)

// GenerateRequest fills a template's placeholders. DataType defaults to the
// template's own; Inputs are the variables the generated expression is
// checked against.
type GenerateRequest struct {
	Values   map[string]string
	DataType entities.DataType
	Inputs   []entities.InputVariable
}

// GenerateResult is a rendered expression plus its validation.
type GenerateResult struct {
	TemplateID int64                       `json:"template_id"`
	Expression string                      `json:"expression"`
	DataType   entities.DataType           `json:"data_type"`
	Validation expression.ValidationResult `json:"validation"`
}

// TemplateService manages the formula template library. System templates
// are shared by every tenant and cannot be edited through it.
type TemplateService struct {
	repo *repositories.FormulaTemplateRepo
	now  func() time.Time
}

func NewTemplateService(repo *repositories.FormulaTemplateRepo) *TemplateService {
	return &TemplateService{repo: repo, now: time.Now}
}

func (s *TemplateService) List(ctx context.Context, tenantID int64, f repositories.TemplateFilter) ([]entities.FormulaTemplate, error) {
	out, err := s.repo.List(ctx, tenantID, f)
	if err != nil {
		return nil, internal(err)
	}
	return out, nil
}

func (s *TemplateService) Get(ctx context.Context, tenantID, id int64) (*entities.FormulaTemplate, error) {
	t, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, internal(err)
	}
	if t == nil {
		return nil, templateNotFound(id)
	}
	return t, nil
}

func (s *TemplateService) Create(ctx context.Context, tenantID int64, t entities.FormulaTemplate) (*entities.FormulaTemplate, error) {
	t.ID = 0
	t.TenantID = tenantID
	t.IsSystem = false
	t.UsageCount = 0
	t.LastUsedAt = nil
	normalizeTemplate(&t)
	if err := s.check(ctx, &t); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &t); err != nil {
		return nil, internal(err)
	}
	logging.Info("Formula template created", "template_id", t.ID, "tenant_id", tenantID, "name", t.Name)
	return &t, nil
}

// Update replaces a tenant-owned template. Usage counters are kept.
func (s *TemplateService) Update(ctx context.Context, tenantID, id int64, t entities.FormulaTemplate) (*entities.FormulaTemplate, error) {
	existing, err := s.writable(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	t.ID = id
	t.TenantID = tenantID
	t.IsSystem = false
	t.UsageCount = existing.UsageCount
	t.LastUsedAt = existing.LastUsedAt
	t.CreatedAt = existing.CreatedAt
	normalizeTemplate(&t)
	if err := s.check(ctx, &t); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &t); err != nil {
		if errors.Is(err, gormlib.ErrRecordNotFound) {
			return nil, templateNotFound(id)
		}
		return nil, internal(err)
	}
	logging.Info("Formula template updated", "template_id", id, "tenant_id", tenantID)
	return &t, nil
}

// Delete soft-deletes a tenant-owned template. Points created from it keep
// their expressions.
func (s *TemplateService) Delete(ctx context.Context, tenantID, id int64) error {
	if _, err := s.writable(ctx, tenantID, id); err != nil {
		return err
	}
	ok, err := s.repo.Delete(ctx, tenantID, id)
	if err != nil {
		return internal(err)
	}
	if !ok {
		return templateNotFound(id)
	}
	logging.Info("Formula template deleted", "template_id", id, "tenant_id", tenantID)
	return nil
}

// Generate substitutes the placeholders and validates the resulting
// expression. An invalid result is reported in Validation, not as an error.
func (s *TemplateService) Generate(ctx context.Context, tenantID, id int64, req GenerateRequest) (*GenerateResult, error) {
	t, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	dt := req.DataType
	if dt == "" {
		dt = t.DataType
	}
	if !dt.Valid() {
		ve := &ValidationError{Fields: []entities.FieldError{{Field: "data_type", Message: "unknown data type " + string(dt)}}}
		return nil, validationFailed(ve)
	}

	src, fieldErrs := t.Render(req.Values)
	if len(fieldErrs) > 0 {
		return nil, validationFailed(&ValidationError{Fields: fieldErrs})
	}

	scratch := entities.VirtualPoint{Inputs: req.Inputs}
	_, result, err := expression.Analyze(src, scratch.VariableKinds(), dt.Kind())
	if err != nil {
		var perr *expression.ParseError
		if errors.As(err, &perr) {
			return nil, newServiceError(constants.ErrCodeParseFailed, perr, perr)
		}
		return nil, internal(err)
	}
	return &GenerateResult{TemplateID: t.ID, Expression: src, DataType: dt, Validation: result}, nil
}

// RecordUsage notes that point was created from the template. Failures are
// logged; the point itself is already stored.
func (s *TemplateService) RecordUsage(ctx context.Context, tenantID, templateID, pointID int64) {
	if err := s.repo.RecordUsage(ctx, tenantID, templateID, pointID, s.now()); err != nil {
		logging.Warn("Failed to record template usage", "template_id", templateID, "point_id", pointID, "error", err)
	}
}

// Visible reports whether the tenant may use the template.
func (s *TemplateService) Visible(ctx context.Context, tenantID, id int64) (bool, error) {
	t, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return false, err
	}
	return t != nil, nil
}

// Usage returns the ids of the tenant's points created from the template.
func (s *TemplateService) Usage(ctx context.Context, tenantID, id int64) ([]int64, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	ids, err := s.repo.UsedBy(ctx, tenantID, id)
	if err != nil {
		return nil, internal(err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// SeedSystemTemplates inserts the built-in templates that are missing.
func (s *TemplateService) SeedSystemTemplates(ctx context.Context) error {
	created := 0
	for _, t := range SystemTemplates() {
		ok, err := s.repo.EnsureSystem(ctx, t)
		if err != nil {
			return fmt.Errorf("seed template %q: %w", t.Name, err)
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		logging.Info("Seeded system formula templates", "count", created)
	}
	return nil
}

func (s *TemplateService) writable(ctx context.Context, tenantID, id int64) (*entities.FormulaTemplate, error) {
	t, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if t.IsSystem || t.TenantID != tenantID {
		return nil, newServiceError(constants.ErrCodeReadOnly, map[string]int64{"template_id": id},
			fmt.Errorf("formula template %d is a system template: %w", id, ErrConflict))
	}
	return t, nil
}

// check validates structure, then makes sure the skeleton parses, then
// checks the name.
func (s *TemplateService) check(ctx context.Context, t *entities.FormulaTemplate) error {
	if fields := t.Validate(); len(fields) > 0 {
		return validationFailed(&ValidationError{Fields: fields})
	}
	if _, err := expression.Parse(t.Skeleton()); err != nil {
		var perr *expression.ParseError
		if errors.As(err, &perr) {
			return newServiceError(constants.ErrCodeParseFailed, perr, perr)
		}
		return internal(err)
	}
	taken, err := s.repo.NameTaken(ctx, t.TenantID, t.Name, t.ID)
	if err != nil {
		return internal(err)
	}
	if taken {
		return newServiceError(constants.ErrCodeNameConflict,
			entities.FieldError{Field: "name", Message: "a template with this name already exists"},
			fmt.Errorf("template name %q: %w", t.Name, ErrConflict))
	}
	return nil
}

func normalizeTemplate(t *entities.FormulaTemplate) {
	t.Name = strings.TrimSpace(t.Name)
	t.Category = strings.TrimSpace(t.Category)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Parameters == nil {
		t.Parameters = []entities.TemplateParameter{}
	}
	if t.DataType == "" {
		t.DataType = entities.DataTypeNumber
	}
}

func strPtr(s string) *string { return &s }

// SystemTemplates lists the built-in templates.
func SystemTemplates() []entities.FormulaTemplate {
	return []entities.FormulaTemplate{
		{
			Name:        "Active power (kW)",
			Description: "Power from voltage and current",
			Category:    "electrical",
			Tags:        []string{"power", "energy"},
			Expression:  "{{voltage}} * {{current}} / 1000",
			Parameters: []entities.TemplateParameter{
				{Name: "voltage", Description: "Voltage variable (V)"},
				{Name: "current", Description: "Current variable (A)"},
			},
			DataType: entities.DataTypeNumber,
		},
		{
			Name:        "Three-phase power (kW)",
			Description: "Balanced three-phase power with power factor",
			Category:    "electrical",
			Tags:        []string{"power", "three-phase"},
			Expression:  "SQRT(3) * {{voltage}} * {{current}} * {{power_factor}} / 1000",
			Parameters: []entities.TemplateParameter{
				{Name: "voltage", Description: "Line voltage variable (V)"},
				{Name: "current", Description: "Line current variable (A)"},
				{Name: "power_factor", Description: "Power factor variable or constant", Default: strPtr("0.9")},
			},
			DataType: entities.DataTypeNumber,
		},
		{
			Name:        "Efficiency (%)",
			Description: "Output over input as a percentage",
			Category:    "performance",
			Tags:        []string{"efficiency"},
			Expression:  "IF({{input}} > 0, {{output}} / {{input}} * 100, 0)",
			Parameters: []entities.TemplateParameter{
				{Name: "output", Description: "Output variable"},
				{Name: "input", Description: "Input variable"},
			},
			DataType: entities.DataTypeNumber,
		},
		{
			Name:        "Average of two",
			Description: "Mean of two readings",
			Category:    "statistics",
			Tags:        []string{"average"},
			Expression:  "AVG({{first}}, {{second}})",
			Parameters: []entities.TemplateParameter{
				{Name: "first", Description: "First variable"},
				{Name: "second", Description: "Second variable"},
			},
			DataType: entities.DataTypeNumber,
		},
		{
			Name:        "High threshold",
			Description: "True while a reading is above a limit",
			Category:    "alarm",
			Tags:        []string{"threshold", "alarm"},
			Expression:  "{{value}} > {{limit}}",
			Parameters: []entities.TemplateParameter{
				{Name: "value", Description: "Monitored variable"},
				{Name: "limit", Description: "Threshold", Default: strPtr("100")},
			},
			DataType: entities.DataTypeBoolean,
		},
	}
}
