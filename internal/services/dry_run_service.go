package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/expression"
	"pulseone/vpengine/internal/models/entities"
	"pulseone/vpengine/internal/resolver"
	"pulseone/vpengine/internal/workers"
)

// ScriptRequest describes an unsaved expression to validate or try out.
type ScriptRequest struct {
	Expression    string
	DataType      entities.DataType
	DecimalPlaces *int
	MinValue      *float64
	MaxValue      *float64
	Inputs        []entities.InputVariable
	Overrides     map[string]expression.Value
}

// DryRunResult reports a test evaluation. Runtime state is never touched.
type DryRunResult struct {
	Success    bool                        `json:"success"`
	Value      *expression.Value           `json:"value"`
	Error      *entities.CalcError         `json:"error,omitempty"`
	Inputs     map[string]expression.Value `json:"inputs,omitempty"`
	Validation expression.ValidationResult `json:"validation"`
	DurationMs float64                     `json:"duration_ms"`
}

// DryRunService parses, validates and evaluates expressions without
// scheduling anything.
type DryRunService struct {
	repo       *repositories.VirtualPointRepo
	calculator *workers.Calculator
	timeoutOf  func(*entities.VirtualPoint) time.Duration
}

func NewDryRunService(repo *repositories.VirtualPointRepo, scheduler *workers.Scheduler) *DryRunService {
	return &DryRunService{repo: repo, calculator: scheduler.Calculator(), timeoutOf: scheduler.TimeoutOf}
}

// Validate parses and validates an expression against the declared inputs.
func (s *DryRunService) Validate(req ScriptRequest) (*expression.ValidationResult, error) {
	def := scriptPoint(0, req)
	_, result, err := s.analyze(&def)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// TestScript evaluates an unsaved expression. Inputs without overrides are
// resolved from their sources as a real run would.
func (s *DryRunService) TestScript(ctx context.Context, tenantID int64, req ScriptRequest) (*DryRunResult, error) {
	def := scriptPoint(tenantID, req)
	return s.run(ctx, &def, req.Overrides)
}

// TestPoint evaluates a stored definition with optional sample inputs.
func (s *DryRunService) TestPoint(ctx context.Context, tenantID, id int64, overrides map[string]expression.Value) (*DryRunResult, error) {
	m, err := s.repo.GetByID(ctx, tenantID, id, false)
	if err != nil {
		return nil, internal(err)
	}
	if m == nil {
		return nil, notFound(id)
	}
	def := repositories.EntityFromModel(m)
	return s.run(ctx, &def, overrides)
}

func (s *DryRunService) run(ctx context.Context, def *entities.VirtualPoint, overrides map[string]expression.Value) (*DryRunResult, error) {
	root, validation, err := s.analyze(def)
	if err != nil {
		return nil, err
	}
	out := &DryRunResult{Validation: validation}
	if !validation.IsValid {
		return out, nil
	}

	// same budget as a real run, resolution included
	ctx, cancel := context.WithTimeout(ctx, s.timeoutOf(def))
	defer cancel()
	calc, err := s.calculator.Calculate(ctx, def, root, resolver.Context{TenantID: def.TenantID, Overrides: overrides})
	out.DurationMs = float64(calc.Duration.Microseconds()) / 1000
	out.Inputs = calc.Inputs
	if err != nil {
		out.Error = workers.Classify(err)
		return out, nil
	}
	v := calc.Value
	out.Value = &v
	out.Success = true
	return out, nil
}

func (s *DryRunService) analyze(def *entities.VirtualPoint) (expression.Node, expression.ValidationResult, error) {
	if strings.TrimSpace(def.Expression) == "" {
		ve := &ValidationError{Fields: []entities.FieldError{{Field: "expression", Message: "must not be empty"}}}
		return nil, expression.ValidationResult{}, validationFailed(ve)
	}
	if !def.DataType.Valid() {
		ve := &ValidationError{Fields: []entities.FieldError{{Field: "data_type", Message: "unknown data type " + string(def.DataType)}}}
		return nil, expression.ValidationResult{}, validationFailed(ve)
	}
	root, result, err := expression.Analyze(def.Expression, def.VariableKinds(), def.DataType.Kind())
	if err != nil {
		var perr *expression.ParseError
		if errors.As(err, &perr) {
			return nil, result, newServiceError(constants.ErrCodeParseFailed, perr, perr)
		}
		return nil, result, internal(err)
	}
	return root, result, nil
}

func scriptPoint(tenantID int64, req ScriptRequest) entities.VirtualPoint {
	dt := req.DataType
	if dt == "" {
		dt = entities.DataTypeNumber
	}
	return entities.VirtualPoint{
		TenantID:      tenantID,
		Name:          "script",
		DataType:      dt,
		DecimalPlaces: req.DecimalPlaces,
		MinValue:      req.MinValue,
		MaxValue:      req.MaxValue,
		Expression:    req.Expression,
		Inputs:        req.Inputs,
		Scope:         entities.Scope{Type: entities.ScopeGlobal},
		Trigger:       entities.TriggerManual,
		OnError:       entities.OnErrorPropagate,
	}
}
