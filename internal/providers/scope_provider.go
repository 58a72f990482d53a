package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/models/entities"

	"github.com/jmoiron/sqlx"
)

// ScopeProvider answers tenancy questions owned by the site/device registry.
type ScopeProvider interface {
	// ValidScope reports whether the scope's site or device belongs to the tenant.
	ValidScope(ctx context.Context, tenantID int64, scope entities.Scope) (bool, error)

	// SiteOfDevice returns the site a device is installed at.
	SiteOfDevice(ctx context.Context, tenantID, deviceID int64) (int64, error)
}

// Visible reports whether a producer scoped at producer may be consumed by a
// point scoped at consumer. Global producers are visible everywhere, site
// producers to the site and its devices, device producers to the device.
func Visible(ctx context.Context, sp ScopeProvider, tenantID int64, producer, consumer entities.Scope) (bool, error) {
	switch producer.Type {
	case entities.ScopeGlobal:
		return true, nil
	case entities.ScopeSite:
		switch consumer.Type {
		case entities.ScopeSite:
			return sameID(producer.ID, consumer.ID), nil
		case entities.ScopeDevice:
			if producer.ID == nil || consumer.ID == nil {
				return false, nil
			}
			site, err := sp.SiteOfDevice(ctx, tenantID, *consumer.ID)
			if errors.Is(err, ErrScopeNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return site == *producer.ID, nil
		}
		return false, nil
	case entities.ScopeDevice:
		return consumer.Type == entities.ScopeDevice && sameID(producer.ID, consumer.ID), nil
	}
	return false, nil
}

func sameID(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

// SQLScopeProvider checks scopes against the sites and devices tables.
type SQLScopeProvider struct {
	db *sqlx.DB
}

var _ ScopeProvider = (*SQLScopeProvider)(nil)

func NewSQLScopeProvider(db *sqlx.DB) *SQLScopeProvider {
	return &SQLScopeProvider{db: db}
}

func (p *SQLScopeProvider) ValidScope(ctx context.Context, tenantID int64, scope entities.Scope) (bool, error) {
	switch scope.Type {
	case entities.ScopeGlobal:
		return true, nil
	case entities.ScopeSite:
		if scope.ID == nil {
			return false, nil
		}
		var id int64
		err := p.db.GetContext(ctx, &id, constants.GetSiteForTenant, *scope.ID, tenantID)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, unavailable("scope registry", err)
		}
		return true, nil
	case entities.ScopeDevice:
		if scope.ID == nil {
			return false, nil
		}
		_, err := p.SiteOfDevice(ctx, tenantID, *scope.ID)
		if errors.Is(err, ErrScopeNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	return false, nil
}

func (p *SQLScopeProvider) SiteOfDevice(ctx context.Context, tenantID, deviceID int64) (int64, error) {
	var siteID int64
	err := p.db.GetContext(ctx, &siteID, constants.GetDeviceSite, deviceID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, scopeNotFound("device", deviceID)
	}
	if err != nil {
		return 0, unavailable("scope registry", err)
	}
	return siteID, nil
}

// PermissiveScopeProvider accepts every well-formed scope. Device to site
// membership is taken from DeviceSites when present.
type PermissiveScopeProvider struct {
	DeviceSites map[int64]int64
}

var _ ScopeProvider = (*PermissiveScopeProvider)(nil)

func (p *PermissiveScopeProvider) ValidScope(ctx context.Context, tenantID int64, scope entities.Scope) (bool, error) {
	if scope.Type == entities.ScopeGlobal {
		return scope.ID == nil, nil
	}
	return scope.ID != nil && *scope.ID > 0, nil
}

func (p *PermissiveScopeProvider) SiteOfDevice(ctx context.Context, tenantID, deviceID int64) (int64, error) {
	if site, ok := p.DeviceSites[deviceID]; ok {
		return site, nil
	}
	return 0, scopeNotFound("device", deviceID)
}

func scopeNotFound(kind string, id int64) error {
	return &ProviderError{
		Code:    constants.ErrCodeScopeNotFound,
		Message: constants.GetErrorMessage(constants.ErrCodeScopeNotFound),
		Details: fmt.Sprintf("%s %d", kind, id),
	}
}
