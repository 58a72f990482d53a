package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulseone/vpengine/internal/common"
	"pulseone/vpengine/internal/constants"
	reqctx "pulseone/vpengine/internal/context"
)

// TenantMiddleware resolves the tenant from the X-Tenant-Id header, falling
// back to defaultTenant when the header is absent.
func TenantMiddleware(defaultTenant int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := defaultTenant
			if raw := strings.TrimSpace(r.Header.Get(constants.HeaderTenantID)); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || id < 1 {
					common.RespondError(w, time.Now(), http.StatusBadRequest, constants.ErrCodeInvalidRequest,
						"X-Tenant-Id must be a positive integer", nil)
					return
				}
				tenantID = id
			}
			next.ServeHTTP(w, r.WithContext(reqctx.SetTenantID(r.Context(), tenantID)))
		})
	}
}
