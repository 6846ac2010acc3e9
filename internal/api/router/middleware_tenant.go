package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/tenancy"
)

// requireTenantID moves the {tenantID} path parameter into the request
// context for tenant-scoped admin routes.
func requireTenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
		if tenantID == "" {
			http.Error(w, "missing tenant id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithTenantID(r.Context(), tenantID)))
	})
}
