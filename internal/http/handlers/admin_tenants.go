package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	httpmiddleware "github.com/wolfman30/clinic-whatsapp-ai/internal/http/middleware"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/tenancy"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// TenantStore provisions and reads tenant configuration.
type TenantStore interface {
	UpsertTenant(ctx context.Context, t clinic.Tenant) error
	TenantByID(ctx context.Context, tenantID string) (*clinic.Tenant, error)
}

// AdminTenantsHandler provisions clinics.
type AdminTenantsHandler struct {
	store  TenantStore
	logger *logging.Logger
}

func NewAdminTenantsHandler(store TenantStore, logger *logging.Logger) *AdminTenantsHandler {
	if store == nil {
		panic("handlers: tenant store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminTenantsHandler{store: store, logger: logger}
}

// TemplateRequest names the approved reminder template.
type TemplateRequest struct {
	Name     string `json:"name" validate:"required"`
	Language string `json:"language" validate:"required"`
}

// TenantRequest is the provisioning payload.
type TenantRequest struct {
	ID                string          `json:"id" validate:"required,max=64"`
	ClinicName        string          `json:"clinic_name" validate:"required,max=200"`
	NumberID          string          `json:"number_id" validate:"required,numeric"`
	PhoneNumber       string          `json:"phone_number" validate:"omitempty,e164"`
	Prompt            string          `json:"prompt" validate:"max=8000"`
	Settings          map[string]any  `json:"settings"`
	ReminderTemplate  TemplateRequest `json:"reminder_template"`
	NotificationEmail string          `json:"notification_email" validate:"omitempty,email"`
}

func (req TenantRequest) tenant() clinic.Tenant {
	return clinic.Tenant{
		ID:              strings.TrimSpace(req.ID),
		ClinicName:      strings.TrimSpace(req.ClinicName),
		NumberID:        req.NumberID,
		PhoneNormalized: clinic.NormalizePhone(req.PhoneNumber),
		Settings:        req.Settings,
		Prompt:          strings.TrimSpace(req.Prompt),
		ReminderTemplate: clinic.TemplateRef{
			Name:     strings.TrimSpace(req.ReminderTemplate.Name),
			Language: strings.TrimSpace(req.ReminderTemplate.Language),
		},
		NotificationEmail: strings.TrimSpace(req.NotificationEmail),
	}
}

// Upsert creates or replaces a tenant. The reminder template is checked
// against WhatsApp naming rules before anything is written.
// Route: POST /admin/tenants
func (h *AdminTenantsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req TenantRequest
	if err := decodeAndValidate(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tenant := req.tenant()
	if err := tenant.ReminderTemplate.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.UpsertTenant(r.Context(), tenant); err != nil {
		h.logger.Error("tenant upsert failed", "tenant_id", tenant.ID, "error", err)
		jsonError(w, "tenant upsert failed", http.StatusInternalServerError)
		return
	}
	h.logger.Info("tenant provisioned", "tenant_id", tenant.ID, "number_id", tenant.NumberID, "actor", httpmiddleware.AdminSubject(r.Context()))
	writeJSON(w, http.StatusCreated, tenant)
}

// Get returns the tenant named in the request context.
// Route: GET /admin/tenants/{tenantID}
func (h *AdminTenantsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		jsonError(w, "missing tenant id", http.StatusBadRequest)
		return
	}
	tenant, err := h.store.TenantByID(r.Context(), tenantID)
	if errors.Is(err, clinic.ErrNotFound) {
		jsonError(w, "tenant not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("tenant lookup failed", "tenant_id", tenantID, "error", err)
		jsonError(w, "tenant lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}
