package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/handoff"
	httpmiddleware "github.com/wolfman30/clinic-whatsapp-ai/internal/http/middleware"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// AdminPausesHandler lets operators pause and resume the bot for a sender
// without going through the support inbox.
type AdminPausesHandler struct {
	registry handoff.Registry
	logger   *logging.Logger
}

func NewAdminPausesHandler(registry handoff.Registry, logger *logging.Logger) *AdminPausesHandler {
	if registry == nil {
		panic("handlers: pause registry required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminPausesHandler{registry: registry, logger: logger}
}

// PauseStatus is the response body of every pause route.
type PauseStatus struct {
	Phone  string `json:"phone"`
	Paused bool   `json:"paused"`
}

func (h *AdminPausesHandler) phoneParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	phone := clinic.NormalizePhone(chi.URLParam(r, "phone"))
	if err := validate.Var(phone, "required,min=8,max=15"); err != nil {
		jsonError(w, "phone must have 8 to 15 digits", http.StatusBadRequest)
		return "", false
	}
	return phone, true
}

// Get reports whether the sender is paused.
// Route: GET /admin/pauses/{phone}
func (h *AdminPausesHandler) Get(w http.ResponseWriter, r *http.Request) {
	phone, ok := h.phoneParam(w, r)
	if !ok {
		return
	}
	paused, err := h.registry.IsPaused(r.Context(), phone)
	if err != nil {
		h.logger.Error("pause lookup failed", "phone", logging.MaskPhone(phone), "error", err)
		jsonError(w, "pause lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, PauseStatus{Phone: phone, Paused: paused})
}

// Put pauses the bot for the sender.
// Route: PUT /admin/pauses/{phone}
func (h *AdminPausesHandler) Put(w http.ResponseWriter, r *http.Request) {
	phone, ok := h.phoneParam(w, r)
	if !ok {
		return
	}
	if err := h.registry.Pause(r.Context(), phone); err != nil {
		h.logger.Error("pause failed", "phone", logging.MaskPhone(phone), "error", err)
		jsonError(w, "pause failed", http.StatusInternalServerError)
		return
	}
	h.logger.Info("sender paused by admin", "phone", logging.MaskPhone(phone), "actor", httpmiddleware.AdminSubject(r.Context()))
	writeJSON(w, http.StatusOK, PauseStatus{Phone: phone, Paused: true})
}

// Delete resumes the bot for the sender. Resuming an active sender is a no-op.
// Route: DELETE /admin/pauses/{phone}
func (h *AdminPausesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	phone, ok := h.phoneParam(w, r)
	if !ok {
		return
	}
	if err := h.registry.Resume(r.Context(), phone); err != nil {
		h.logger.Error("resume failed", "phone", logging.MaskPhone(phone), "error", err)
		jsonError(w, "resume failed", http.StatusInternalServerError)
		return
	}
	h.logger.Info("sender resumed by admin", "phone", logging.MaskPhone(phone), "actor", httpmiddleware.AdminSubject(r.Context()))
	writeJSON(w, http.StatusOK, PauseStatus{Phone: phone, Paused: false})
}
