package handlers

import (
	"context"
	"net/http"

	httpmiddleware "github.com/wolfman30/clinic-whatsapp-ai/internal/http/middleware"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/reminders"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// ReminderRunner runs one reminder sweep.
type ReminderRunner interface {
	Run(ctx context.Context) (reminders.Summary, error)
}

// AdminRemindersHandler triggers the reminder sweep on demand.
type AdminRemindersHandler struct {
	runner ReminderRunner
	logger *logging.Logger
}

func NewAdminRemindersHandler(runner ReminderRunner, logger *logging.Logger) *AdminRemindersHandler {
	if runner == nil {
		panic("handlers: reminder runner required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminRemindersHandler{runner: runner, logger: logger}
}

// Run executes a sweep and returns its summary.
// Route: POST /admin/reminders/run
func (h *AdminRemindersHandler) Run(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("manual reminder sweep requested", "actor", httpmiddleware.AdminSubject(r.Context()))
	summary, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.Error("manual reminder sweep failed", "error", err)
		jsonError(w, "reminder sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
