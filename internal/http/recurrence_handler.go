package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/taskhub/internal/application"
)

type sweepService interface {
	SweepAs(ctx context.Context, principal application.Principal) (application.SweepReport, error)
}

// RecurrenceHandler triggers an immediate recurrence sweep.
type RecurrenceHandler struct {
	service   sweepService
	responder responder
	logger    *slog.Logger
}

func NewRecurrenceHandler(service sweepService, logger *slog.Logger) *RecurrenceHandler {
	logger = defaultLogger(logger)
	return &RecurrenceHandler{service: service, responder: newResponder(logger), logger: logger}
}

// Sweep handles POST /recurrence/sweep.
func (h *RecurrenceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	report, err := h.service.SweepAs(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dto := sweepReportDTO{
		Tasks:    toSweepCountsDTO(report.Tasks),
		Expenses: toSweepCountsDTO(report.Expenses),
	}
	handlerLogger(r.Context(), h.logger, "RecurrenceHandler", "Sweep").InfoContext(r.Context(), "manual sweep completed",
		"task_occurrences", dto.Tasks.Occurrences,
		"expense_occurrences", dto.Expenses.Occurrences,
	)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, dto)
}
