package handler

import (
	"net/http"

	"github.com/lookingforticket/ticketwatch/internal/api/respond"
)

// GetStatus returns the summary of the last completed scheduler tick.
// @Summary Scheduler status
// @Description Returns counts and per-subscription outcomes of the most recent tick. last_tick is null before the first tick completes.
// @Tags monitor
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} respond.ErrorResponse
// @Router /status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "SCHEDULER_DISABLED",
			"The scheduler is not running in this process")
		return
	}

	last := h.status.LastResult()
	body := map[string]interface{}{
		"interval":  h.cfg.CheckInterval.String(),
		"last_tick": last,
	}
	if last == nil {
		body["status"] = "waiting"
	} else {
		body["status"] = "running"
		body["summary"] = last.Summary()
	}
	respond.WriteJSONObject(w, http.StatusOK, body)
}
