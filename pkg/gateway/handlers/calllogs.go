package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/moversbe/eva-gateway/pkg/calllog"
)

// CallLogsHandler serves completed call artifacts and lets operators
// force-finalize a call that is still open.
type CallLogsHandler struct {
	Logger  *slog.Logger
	CallLog *calllog.Logger
	Store   *calllog.Store
}

func (h CallLogsHandler) List(w http.ResponseWriter, r *http.Request) {
	result, err := h.Store.List()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to list call logs")
		return
	}
	type listResp struct {
		Calls    []calllog.Summary `json:"calls"`
		Warnings []string          `json:"warnings,omitempty"`
	}
	writeJSON(w, http.StatusOK, listResp{Calls: result.Records, Warnings: result.Warnings})
}

func (h CallLogsHandler) Get(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Store.Load(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, calllog.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "call log not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to load call log")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h CallLogsHandler) End(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	summary, err := h.CallLog.EndCall(r.Context(), callID)
	if err != nil {
		if errors.Is(err, calllog.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no active call with that id")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to end call")
		return
	}
	if h.Logger != nil {
		h.Logger.Info("call force-ended", "call_id", callID)
	}
	writeJSON(w, http.StatusOK, summary)
}
