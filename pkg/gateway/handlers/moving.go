package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/moversbe/eva-gateway/pkg/moving"
)

// MovingHandler is the quote request CRUD surface.
type MovingHandler struct {
	Logger *slog.Logger
	Store  *moving.Store
}

func (h MovingHandler) Create(w http.ResponseWriter, r *http.Request) {
	req := h.Store.Create()
	if h.Logger != nil {
		h.Logger.Info("moving request created", "request_id", req.ID)
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h MovingHandler) List(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Store.List()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to list moving requests")
		return
	}
	type listResp struct {
		Requests []moving.Request `json:"requests"`
	}
	writeJSON(w, http.StatusOK, listResp{Requests: requests})
}

func (h MovingHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.Store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, moving.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "moving request not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to load moving request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h MovingHandler) Update(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "body must be a JSON object of field values")
		return
	}
	if len(fields) == 0 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "no fields to update")
		return
	}

	id := r.PathValue("id")
	var req *moving.Request
	for field, value := range fields {
		updated, err := h.Store.SetField(id, field, value)
		if err != nil {
			if errors.Is(err, moving.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "not_found", "moving request not found")
				return
			}
			if errors.Is(err, moving.ErrUnknownField) {
				writeError(w, r, http.StatusBadRequest, "unknown_field", err.Error())
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal", "failed to update moving request")
			return
		}
		req = updated
	}
	writeJSON(w, http.StatusOK, req)
}

func (h MovingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	req, err := h.Store.Complete(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, moving.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "moving request not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to complete moving request")
		return
	}
	if h.Logger != nil {
		h.Logger.Info("moving request completed", "request_id", req.ID)
	}
	writeJSON(w, http.StatusOK, req)
}
