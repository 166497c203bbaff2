package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/multidoc/gateway/internal/history"
)

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := caller(ctx)
	items, err := s.deps.History.Load(ctx, user)
	if err != nil {
		slog.ErrorContext(ctx, "loading history failed", "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, messageResponse{
			Status:  statusError,
			Message: "Failed to load history",
		})
		return
	}
	if items == nil {
		items = []history.Item{}
	}
	writeJSON(ctx, w, http.StatusOK, items)
}

func (s *Server) handlePostHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := caller(ctx)

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if !errors.As(err, &maxErr) {
			slog.WarnContext(ctx, "reading history item failed", "error", err)
		}
		writeJSON(ctx, w, http.StatusBadRequest, messageResponse{
			Status:  statusError,
			Message: "Invalid history item format",
		})
		return
	}
	item, err := history.ParseItem(data)
	if err != nil {
		slog.DebugContext(ctx, "invalid history item", "error", err)
		writeJSON(ctx, w, http.StatusBadRequest, messageResponse{
			Status:  statusError,
			Message: "Invalid history item format",
		})
		return
	}

	if err := s.deps.History.Append(ctx, user, item); err != nil {
		slog.ErrorContext(ctx, "saving history failed", "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, messageResponse{
			Status:  statusError,
			Message: "Failed to save history",
		})
		return
	}
	writeJSON(ctx, w, http.StatusOK, messageResponse{
		Status:  statusSuccess,
		Message: "History updated",
	})
}
