package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/asynx/pkg/taskqueue"
)

// handleStatus reports liveness after probing the store.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Ping(r.Context()).Err(); err != nil {
		writeError(w, r, internalError(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, true)
}

// handleList returns a page of tasks with the total live count.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	params, apiErr := parseListParams(r.URL.Query())
	if apiErr != nil {
		writeError(w, r, apiErr)
		return
	}

	q := s.queue(r)
	total, err := q.Count(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := q.List(r.Context(), params.offset, params.limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

// handleInsert validates the task payload and adds it to the queue.
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, parseError(err.Error()))
		return
	}

	d, err := taskqueue.ParseDescriptor(body, s.loc)
	if err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			writeError(w, r, parseError(err.Error()))
			return
		}
		writeError(w, r, validationError(err.Error()))
		return
	}

	t, err := s.queue(r).Add(r.Context(), d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleGet resolves {ident} and returns the task.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.resolve(r)
	if apiErr != nil {
		writeError(w, r, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDelete resolves {ident} and deletes the task. Deleting by id
// refuses running tasks; the uuid and cname paths do not.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ident, err := parseIdentifier(chi.URLParam(r, "ident"))
	if err != nil {
		writeError(w, r, notFoundError(err.Error()))
		return
	}

	q := s.queue(r)
	switch ident.kind {
	case identID:
		err = q.Delete(r.Context(), ident.id)
	case identUUID:
		err = q.DeleteByUUID(r.Context(), ident.uuid)
	case identCName:
		err = q.DeleteByCName(r.Context(), ident.cname)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// resolve looks up the task named by the {ident} path segment.
func (s *Server) resolve(r *http.Request) (*taskqueue.Task, *apiError) {
	ident, err := parseIdentifier(chi.URLParam(r, "ident"))
	if err != nil {
		return nil, notFoundError(err.Error())
	}

	q := s.queue(r)
	var t *taskqueue.Task
	switch ident.kind {
	case identID:
		t, err = q.Get(r.Context(), ident.id)
	case identUUID:
		t, err = q.GetByUUID(r.Context(), ident.uuid)
	case identCName:
		t, err = q.GetByCName(r.Context(), ident.cname)
	}
	if err != nil {
		return nil, s.mapError(r, err)
	}
	return t, nil
}

// fail maps an engine error to the wire envelope and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, s.mapError(r, err))
}

func (s *Server) mapError(r *http.Request, err error) *apiError {
	switch {
	case errors.Is(err, taskqueue.ErrTaskNotFound):
		return notFoundError(err.Error())
	case errors.Is(err, taskqueue.ErrTaskAlreadyExists):
		return existsError(err.Error())
	case errors.Is(err, taskqueue.ErrTaskStatusNotMatched):
		return existsError(err.Error())
	case errors.Is(err, taskqueue.ErrTaskCNameRequired),
		errors.Is(err, taskqueue.ErrInvalidDescriptor):
		return validationError(err.Error())
	}
	s.log.ErrorContext(r.Context(), "request failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	return internalError(err.Error())
}
