package api

import (
	"encoding/json"
	"net/http"
)

// Numeric error codes of the wire contract. The leading digit encodes
// the blame side (2xxxxx caller, 1xxxxx service).
const (
	codeParse    = 200100
	codeInvalid  = 200101
	codeNotFound = 207202
	codeExists   = 207203
	codeInternal = 107250
)

// errorEnvelope is the JSON body of every non-2xx response.
type errorEnvelope struct {
	RequestURI  string `json:"request_uri"`
	ErrorCode   int    `json:"error_code"`
	ErrorDesc   string `json:"error_desc"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

type apiError struct {
	status int
	code   int
	desc   string
	detail string
}

func (e *apiError) Error() string { return e.desc }

func parseError(detail string) *apiError {
	return &apiError{status: http.StatusBadRequest, code: codeParse,
		desc: "unable to parse the request body", detail: detail}
}

func validationError(detail string) *apiError {
	return &apiError{status: http.StatusUnprocessableEntity, code: codeInvalid,
		desc: "request validation failed", detail: detail}
}

func notFoundError(detail string) *apiError {
	return &apiError{status: http.StatusNotFound, code: codeNotFound,
		desc: "task not found", detail: detail}
}

func existsError(detail string) *apiError {
	return &apiError{status: http.StatusConflict, code: codeExists,
		desc: "task already exists", detail: detail}
}

func internalError(detail string) *apiError {
	return &apiError{status: http.StatusInternalServerError, code: codeInternal,
		desc: "internal server error", detail: detail}
}

func writeError(w http.ResponseWriter, r *http.Request, e *apiError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		RequestURI:  r.RequestURI,
		ErrorCode:   e.code,
		ErrorDesc:   e.desc,
		ErrorDetail: e.detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
