// Package handlers implements the backend HTTP routes.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/dataset"
	"github.com/kacperjurak/lawfit/pkg/store"
)

const maxBodyBytes = 64 << 20

// setupCORS sets up CORS headers
func setupCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
}

// allow answers preflight requests and rejects other methods. It reports
// whether the handler should continue.
func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	setupCORS(w, method)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != method {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// writeJSON writes value as a JSON response
func writeJSON(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

// writeFailure maps err onto a status code and writes it.
func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusOf(err))
}

func statusOf(err error) int {
	switch {
	case errors.As(err, new(*lawfit.ValidationError)):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUploadsMissing),
		errors.Is(err, store.ErrNoModelLoaded),
		errors.Is(err, store.ErrCSVMismatch),
		errors.Is(err, store.ErrInvalidName),
		errors.Is(err, dataset.ErrNoMatchingRows),
		errors.Is(err, dataset.ErrNoNumericRows),
		errors.Is(err, dataset.ErrRowCountMismatch),
		errors.Is(err, dataset.ErrMissingColumn),
		errors.As(err, new(*requestError)):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// requestError is a malformed or incomplete request.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// decodeJSON reads a JSON body into out. An empty body leaves out untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, out any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("invalid JSON format")
	}
	return nil
}

// finite replaces NaN and infinities, which JSON cannot carry, with 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
