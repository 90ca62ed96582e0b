package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
)

// ErrorResponse is the JSON body written by JSONErrorHandler.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// publicMessages are the messages shown for each category. Internal causes
// stay in the logs.
var publicMessages = map[string]string{
	"authentication": "authentication required",
	"not_found":      "not found",
	"upstream":       "identity service unavailable",
	"role_mismatch":  "insufficient role",
	"team_mismatch":  "wrong team",
	"configuration":  "server misconfigured",
	"internal":       "internal error",
}

// JSONErrorHandler renders errors as {"error": category, "message": text}
// with the status from autherr.HTTPStatus.
func JSONErrorHandler(logger *zap.SugaredLogger) ErrorHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.Named("errors")
	return ErrorHandlerFunc(func(w http.ResponseWriter, r *http.Request, err error) {
		status := autherr.HTTPStatus(err)
		category := autherr.Category(err)
		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "category", category, "error", err)
		} else {
			logger.Infow("request rejected", "method", r.Method, "path", r.URL.Path, "category", category, "error", err)
		}

		message := publicMessages[category]
		if errors.Is(err, autherr.ErrRoleMismatch) || errors.Is(err, autherr.ErrTeamMismatch) {
			message = err.Error()
		}

		WriteJSON(w, status, ErrorResponse{Error: category, Message: message})
	})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
