package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"usergate/internal/ratelimit"
	"usergate/internal/service"
	"usergate/internal/validation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondWithError(w http.ResponseWriter, r *http.Request, status int, userMsg, logMsg string, err error) {
	if err != nil {
		if logMsg == "" {
			logMsg = userMsg
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg(logMsg)
	}

	writeJSON(w, status, map[string]string{"error": userMsg})
}

// respondThrottled answers 429 with the wait time in Retry-After
func respondThrottled(w http.ResponseWriter, throttled *ratelimit.ThrottledError) {
	w.Header().Set("Retry-After", strconv.Itoa(int(throttled.RetryAfter.Seconds())))
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": throttled.Message()})
}

// respondServiceError maps the service layer errors to HTTP statuses
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var throttled *ratelimit.ThrottledError
	var verr validation.ValidationError

	switch {
	case errors.As(err, &throttled):
		respondThrottled(w, throttled)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrGroupNotFound),
		errors.Is(err, service.ErrRoleNotFound),
		errors.Is(err, service.ErrInviteNotFound),
		errors.Is(err, service.ErrSignupNotFound),
		errors.Is(err, service.ErrMailNotFound),
		errors.Is(err, service.ErrMFAMethodNotFound):
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
	case errors.Is(err, service.ErrAccessDenied),
		errors.Is(err, service.ErrNoSelfserviceAccess),
		errors.Is(err, service.ErrSignupDisabled):
		respondWithError(w, r, http.StatusForbidden, err.Error(), "", nil)
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrSessionInvalid),
		errors.Is(err, service.ErrInvalidMFACode):
		respondWithError(w, r, http.StatusUnauthorized, err.Error(), "", nil)
	case errors.Is(err, service.ErrLoginnameTaken),
		errors.Is(err, service.ErrGroupExists),
		errors.Is(err, service.ErrRoleExists),
		errors.Is(err, service.ErrMailExists):
		respondWithError(w, r, http.StatusConflict, err.Error(), "", nil)
	case errors.Is(err, service.ErrInviteTooLong),
		errors.Is(err, service.ErrInviteNotPermitted),
		errors.Is(err, service.ErrInviteNoCapability),
		errors.Is(err, service.ErrUnknownRole),
		errors.Is(err, service.ErrInvalidFilter),
		errors.Is(err, service.ErrRecoveryCodesRequired):
		respondWithError(w, r, http.StatusBadRequest, err.Error(), "", nil)
	case errors.Is(err, service.ErrMailNotSent):
		respondWithError(w, r, http.StatusBadGateway, ErrMailNotSent, "", err)
	default:
		respondWithError(w, r, http.StatusInternalServerError, ErrInternalServerError, "", err)
	}
}

// respondResult writes a business outcome: 200 on success, 400 with the
// message on rejection
func respondResult(w http.ResponseWriter, res service.Result) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}
