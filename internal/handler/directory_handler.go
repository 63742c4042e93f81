package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"directory-service/internal/model"
	"directory-service/internal/service"
	"directory-service/internal/util"
)

// DirectoryHandler handles HTTP requests for the student directory.
type DirectoryHandler struct {
	directoryService *service.DirectoryService
	logger           *zap.Logger
}

func NewDirectoryHandler(directoryService *service.DirectoryService, logger *zap.Logger) *DirectoryHandler {
	return &DirectoryHandler{
		directoryService: directoryService,
		logger:           logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta represents pagination and retry metadata
type Meta struct {
	Total      int64 `json:"total,omitempty"`
	Limit      int   `json:"limit,omitempty"`
	Offset     int   `json:"offset,omitempty"`
	RetryAfter int   `json:"retry_after_seconds,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, code, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Code:    code,
		Message: message,
	}
}

// verifyRequest carries the submitted passcode.
type verifyRequest struct {
	OTP string `json:"otp"`
}

// applyRequest authorizes a profile mutation with a previously minted grant.
type applyRequest struct {
	Token   string                `json:"token"`
	Changes *model.ProfileChanges `json:"changes"`
}

// updateRequest verifies and mutates in a single call.
type updateRequest struct {
	OTP     string                `json:"otp"`
	Changes *model.ProfileChanges `json:"changes"`
}

// RegisterRoutes registers all directory routes
func (h *DirectoryHandler) RegisterRoutes(router chi.Router) {
	router.Route("/students", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Get("/", h.List)
		r.Get("/search", h.Search)

		r.Route("/{identifier}", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Post("/otp", h.RequestOTP)
			r.Post("/otp/verify", h.VerifyOTP)
			r.Post("/profile", h.VerifyAndUpdate)
			r.Patch("/profile", h.ApplyUpdate)
		})
	})

	router.Route("/admin", func(r chi.Router) {
		r.Post("/reindex", h.Reindex)
	})
}

// Register handles student registration
// @Summary Register a new student
// @Accept json
// @Produce json
// @Success 201 {object} Response
// @Failure 400,409 {object} Response
// @Router /students [post]
func (h *DirectoryHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid_body", "Invalid request body")
		return
	}

	profile, err := h.directoryService.Register(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Failed to register student")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(profile, "Student registered successfully"))
}

// List handles directory listing with limit/offset pagination
// @Summary List students
// @Produce json
// @Success 200 {object} Response
// @Router /students [get]
func (h *DirectoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	profiles, total, err := h.directoryService.List(ctx, limit, offset)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Failed to list students")
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    profiles,
		Meta:    &Meta{Total: total, Limit: limit, Offset: offset},
	})
}

// Search handles full-text directory search
// @Summary Search students by name, skills or about text
// @Produce json
// @Success 200 {object} Response
// @Failure 400,503 {object} Response
// @Router /students/search [get]
func (h *DirectoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", 20)

	profiles, err := h.directoryService.Search(ctx, query, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Search failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(profiles, ""))
}

// GetProfile handles public profile retrieval by email or roll number
// @Summary Get a student's public profile
// @Produce json
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /students/{identifier} [get]
func (h *DirectoryHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	profile, err := h.directoryService.GetPublicProfile(ctx, identifier)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Failed to get profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(profile, ""))
}

// RequestOTP handles passcode issuance
// @Summary Request a one-time code for profile updates
// @Produce json
// @Success 200 {object} Response
// @Failure 404,429,502 {object} Response
// @Router /students/{identifier}/otp [post]
func (h *DirectoryHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")
	startTime := time.Now()

	result, err := h.directoryService.RequestOTP(ctx, identifier)
	if err != nil {
		var rateErr *service.RateLimitError
		if errors.As(err, &rateErr) {
			seconds := int(rateErr.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			resp := errorResponse(err, errorCode(err), "Too many OTP requests")
			resp.Meta = &Meta{RetryAfter: seconds}
			h.respondWithJSON(w, http.StatusTooManyRequests, resp)
			return
		}
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Failed to issue OTP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "OTP sent to the email on file"))
	h.logger.Info("OTP requested via HTTP",
		util.String("identifier", identifier),
		util.Duration("duration", time.Since(startTime)),
	)
}

// VerifyOTP handles passcode verification and grant minting
// @Summary Verify a one-time code
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400,404,410,422 {object} Response
// @Router /students/{identifier}/otp/verify [post]
func (h *DirectoryHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid_body", "Invalid request body")
		return
	}

	grant, err := h.directoryService.VerifyOTP(ctx, identifier, req.OTP)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(grant, "OTP verified"))
}

// ApplyUpdate handles a grant-authorized profile mutation
// @Summary Apply profile changes using an update grant
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400,401,404 {object} Response
// @Router /students/{identifier}/profile [patch]
func (h *DirectoryHandler) ApplyUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid_body", "Invalid request body")
		return
	}

	// The grant is scoped to a record ID; resolve the path identifier first.
	profile, err := h.directoryService.GetPublicProfile(ctx, identifier)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Failed to update profile")
		return
	}

	updated, err := h.directoryService.ApplyProfileUpdate(ctx, profile.ID, req.Token, req.Changes)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Failed to update profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(updated, "Profile updated"))
}

// VerifyAndUpdate verifies a passcode and applies changes in one call
// @Summary Verify an OTP and apply profile changes
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400,404,410,422 {object} Response
// @Router /students/{identifier}/profile [post]
func (h *DirectoryHandler) VerifyAndUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid_body", "Invalid request body")
		return
	}

	updated, err := h.directoryService.VerifyAndUpdate(ctx, identifier, req.OTP, req.Changes)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Failed to update profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(updated, "Profile updated"))
}

// Reindex rebuilds the search index from the document store
// @Summary Rebuild the search index
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} Response
// @Router /admin/reindex [post]
func (h *DirectoryHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	indexed, err := h.directoryService.Reindex(ctx)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, errorCode(err), "Reindex failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int{"indexed": indexed}, "Reindex complete"))
	h.logger.Info("Reindex via HTTP",
		util.Int("indexed", indexed),
		util.Duration("duration", time.Since(startTime)),
	)
}

// HealthCheck reports store connectivity
func (h *DirectoryHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.directoryService.HealthCheck(r.Context()); err != nil {
		h.respondWithError(w, http.StatusServiceUnavailable, err, "unhealthy", "Service unhealthy")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "healthy"))
}

// Helper Methods

func (h *DirectoryHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *DirectoryHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, code, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, code, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *DirectoryHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrStudentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDuplicateStudent):
		return http.StatusConflict
	case errors.Is(err, service.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrNoPendingOTP):
		return http.StatusConflict
	case errors.Is(err, service.ErrOTPExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrOTPMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrRecordBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrDeliveryFailure):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrSearchUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode maps service errors to stable machine-readable codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrStudentNotFound):
		return "not_found"
	case errors.Is(err, service.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, service.ErrDuplicateStudent):
		return "duplicate"
	case errors.Is(err, service.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, service.ErrNoPendingOTP):
		return "no_pending_otp"
	case errors.Is(err, service.ErrOTPExpired):
		return "otp_expired"
	case errors.Is(err, service.ErrOTPMismatch):
		return "otp_mismatch"
	case errors.Is(err, service.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, service.ErrRecordBusy):
		return "record_busy"
	case errors.Is(err, service.ErrDeliveryFailure):
		return "delivery_failed"
	case errors.Is(err, service.ErrSearchUnavailable):
		return "search_unavailable"
	default:
		return "internal"
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
