package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"walletpass-service/internal/model"
	"walletpass-service/internal/service"
	"walletpass-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// PassHandler handles HTTP requests for the pass lifecycle
type PassHandler struct {
	passService *service.PassService
	logger      *zap.Logger
}

func NewPassHandler(passService *service.PassService, logger *zap.Logger) *PassHandler {
	return &PassHandler{
		passService: passService,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// RegisterRoutes registers all pass routes
func (h *PassHandler) RegisterRoutes(router chi.Router) {
	router.Route("/passes", func(r chi.Router) {
		r.Post("/", h.Initiate)
		r.Get("/{passID}", h.GetPass)
		r.Post("/{passID}/verify", h.Verify)
		r.Post("/{passID}/complete", h.Complete)
		r.Get("/{passID}/download", h.Download)
		r.Post("/{passID}/devices", h.RegisterDevice)
		r.Post("/{passID}/notify", h.Notify)
	})

	router.Get("/platform/detect", h.Detect)
	router.Get("/platforms", h.Platforms)
	router.Get("/artists/{artistID}", h.GetArtist)
}

// Initiate handles pass creation and code issuance
func (h *PassHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req service.InitiateRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.passService.Initiate(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(res,
		fmt.Sprintf("Verification code sent to %s", res.MaskedPhone)))
}

func (h *PassHandler) GetPass(w http.ResponseWriter, r *http.Request) {
	pass, err := h.passService.GetPass(r.Context(), chi.URLParam(r, "passID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(pass, ""))
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (h *PassHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	pass, err := h.passService.Verify(r.Context(), chi.URLParam(r, "passID"), req.Code)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(pass, "Phone number verified"))
}

type completeRequest struct {
	FanName string `json:"fan_name"`
}

func (h *PassHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.passService.Complete(r.Context(), chi.URLParam(r, "passID"), req.FanName)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, "Pass completed"))
}

// Download redirects to the wallet's save URL or streams the pass file.
// The client signature is the User-Agent header.
func (h *PassHandler) Download(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	passID := chi.URLParam(r, "passID")

	res, err := h.passService.Download(r.Context(), passID, r.URL.Query().Get("platform"), r.UserAgent())
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	w.Header().Set("X-Platform", string(res.Detection.Platform))
	w.Header().Set("X-Platform-Method", string(res.Detection.Method))
	w.Header().Set("X-Platform-Confidence", strconv.FormatFloat(res.Detection.Confidence, 'f', 2, 64))
	if res.LowConfidence {
		w.Header().Set("X-Platform-Warning", "low confidence detection, consider choosing a platform explicitly")
	}

	if res.File.IsRedirect() {
		http.Redirect(w, r, res.File.RedirectURL, http.StatusFound)
	} else {
		w.Header().Set("Content-Type", res.File.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.File.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(res.File.Content)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(res.File.Content); err != nil {
			h.logger.Warn("Failed to stream pass file", zap.String("pass_id", passID), util.ErrorField(err))
		}
	}

	h.logger.Debug("Pass delivered via HTTP",
		util.String("pass_id", passID),
		util.Bool("redirect", res.File.IsRedirect()),
		util.Duration("duration", time.Since(startTime)))
}

func (h *PassHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterDeviceRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.passService.RegisterDevice(r.Context(), chi.URLParam(r, "passID"), req); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(nil, "Device registered"))
}

type notifyRequest struct {
	Message string `json:"message"`
}

func (h *PassHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.passService.Notify(r.Context(), chi.URLParam(r, "passID"), req.Message)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res,
		fmt.Sprintf("Notified %d of %d devices", res.Sent, res.Sent+res.Failed)))
}

// Detect reports the routing decision without side effects. The signature
// query parameter overrides the User-Agent header.
func (h *PassHandler) Detect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	signature := r.UserAgent()
	if q.Has("signature") {
		signature = q.Get("signature")
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(h.passService.Detect(q.Get("platform"), signature), ""))
}

func (h *PassHandler) Platforms(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(h.passService.Platforms(), ""))
}

func (h *PassHandler) GetArtist(w http.ResponseWriter, r *http.Request) {
	artist, err := h.passService.GetArtist(chi.URLParam(r, "artistID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(artist, ""))
}

// Helper Methods

func (h *PassHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.respondWithError(w, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *PassHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err to a status and a fixed client message. The
// error text itself never reaches the client.
func (h *PassHandler) respondWithError(w http.ResponseWriter, err error) {
	statusCode, code, message := classify(err)
	resp := Response{Success: false, Error: code, Message: message}
	if remaining, ok := model.RemainingAttempts(err); ok {
		resp.Message = fmt.Sprintf("Incorrect code, %d attempts remaining", remaining)
		resp.Data = map[string]int{"remaining_attempts": remaining}
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response", util.ErrorField(err), util.Int("status_code", statusCode))
	} else {
		h.logger.Warn("HTTP error response", util.ErrorField(err), util.Int("status_code", statusCode))
	}
	h.respondWithJSON(w, statusCode, resp)
}

// classify determines the status, error code and client message for an error
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, model.ErrInvalidFormat):
		return http.StatusBadRequest, "invalid_format", "Phone number format is invalid"
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input", "Request is invalid"
	case errors.Is(err, model.ErrCodeNotFound):
		return http.StatusNotFound, "code_not_found", "No active verification code"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found", "Pass not found"
	case errors.Is(err, model.ErrCodeMismatch):
		return http.StatusUnauthorized, "code_mismatch", "Incorrect code"
	case errors.Is(err, model.ErrCodeExpired):
		return http.StatusGone, "code_expired", "Verification code expired"
	case errors.Is(err, model.ErrAttemptsExhausted):
		return http.StatusTooManyRequests, "attempts_exhausted", "Too many attempts"
	case errors.Is(err, model.ErrAlreadyVerified):
		return http.StatusConflict, "already_verified", "Pass is already verified"
	case errors.Is(err, model.ErrUnknownArtist):
		return http.StatusNotFound, "unknown_artist", "Artist not found"
	case errors.Is(err, model.ErrPreconditionFailed):
		return http.StatusPreconditionFailed, "precondition_failed", "Phone number must be verified first"
	case errors.Is(err, model.ErrNoDevicesRegistered):
		return http.StatusConflict, "no_devices", "No devices registered for this pass"
	case errors.Is(err, model.ErrBackendFailure):
		return http.StatusBadGateway, "backend_failure", "Wallet provider is unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "Internal server error"
	}
}
