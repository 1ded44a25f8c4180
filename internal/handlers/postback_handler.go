package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/surveyku/backend/internal/services"
)

type PostbackHandler struct {
	service *services.PostbackService
}

func NewPostbackHandler(service *services.PostbackService) *PostbackHandler {
	return &PostbackHandler{service: service}
}

// HandlePostback receives reward notifications from CPX Research
// @Summary CPX Research reward postback
// @Description Receive a survey completion notification and credit the user's balance exactly once per trans_id. The provider sends GET or POST; parameters may arrive as query string, form body or JSON body.
// @Tags postback
// @Produce json
// @Param app_id query string true "CPX application id"
// @Param user_id query string true "Platform user id"
// @Param trans_id query string true "Provider transaction id, unique per reward event"
// @Param reward query string true "Reward amount as sent by the provider"
// @Param currency query string false "Reward currency (default USD)"
// @Param signature query string true "MD5 hex digest over user_id + trans_id + reward + shared secret"
// @Success 200 {object} services.PostbackResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /api/postback/cpx [post]
func (h *PostbackHandler) HandlePostback(w http.ResponseWriter, r *http.Request) {
	sourceIP := clientIP(r)
	params := h.collectParams(r)
	log.Printf("[POSTBACK] %s request from IP %s, trans_id=%q", r.Method, sourceIP, params["trans_id"])

	result, err := h.service.Process(r.Context(), sourceIP, params)
	if err != nil {
		h.writeError(w, err)
		return
	}

	message := "Postback processed successfully"
	if result.Duplicate {
		message = "Transaction already processed"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"message":  message,
		"trans_id": result.TransID,
		"amount":   result.Amount,
		"currency": result.Currency,
	})
}

// collectParams flattens GET query, form body and JSON body into one map.
// Query parameters are read for both methods because the provider mixes
// styles between its retry paths.
func (h *PostbackHandler) collectParams(r *http.Request) services.PostbackParams {
	params := services.PostbackParams{}

	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	if r.Method == http.MethodPost {
		ct := r.Header.Get("Content-Type")
		if strings.Contains(ct, "application/json") {
			var body map[string]any
			if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1_048_576)).Decode(&body); err == nil {
				for key, value := range body {
					if s, ok := value.(string); ok {
						params[key] = s
					}
				}
			}
		} else {
			if err := r.ParseForm(); err == nil {
				for key, values := range r.PostForm {
					if len(values) > 0 {
						params[key] = values[0]
					}
				}
			}
		}
	}

	return params
}

func (h *PostbackHandler) writeError(w http.ResponseWriter, err error) {
	var missing *services.MissingFieldError
	switch {
	case errors.Is(err, services.ErrUnauthorizedSource):
		services.SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.As(err, &missing),
		errors.Is(err, services.ErrInvalidAppID),
		errors.Is(err, services.ErrSignatureMismatch),
		errors.Is(err, services.ErrInvalidReward):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrUserNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	default:
		log.Printf("[POSTBACK] Processing failed: %v", err)
		services.SendErrorResponse(w, "Postback processing failed", http.StatusInternalServerError, nil)
	}
}

// clientIP resolves the originating address the way the provider documents
// it: first X-Forwarded-For hop, then X-Real-IP, then the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
