package handler

import (
	"encoding/json"
	"net/http"

	"claimgate/internal/asyncq/service"
	httputil "claimgate/pkg/http"
	"claimgate/pkg/logger"
	"claimgate/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type RequestHandler struct {
	service service.RequestService
	log     *logger.Logger
}

func NewRequestHandler(service service.RequestService, log *logger.Logger) *RequestHandler {
	return &RequestHandler{
		service: service,
		log:     log,
	}
}

// Submit enqueues a claim attempt and returns 202 with the request id the
// caller polls for the outcome.
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var input model.ClaimInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Code:    "INVALID_INPUT",
			Message: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Submit", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	request, err := h.service.Submit(r.Context(), &input)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Submit", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteAccepted(w, request); err != nil {
		h.log.Error("failed to write accepted response", "handler", "Submit", "operation", "WriteAccepted", "error", err)
	}
}

func (h *RequestHandler) Poll(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")

	request, err := h.service.Poll(r.Context(), id)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Poll", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, request); err != nil {
		h.log.Error("failed to write success response", "handler", "Poll", "operation", "WriteSuccess", "error", err)
	}
}

func (h *RequestHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/claim-requests", h.Submit)
	router.GET("/api/v1/claim-requests/id/:id", h.Poll)
}
