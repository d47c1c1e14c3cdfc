package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/middleware"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/internal/services"
)

// SignatureRequests is the authenticated side of the signature request lifecycle
type SignatureRequests interface {
	Create(ctx context.Context, in services.CreateInput) (*services.CreateResult, error)
	Get(ctx context.Context, customerID, id string) (*models.SignatureRequest, error)
	List(ctx context.Context, query *repository.SignatureRequestQuery) ([]models.SignatureRequest, int64, error)
	Resend(ctx context.Context, in services.ResendInput) (*models.SignatureRequest, error)
	Archive(ctx context.Context, customerID, id, reason string, actor geoip.Actor) (*models.SignatureRequest, error)
	Discard(ctx context.Context, customerID, id, reason string, actor geoip.Actor) (*services.DiscardResult, error)
}

type SignatureRequestHandler struct {
	service SignatureRequests
	now     func() time.Time
}

func NewSignatureRequestHandler(service SignatureRequests) *SignatureRequestHandler {
	return &SignatureRequestHandler{service: service, now: time.Now}
}

func sessionActor(c *gin.Context) geoip.Actor {
	return geoip.ActorFromRequest(c.Request, middleware.GetUserID(c))
}

type CreateSignatureRequest struct {
	ContractID  string `json:"contract_id"`
	SignerName  string `json:"signer_name"`
	SignerEmail string `json:"signer_email"`
	SignerPhone string `json:"signer_phone"`
	ClientName  string `json:"client_name"`
	ClientTaxID string `json:"client_tax_id"`
	Channel     string `json:"channel"`
}

type notificationResponse struct {
	Success    bool   `json:"success"`
	ProviderID string `json:"provider_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// @Summary Create Signature Request
// @Description Creates a signature request with a snapshot of the contract, or reuses the open request of the same signer
// @Tags SignatureRequests
// @Accept json
// @Produce json
// @Param request body CreateSignatureRequest true "Signature request"
// @Success 201 {object} map[string]interface{}
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /signature-requests [post]
func (h *SignatureRequestHandler) Create(c *gin.Context) {
	var req CreateSignatureRequest
	if err := BindNestedOrFlat(c, "signature_request", &req); err != nil {
		badRequest(c, "Formato de solicitud inválido")
		return
	}

	result, err := h.service.Create(c.Request.Context(), services.CreateInput{
		CustomerID:  middleware.GetCustomerID(c),
		UserID:      middleware.GetUserID(c),
		ContractID:  strings.TrimSpace(req.ContractID),
		SignerName:  req.SignerName,
		SignerEmail: req.SignerEmail,
		SignerPhone: req.SignerPhone,
		ClientName:  req.ClientName,
		ClientTaxID: req.ClientTaxID,
		Channel:     req.Channel,
		Actor:       sessionActor(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{
		"signature_request": result.Request.ToResponse(h.now()),
		"result":            result.Kind.String(),
	}
	if result.Notification != nil {
		body["notification"] = notificationResponse{
			Success:    result.Notification.Success,
			ProviderID: result.Notification.ProviderID,
			Error:      result.Notification.Error,
		}
	}

	status := http.StatusCreated
	if result.Kind == services.CreateKindReused {
		status = http.StatusOK
	}
	c.JSON(status, body)
}

// @Summary List Signature Requests
// @Description Get a paginated list of the customer's signature requests
// @Tags SignatureRequests
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param search_term query string false "Signer name, email or client"
// @Param status query string false "pending, signed, archived, discarded or expired"
// @Param contract_id query string false "Contract"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /signature-requests [get]
func (h *SignatureRequestHandler) Index(c *gin.Context) {
	query := &repository.SignatureRequestQuery{ListQuery: repository.NewListQuery()}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PerPage < 1 || query.PerPage > 100 {
		query.PerPage = 20
	}
	query.Search = c.Query("search_term")
	query.SortBy = c.Query("sort_by")
	query.SortDir = c.Query("sort_dir")
	query.Status = c.Query("status")
	query.ContractID = c.Query("contract_id")
	query.CustomerID = middleware.GetCustomerID(c)
	query.Now = h.now()

	requests, total, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]models.SignatureRequestResponse, 0, len(requests))
	for i := range requests {
		responses = append(responses, requests[i].ToResponse(query.Now))
	}

	c.JSON(http.StatusOK, gin.H{
		"signature_requests": responses,
		"pagination": gin.H{
			"page":        query.Page,
			"per_page":    query.PerPage,
			"total":       total,
			"total_pages": (total + int64(query.PerPage) - 1) / int64(query.PerPage),
		},
	})
}

// @Summary Get Signature Request
// @Tags SignatureRequests
// @Produce json
// @Param id path string true "Signature request ID"
// @Success 200 {object} models.SignatureRequestResponse
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /signature-requests/{id} [get]
func (h *SignatureRequestHandler) Show(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), middleware.GetCustomerID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signature_request": req.ToResponse(h.now())})
}

// Actions accepted by Update
const (
	ActionArchive = "archive"
	ActionResend  = "resend"
)

type UpdateSignatureRequest struct {
	Action      string  `json:"action" binding:"required"`
	Reason      string  `json:"reason"`
	Channel     string  `json:"channel"`
	SignerName  *string `json:"signer_name"`
	SignerEmail *string `json:"signer_email"`
	SignerPhone *string `json:"signer_phone"`
}

// @Summary Archive or Resend
// @Description Archives a pending request, or resends it with a fresh link
// @Tags SignatureRequests
// @Accept json
// @Produce json
// @Param id path string true "Signature request ID"
// @Param request body UpdateSignatureRequest true "Action"
// @Success 200 {object} models.SignatureRequestResponse
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /signature-requests/{id} [patch]
func (h *SignatureRequestHandler) Update(c *gin.Context) {
	var req UpdateSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "La acción es requerida")
		return
	}

	customerID := middleware.GetCustomerID(c)
	var (
		updated *models.SignatureRequest
		err     error
	)
	switch req.Action {
	case ActionArchive:
		updated, err = h.service.Archive(c.Request.Context(), customerID, c.Param("id"), req.Reason, sessionActor(c))
	case ActionResend:
		updated, err = h.service.Resend(c.Request.Context(), services.ResendInput{
			CustomerID:  customerID,
			ID:          c.Param("id"),
			Channel:     req.Channel,
			Reason:      req.Reason,
			SignerName:  req.SignerName,
			SignerEmail: req.SignerEmail,
			SignerPhone: req.SignerPhone,
			Actor:       sessionActor(c),
		})
	default:
		badRequest(c, "Acción no soportada: "+req.Action)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"signature_request": updated.ToResponse(h.now())})
}

type DiscardSignatureRequest struct {
	Reason string `json:"reason"`
}

// @Summary Discard Signature Request
// @Description Discards a pending request. Requests the signer already opened are kept as discarded, others are deleted.
// @Tags SignatureRequests
// @Accept json
// @Produce json
// @Param id path string true "Signature request ID"
// @Param reason query string false "Reason (alternatively in the body)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /signature-requests/{id} [delete]
func (h *SignatureRequestHandler) Delete(c *gin.Context) {
	var req DiscardSignatureRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Formato de solicitud inválido")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = c.Query("reason")
	}

	result, err := h.service.Discard(c.Request.Context(), middleware.GetCustomerID(c), c.Param("id"), req.Reason, sessionActor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{"mode": result.Mode, "message": "Solicitud descartada"}
	if result.Mode == models.DeletionModeSoft && result.Request != nil {
		body["signature_request"] = result.Request.ToResponse(h.now())
	}
	c.JSON(http.StatusOK, body)
}
