package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/services"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// PublicSigning is the anonymous side of the lifecycle, authorized by short id and access key
type PublicSigning interface {
	ValidateAccess(ctx context.Context, shortID, accessKey string, actor geoip.Actor) (*models.SignatureRequest, error)
	CompleteSignature(ctx context.Context, in services.CompleteInput) (*models.SignatureRequest, error)
	DownloadDocument(ctx context.Context, shortID, accessKey string, actor geoip.Actor) (*models.SignatureRequest, error)
	VerifyDocument(ctx context.Context, shortID, accessKey, submittedHash string, actor geoip.Actor) (bool, error)
	SignatureImage(ctx context.Context, req *models.SignatureRequest) ([]byte, error)
}

// DocumentRenderer renders the signed document
type DocumentRenderer interface {
	SignedDocumentPDF(req *models.SignatureRequest, signatureImage []byte) ([]byte, string, error)
}

type PublicSignHandler struct {
	service  PublicSigning
	renderer DocumentRenderer
	now      func() time.Time
}

func NewPublicSignHandler(service PublicSigning, renderer DocumentRenderer) *PublicSignHandler {
	return &PublicSignHandler{service: service, renderer: renderer, now: time.Now}
}

func anonymousActor(c *gin.Context) geoip.Actor {
	return geoip.ActorFromRequest(c.Request, "")
}

// @Summary Open Signing Link
// @Description Validates the access key and returns the document to sign
// @Tags Sign
// @Produce json
// @Param shortId path string true "Short ID"
// @Param a query string true "Access key"
// @Success 200 {object} map[string]interface{} "authorized and sign_request"
// @Failure 403 {object} map[string]string
// @Failure 410 {object} map[string]string
// @Router /sign-requests/{shortId} [get]
func (h *PublicSignHandler) Show(c *gin.Context) {
	req, err := h.service.ValidateAccess(c.Request.Context(), c.Param("shortId"), c.Query("a"), anonymousActor(c))
	if err != nil {
		respondPublicError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authorized":   true,
		"sign_request": req.ToPublic(h.now()),
	})
}

type CompleteSignatureRequest struct {
	// Signature is a base64 image, optionally as a data URL
	Signature   string            `json:"signature" binding:"required"`
	Method      string            `json:"method"`
	FieldValues map[string]string `json:"field_values"`
	Client      map[string]string `json:"client"`
}

// decodeSignature accepts "data:image/png;base64,..." or bare base64
func decodeSignature(raw string) ([]byte, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		i := strings.Index(raw, ",")
		if i < 0 {
			return nil, false
		}
		raw = raw[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// @Summary Sign
// @Description Completes the signature, timestamps the document and seals the audit trail
// @Tags Sign
// @Accept json
// @Produce json
// @Param shortId path string true "Short ID"
// @Param a query string true "Access key"
// @Param request body CompleteSignatureRequest true "Signature"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string
// @Router /sign-requests/{shortId} [put]
func (h *PublicSignHandler) Sign(c *gin.Context) {
	var body CompleteSignatureRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondPublicError(c, services.ErrInvalidInput)
		return
	}
	signature, ok := decodeSignature(body.Signature)
	if !ok {
		respondPublicError(c, services.ErrInvalidInput)
		return
	}

	req, err := h.service.CompleteSignature(c.Request.Context(), services.CompleteInput{
		ShortID:     c.Param("shortId"),
		AccessKey:   c.Query("a"),
		Signature:   signature,
		Method:      body.Method,
		FieldValues: body.FieldValues,
		Client:      body.Client,
		Actor:       anonymousActor(c),
	})
	if err != nil {
		respondPublicError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Documento firmado exitosamente",
		"status":        req.EffectiveStatus(h.now()),
		"signed_at":     req.SignedAt,
		"document_hash": req.DocumentHash,
	})
}

// @Summary Download Signed Document
// @Tags Sign
// @Produce application/pdf
// @Param shortId path string true "Short ID"
// @Param a query string true "Access key"
// @Success 200 {file} file
// @Failure 409 {object} map[string]string
// @Router /sign-requests/{shortId}/document [get]
func (h *PublicSignHandler) Document(c *gin.Context) {
	req, err := h.service.DownloadDocument(c.Request.Context(), c.Param("shortId"), c.Query("a"), anonymousActor(c))
	if err != nil {
		respondPublicError(c, err)
		return
	}

	image, err := h.service.SignatureImage(c.Request.Context(), req)
	if err != nil {
		// The document still renders without the image
		logger.Warn("Signature image unavailable", "sign_request_id", req.ID, "error", err)
	}
	data, name, err := h.renderer.SignedDocumentPDF(req, image)
	if err != nil {
		respondPublicError(c, err)
		return
	}
	sendFile(c, data, name, "application/pdf")
}

type VerifyDocumentRequest struct {
	DocumentHash string `json:"document_hash" binding:"required"`
}

// @Summary Verify Signed Document
// @Description Compares a document hash with the hash recorded at signing
// @Tags Sign
// @Accept json
// @Produce json
// @Param shortId path string true "Short ID"
// @Param a query string true "Access key"
// @Param request body VerifyDocumentRequest true "Hash"
// @Success 200 {object} map[string]bool
// @Router /sign-requests/{shortId}/verify [post]
func (h *PublicSignHandler) Verify(c *gin.Context) {
	var body VerifyDocumentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondPublicError(c, services.ErrInvalidInput)
		return
	}

	match, err := h.service.VerifyDocument(c.Request.Context(), c.Param("shortId"), c.Query("a"), body.DocumentHash, anonymousActor(c))
	if err != nil {
		respondPublicError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"match": match})
}
