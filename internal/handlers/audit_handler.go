package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/ledger"
	"github.com/sjperalta/fintera-sign-api/internal/middleware"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/services"
)

// AuditTrails reads, verifies and exports request ledgers
type AuditTrails interface {
	Trail(ctx context.Context, customerID, id string) (*services.AuditTrailView, error)
	Verify(ctx context.Context, customerID, id string) (ledger.Result, error)
	Certificate(ctx context.Context, customerID, id string, actor geoip.Actor) (*services.Export, error)
	Export(ctx context.Context, customerID, id, format string) (*services.Export, error)
	LegacyView(ctx context.Context, customerID, id string) ([]models.AuditLog, error)
	MigrateLegacy(ctx context.Context, customerID, id string) (*services.MigrationResult, error)
}

type AuditHandler struct {
	service AuditTrails
}

func NewAuditHandler(service AuditTrails) *AuditHandler {
	return &AuditHandler{service: service}
}

// @Summary Audit Trail
// @Description Ordered ledger of a signature request with counters and summary
// @Tags Audit
// @Produce json
// @Param id path string true "Signature request ID"
// @Success 200 {object} services.AuditTrailView
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /signature-requests/{id}/audit [get]
func (h *AuditHandler) Show(c *gin.Context) {
	view, err := h.service.Trail(c.Request.Context(), middleware.GetCustomerID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// @Summary Verify Audit Trail
// @Description Recomputes every hash of the ledger. A tampered chain answers 409 with the detected errors.
// @Tags Audit
// @Produce json
// @Param id path string true "Signature request ID"
// @Success 200 {object} ledger.Result
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /signature-requests/{id}/audit/verify [get]
func (h *AuditHandler) Verify(c *gin.Context) {
	result, err := h.service.Verify(c.Request.Context(), middleware.GetCustomerID(c), c.Param("id"))
	if errors.Is(err, services.ErrIntegrityMismatch) {
		c.JSON(http.StatusConflict, gin.H{
			"error":  services.PublicMessage(err),
			"code":   services.CodeIntegrityMismatch,
			"result": result,
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Audit Certificate
// @Description PDF certificate with the request identity, summary and hash chain
// @Tags Audit
// @Produce application/pdf
// @Param id path string true "Signature request ID"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /signature-requests/{id}/audit/certificate.pdf [get]
func (h *AuditHandler) Certificate(c *gin.Context) {
	export, err := h.service.Certificate(c.Request.Context(), middleware.GetCustomerID(c), c.Param("id"), sessionActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	sendFile(c, export.Data, export.FileName, export.ContentType)
}

// @Summary Export Audit Ledger (XLSX)
// @Tags Audit
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Signature request ID"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /signature-requests/{id}/audit/export.xlsx [get]
func (h *AuditHandler) ExportXLSX(c *gin.Context) {
	h.export(c, services.ExportFormatXLSX)
}

// @Summary Export Audit Ledger (CSV)
// @Tags Audit
// @Produce text/csv
// @Param id path string true "Signature request ID"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /signature-requests/{id}/audit/export.csv [get]
func (h *AuditHandler) ExportCSV(c *gin.Context) {
	h.export(c, services.ExportFormatCSV)
}

func (h *AuditHandler) export(c *gin.Context, format string) {
	export, err := h.service.Export(c.Request.Context(), middleware.GetCustomerID(c), c.Param("id"), format)
	if err != nil {
		respondError(c, err)
		return
	}
	sendFile(c, export.Data, export.FileName, export.ContentType)
}

// @Summary Legacy Audit View
// @Description The ledger projected onto the old audit log format
// @Tags Audit
// @Produce json
// @Param id path string true "Signature request ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /signature-requests/{id}/audit/legacy [get]
func (h *AuditHandler) Legacy(c *gin.Context) {
	logs, err := h.service.LegacyView(c.Request.Context(), middleware.GetCustomerID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": logs})
}

// @Summary Migrate Legacy Audit Logs
// @Description Imports the old audit log rows of a request into an empty ledger
// @Tags Audit
// @Produce json
// @Param id path string true "Signature request ID"
// @Success 200 {object} services.MigrationResult
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /signature-requests/{id}/audit/migrate-legacy [post]
func (h *AuditHandler) MigrateLegacy(c *gin.Context) {
	result, err := h.service.MigrateLegacy(c.Request.Context(), middleware.GetCustomerID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
