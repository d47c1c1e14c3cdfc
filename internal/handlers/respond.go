package handlers

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign-api/internal/middleware"
	"github.com/sjperalta/fintera-sign-api/internal/services"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

var statusByCode = map[string]int{
	services.CodeNotFound:            http.StatusNotFound,
	services.CodeInvalidPassword:     http.StatusUnauthorized,
	services.CodeUnauthorized:        http.StatusUnauthorized,
	services.CodeExpired:             http.StatusGone,
	services.CodeAlreadySigned:       http.StatusConflict,
	services.CodeInvalidAccessKey:    http.StatusForbidden,
	services.CodeSignerDataImmutable: http.StatusUnprocessableEntity,
	services.CodeLimitExceeded:       http.StatusTooManyRequests,
	services.CodeInvalidTransition:   http.StatusConflict,
	services.CodeSignatureFailed:     http.StatusConflict,
	services.CodeIntegrityMismatch:   http.StatusConflict,
	services.CodeConflict:            http.StatusConflict,
	services.CodeReasonRequired:      http.StatusBadRequest,
	services.CodeInvalidInput:        http.StatusBadRequest,
}

// HTTPStatus maps a stable error code to its response status
func HTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes the structured error body of the authenticated API
func respondError(c *gin.Context, err error) {
	code := services.ErrorCode(err)
	status := HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		reportInternal(c, err)
	}
	c.JSON(status, gin.H{"error": services.PublicMessage(err), "code": code})
}

// reportInternal logs an unexpected error and forwards it to Sentry when the
// request carries a hub
func reportInternal(c *gin.Context, err error) {
	logger.Error("Request failed", "path", c.FullPath(), "request_id", middleware.GetRequestID(c), "error", err)
	_ = c.Error(err)
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("route", c.FullPath())
			scope.SetTag("request_id", middleware.GetRequestID(c))
			hub.CaptureException(err)
		})
	}
}

// Messages shown to anonymous signers. They never carry identifiers.
var publicMessages = map[string]string{
	services.CodeNotFound:          "El enlace de firma no existe o ya no está disponible.",
	services.CodeExpired:           "El enlace de firma ha expirado. Solicite un nuevo enlace al remitente.",
	services.CodeAlreadySigned:     "Este documento ya fue firmado.",
	services.CodeInvalidAccessKey:  "El enlace de firma no es válido.",
	services.CodeSignatureFailed:   "No fue posible completar la firma. Intente de nuevo.",
	services.CodeInvalidInput:      "Faltan datos requeridos para completar la firma.",
	services.CodeInvalidTransition: "El documento aún no está disponible.",
}

// respondPublicError writes a localized, non technical error for the public endpoints
func respondPublicError(c *gin.Context, err error) {
	code := services.ErrorCode(err)
	status := HTTPStatus(code)
	msg, ok := publicMessages[code]
	if !ok {
		msg = "Ocurrió un error inesperado, intente más tarde."
	}
	if status >= http.StatusInternalServerError {
		reportInternal(c, err)
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": services.CodeInvalidInput})
}

func sendFile(c *gin.Context, data []byte, fileName, contentType string) {
	c.Header("Content-Disposition", "attachment; filename="+fileName)
	c.Data(http.StatusOK, contentType, data)
}
