package services

import "errors"

// Common service errors. Messages are user facing (Spanish); the stable
// machine code comes from ErrorCode.
var (
	ErrNotFound            = errors.New("registro no encontrado")
	ErrInvalidPassword     = errors.New("contraseña inválida")
	ErrUnauthorized        = errors.New("no autorizado")
	ErrInactiveAccount     = errors.New("cuenta inactiva o suspendida")
	ErrExpired             = errors.New("el enlace de firma ha expirado")
	ErrAlreadySigned       = errors.New("el documento ya fue firmado")
	ErrInvalidAccessKey    = errors.New("clave de acceso inválida")
	ErrSignerDataImmutable = errors.New("los datos del firmante no pueden modificarse")
	ErrLimitExceeded       = errors.New("se alcanzó el límite de envíos para esta solicitud")
	ErrInvalidTransition   = errors.New("transición de estado inválida")
	ErrSignatureFailed     = errors.New("no fue posible completar la firma")
	ErrIntegrityMismatch   = errors.New("la integridad del registro de auditoría no pudo verificarse")
	ErrConflict            = errors.New("la solicitud fue modificada por otra operación, intente de nuevo")
	ErrReasonRequired      = errors.New("se requiere un motivo")
	ErrInvalidInput        = errors.New("datos inválidos")
)

// Stable error codes returned to API clients
const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidPassword     = "INVALID_CREDENTIALS"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeExpired             = "EXPIRED"
	CodeAlreadySigned       = "ALREADY_SIGNED"
	CodeInvalidAccessKey    = "INVALID_ACCESS_KEY"
	CodeSignerDataImmutable = "SIGNER_DATA_IMMUTABLE"
	CodeLimitExceeded       = "LIMIT_EXCEEDED"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeSignatureFailed     = "SIGNATURE_FAILED"
	CodeIntegrityMismatch   = "INTEGRITY_MISMATCH"
	CodeConflict            = "CONFLICT"
	CodeReasonRequired      = "REASON_REQUIRED"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInternal            = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrInvalidPassword, CodeInvalidPassword},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrInactiveAccount, CodeUnauthorized},
	{ErrExpired, CodeExpired},
	{ErrAlreadySigned, CodeAlreadySigned},
	{ErrInvalidAccessKey, CodeInvalidAccessKey},
	{ErrSignerDataImmutable, CodeSignerDataImmutable},
	{ErrLimitExceeded, CodeLimitExceeded},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrSignatureFailed, CodeSignatureFailed},
	{ErrIntegrityMismatch, CodeIntegrityMismatch},
	{ErrConflict, CodeConflict},
	{ErrReasonRequired, CodeReasonRequired},
	{ErrInvalidInput, CodeInvalidInput},
}

// ErrorCode maps a (possibly wrapped) service error to its stable code.
// Unknown errors are INTERNAL.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// PublicMessage returns the sentinel's user facing message, hiding the
// details of wrapped internal errors.
func PublicMessage(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.err.Error()
		}
	}
	return "ocurrió un error inesperado, intente más tarde"
}
