package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/services"
	"github.com/stretchr/testify/assert"
)

func TestSignatureRequestHandler_CreateScopesToSessionCustomer(t *testing.T) {
	sr := &stubSignatureRequests{req: sampleRequest()}
	sr.result = &services.CreateResult{
		Kind:         services.CreateKindCreated,
		Request:      sr.req,
		Notification: &services.SendResult{Success: true, ProviderID: "re_1"},
	}
	r := testRouter(sr, nil, nil, nil)

	w := do(t, r, http.MethodPost, "/signature-requests", sessionToken(t, "cust-1"), map[string]any{
		"signature_request": map[string]any{
			"contract_id":  " c1 ",
			"signer_name":  "Alice",
			"signer_email": "alice@example.com",
			"channel":      "email",
			"customer_id":  "someone-else",
		},
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "cust-1", sr.created.CustomerID)
	assert.Equal(t, "user-1", sr.created.UserID)
	assert.Equal(t, "c1", sr.created.ContractID)
	assert.Equal(t, "alice@example.com", sr.created.SignerEmail)

	body := decodeBody(t, w)
	assert.Equal(t, "created", body["result"])
	assert.Equal(t, true, body["notification"].(map[string]any)["success"])
	assert.NotContains(t, w.Body.String(), "Qk1lMz")
}

func TestSignatureRequestHandler_CreateReusedIs200(t *testing.T) {
	sr := &stubSignatureRequests{req: sampleRequest()}
	sr.result = &services.CreateResult{Kind: services.CreateKindReused, Request: sr.req}
	r := testRouter(sr, nil, nil, nil)

	w := do(t, r, http.MethodPost, "/signature-requests", sessionToken(t, "cust-1"), map[string]any{"contract_id": "c1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reused", decodeBody(t, w)["result"])
}

func TestSignatureRequestHandler_RequiresSession(t *testing.T) {
	r := testRouter(&stubSignatureRequests{req: sampleRequest()}, nil, nil, nil)
	w := do(t, r, http.MethodGet, "/signature-requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignatureRequestHandler_IndexFiltersAndPaginates(t *testing.T) {
	sr := &stubSignatureRequests{req: sampleRequest()}
	r := testRouter(sr, nil, nil, nil)

	w := do(t, r, http.MethodGet, "/signature-requests?page=2&per_page=20&status=expired&contract_id=c1", sessionToken(t, "cust-1"), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cust-1", sr.listQuery.CustomerID)
	assert.Equal(t, models.SignatureStatusExpired, sr.listQuery.Status)
	assert.Equal(t, "c1", sr.listQuery.ContractID)
	assert.False(t, sr.listQuery.Now.IsZero())

	pagination := decodeBody(t, w)["pagination"].(map[string]any)
	assert.EqualValues(t, 2, pagination["page"])
	assert.EqualValues(t, 3, pagination["total_pages"])
}

func TestSignatureRequestHandler_ShowOtherCustomerIs404(t *testing.T) {
	r := testRouter(&stubSignatureRequests{req: sampleRequest()}, nil, nil, nil)

	w := do(t, r, http.MethodGet, "/signature-requests/req-1", sessionToken(t, "cust-2"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, services.CodeNotFound, decodeBody(t, w)["code"])

	w = do(t, r, http.MethodGet, "/signature-requests/req-1", sessionToken(t, "cust-1"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignatureRequestHandler_UpdateActions(t *testing.T) {
	sr := &stubSignatureRequests{req: sampleRequest()}
	r := testRouter(sr, nil, nil, nil)
	token := sessionToken(t, "cust-1")

	w := do(t, r, http.MethodPatch, "/signature-requests/req-1", token, map[string]any{"action": "archive", "reason": "duplicado"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", sr.archived)
	assert.Equal(t, "duplicado", sr.reason)

	w = do(t, r, http.MethodPatch, "/signature-requests/req-1", token, map[string]any{
		"action":       "resend",
		"channel":      "sms",
		"signer_email": "ALICE@example.com",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sms", sr.resent.Channel)
	if assert.NotNil(t, sr.resent.SignerEmail) {
		assert.Equal(t, "ALICE@example.com", *sr.resent.SignerEmail)
	}
	assert.Nil(t, sr.resent.SignerName)

	w = do(t, r, http.MethodPatch, "/signature-requests/req-1", token, map[string]any{"action": "sign"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignatureRequestHandler_ErrorCodesMapToStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{services.ErrInvalidTransition, http.StatusConflict},
		{services.ErrSignerDataImmutable, http.StatusUnprocessableEntity},
		{services.ErrLimitExceeded, http.StatusTooManyRequests},
		{services.ErrConflict, http.StatusConflict},
		{fmt.Errorf("boom: %w", fmt.Errorf("pq: connection reset")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(services.ErrorCode(tt.err), func(t *testing.T) {
			sr := &stubSignatureRequests{req: sampleRequest(), err: tt.err}
			r := testRouter(sr, nil, nil, nil)

			w := do(t, r, http.MethodPatch, "/signature-requests/req-1", sessionToken(t, "cust-1"), map[string]any{"action": "resend"})
			assert.Equal(t, tt.status, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, services.ErrorCode(tt.err), body["code"])
			assert.NotContains(t, body["error"], "pq:")
		})
	}
}

func TestSignatureRequestHandler_DeleteReason(t *testing.T) {
	sr := &stubSignatureRequests{req: sampleRequest()}
	sr.discard = &services.DiscardResult{Mode: models.DeletionModeHard}
	r := testRouter(sr, nil, nil, nil)
	token := sessionToken(t, "cust-1")

	w := do(t, r, http.MethodDelete, "/signature-requests/req-1", token, map[string]any{"reason": "error de datos"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "error de datos", sr.reason)
	assert.Equal(t, models.DeletionModeHard, decodeBody(t, w)["mode"])

	w = do(t, r, http.MethodDelete, "/signature-requests/req-1?reason=cliente+desistio", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cliente desistio", sr.reason)

	sr.err = services.ErrReasonRequired
	w = do(t, r, http.MethodDelete, "/signature-requests/req-1", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, services.CodeReasonRequired, decodeBody(t, w)["code"])
}
