package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/ledger"
	"github.com/sjperalta/fintera-sign-api/internal/middleware"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/internal/services"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "handler-secret"

type stubSignatureRequests struct {
	SignatureRequests
	created   services.CreateInput
	resent    services.ResendInput
	listQuery *repository.SignatureRequestQuery
	archived  string
	discarded string
	reason    string
	result    *services.CreateResult
	discard   *services.DiscardResult
	req       *models.SignatureRequest
	err       error
}

func (s *stubSignatureRequests) Create(ctx context.Context, in services.CreateInput) (*services.CreateResult, error) {
	s.created = in
	return s.result, s.err
}

func (s *stubSignatureRequests) Get(ctx context.Context, customerID, id string) (*models.SignatureRequest, error) {
	if s.err != nil {
		return nil, s.err
	}
	if customerID != s.req.CustomerID || id != s.req.ID {
		return nil, services.ErrNotFound
	}
	return s.req, nil
}

func (s *stubSignatureRequests) List(ctx context.Context, query *repository.SignatureRequestQuery) ([]models.SignatureRequest, int64, error) {
	s.listQuery = query
	return []models.SignatureRequest{*s.req}, 41, s.err
}

func (s *stubSignatureRequests) Resend(ctx context.Context, in services.ResendInput) (*models.SignatureRequest, error) {
	s.resent = in
	return s.req, s.err
}

func (s *stubSignatureRequests) Archive(ctx context.Context, customerID, id, reason string, actor geoip.Actor) (*models.SignatureRequest, error) {
	s.archived, s.reason = id, reason
	return s.req, s.err
}

func (s *stubSignatureRequests) Discard(ctx context.Context, customerID, id, reason string, actor geoip.Actor) (*services.DiscardResult, error) {
	s.discarded, s.reason = id, reason
	return s.discard, s.err
}

type stubPublicSigning struct {
	PublicSigning
	req       *models.SignatureRequest
	completed services.CompleteInput
	image     []byte
	match     bool
	err       error
}

func (s *stubPublicSigning) ValidateAccess(ctx context.Context, shortID, accessKey string, actor geoip.Actor) (*models.SignatureRequest, error) {
	return s.req, s.err
}

func (s *stubPublicSigning) CompleteSignature(ctx context.Context, in services.CompleteInput) (*models.SignatureRequest, error) {
	s.completed = in
	return s.req, s.err
}

func (s *stubPublicSigning) DownloadDocument(ctx context.Context, shortID, accessKey string, actor geoip.Actor) (*models.SignatureRequest, error) {
	return s.req, s.err
}

func (s *stubPublicSigning) VerifyDocument(ctx context.Context, shortID, accessKey, submittedHash string, actor geoip.Actor) (bool, error) {
	return s.match, s.err
}

func (s *stubPublicSigning) SignatureImage(ctx context.Context, req *models.SignatureRequest) ([]byte, error) {
	return s.image, nil
}

type stubRenderer struct{ image []byte }

func (r *stubRenderer) SignedDocumentPDF(req *models.SignatureRequest, signatureImage []byte) ([]byte, string, error) {
	r.image = signatureImage
	return []byte("%PDF-1.3 test"), services.SignedDocumentFileName(req), nil
}

type stubAuditTrails struct {
	AuditTrails
	result ledger.Result
	export *services.Export
	format string
	err    error
}

func (s *stubAuditTrails) Verify(ctx context.Context, customerID, id string) (ledger.Result, error) {
	return s.result, s.err
}

func (s *stubAuditTrails) Export(ctx context.Context, customerID, id, format string) (*services.Export, error) {
	s.format = format
	return s.export, s.err
}

func (s *stubAuditTrails) Certificate(ctx context.Context, customerID, id string, actor geoip.Actor) (*services.Export, error) {
	return s.export, s.err
}

func sampleRequest() *models.SignatureRequest {
	hash := "ab12"
	signedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.SignatureRequest{
		ID:          "req-1",
		ShortID:     "AbCdEfGhIj",
		AccessKey:   "Qk1lMz",
		CustomerID:  "cust-1",
		ContractID:  "c1",
		Status:      models.SignatureStatusPending,
		Channel:     models.ChannelEmail,
		SignerName:  "Alice",
		SignerEmail: "alice@example.com",
		Snapshot: models.ContractSnapshot{
			Name:    "Contrato de compraventa",
			Content: "Texto del contrato",
			Fields:  `[{"key":"dni","label":"DNI","required":true}]`,
		},
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		SignedAt:     &signedAt,
		DocumentHash: &hash,
	}
}

func sessionToken(t *testing.T, customerID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":     "user-1",
		"customer_id": customerID,
		"role":        models.RoleUser,
		"exp":         time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func testRouter(sr SignatureRequests, audit AuditTrails, public PublicSigning, renderer DocumentRenderer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	srh := NewSignatureRequestHandler(sr)
	ah := NewAuditHandler(audit)
	ph := NewPublicSignHandler(public, renderer)

	authed := r.Group("/signature-requests", middleware.Auth(testJWTSecret))
	authed.POST("", srh.Create)
	authed.GET("", srh.Index)
	authed.GET("/:id", srh.Show)
	authed.PATCH("/:id", srh.Update)
	authed.DELETE("/:id", srh.Delete)
	authed.GET("/:id/audit/verify", ah.Verify)
	authed.GET("/:id/audit/export.csv", ah.ExportCSV)
	authed.GET("/:id/audit/certificate.pdf", ah.Certificate)

	r.GET("/sign-requests/:shortId", ph.Show)
	r.PUT("/sign-requests/:shortId", ph.Sign)
	r.GET("/sign-requests/:shortId/document", ph.Document)
	r.POST("/sign-requests/:shortId/verify", ph.Verify)
	return r
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
