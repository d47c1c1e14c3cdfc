package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditTrailService_TrailAndSummary(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, models.ChannelEmail)
	_, err := f.svc.ValidateAccess(context.Background(), req.ShortID, req.AccessKey, geoip.Actor{IPAddress: "190.5.5.5"})
	require.NoError(t, err)
	f.advance(time.Minute)
	f.sign(t, req)

	view, err := f.trail.Trail(context.Background(), testCustomer, req.ID)
	require.NoError(t, err)
	assert.Equal(t, len(view.Events), view.Trail.TotalEvents)
	assert.Equal(t, 1, view.Trail.TotalAccesses)
	assert.True(t, view.Trail.Sealed)
	require.NotNil(t, view.Summary.Created)
	require.NotNil(t, view.Summary.Sent)
	require.NotNil(t, view.Summary.Signature)
	require.NotNil(t, view.Summary.Sealed)
	assert.Equal(t, "190.5.5.5", view.Summary.Accesses[0].Actor.IPAddress)

	again, err := f.trail.Summarize(context.Background(), testCustomer, req.ID)
	require.NoError(t, err)
	assert.Equal(t, view.Summary, again)

	_, err = f.trail.Trail(context.Background(), "other-customer", req.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditTrailService_VerifyDetectsTampering(t *testing.T) {
	f := newFixture(t)
	req := f.sign(t, f.create(t, models.ChannelEmail))

	result, err := f.trail.Verify(context.Background(), testCustomer, req.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	f.store.mu.Lock()
	chain := f.store.events[req.ID]
	chain[1].IPAddress = "6.6.6.6"
	f.store.mu.Unlock()

	result, err = f.trail.Verify(context.Background(), testCustomer, req.ID)
	assert.ErrorIs(t, err, ErrIntegrityMismatch)
	assert.False(t, result.Valid)
	assert.Contains(t, result.TamperedAt, 1)
}

func TestAuditTrailService_VerifyChainOfDeletedRequest(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, models.ChannelLink)
	_, err := f.svc.Discard(context.Background(), testCustomer, req.ID, "error", geoip.Actor{})
	require.NoError(t, err)

	result, err := f.trail.VerifyChain(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.EventCount)

	_, err = f.trail.VerifyChain(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditTrailService_CertificateAndExports(t *testing.T) {
	f := newFixture(t)
	req := f.sign(t, f.create(t, models.ChannelEmail))
	ctx := context.Background()

	cert, err := f.trail.Certificate(ctx, testCustomer, req.ID, geoip.Actor{})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", cert.ContentType)
	assert.True(t, strings.HasPrefix(string(cert.Data), "%PDF"))
	assert.Contains(t, f.store.eventTypes(req.ID), models.EventCertificateDownloaded)

	xlsx, err := f.trail.Export(ctx, testCustomer, req.ID, ExportFormatXLSX)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(xlsx.FileName, ".xlsx"))
	assert.Equal(t, "PK", string(xlsx.Data[:2]))

	csv, err := f.trail.Export(ctx, testCustomer, req.ID, ExportFormatCSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv.Data)), "\n")
	assert.Equal(t, len(f.store.chain(req.ID))+1, len(lines))
	assert.True(t, strings.HasPrefix(lines[1], "1,"))

	_, err = f.trail.Export(ctx, testCustomer, req.ID, "json")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAuditTrailService_LegacyView(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, models.ChannelEmail)

	logs, err := f.trail.LegacyView(context.Background(), testCustomer, req.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, LegacyActionCreate, logs[0].Action)
	assert.Equal(t, LegacyActionNotify, logs[1].Action)
	assert.Equal(t, LegacyActionSend, logs[2].Action)
	assert.Equal(t, models.AuditEntitySignatureRequest, logs[0].Entity)
}
