package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestSignatureRequestRepository_Transition(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignatureRequestRepository(db)
	reason := "cliente desistió"

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "signature_requests" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Transition(context.Background(), "req-1", []string{models.SignatureStatusPending}, StatusChange{
		To:     models.SignatureStatusArchived,
		At:     time.Now(),
		Reason: &reason,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignatureRequestRepository_CompleteLosesRace(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignatureRequestRepository(db)

	mock.ExpectExec(`UPDATE "signature_requests" SET .* WHERE short_id = .* AND status = .* AND expires_at > `).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Complete(context.Background(), "abc123", time.Now(), Completion{
		SignedAt:     time.Now(),
		DocumentHash: "deadbeef",
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignatureRequestRepository_ReserveEmailSendHonoursLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignatureRequestRepository(db)

	mock.ExpectExec(`UPDATE "signature_requests" SET .*email_send_count.* WHERE id = .* AND email_send_count < `).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ReserveEmailSend(context.Background(), "req-1", 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignatureRequestRepository_DeleteExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignatureRequestRepository(db)

	mock.ExpectExec(`DELETE FROM "signature_requests" WHERE id = .* AND status = .* AND expires_at <= `).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.DeleteExpired(context.Background(), "req-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignatureRequestRepository_DeleteUnopened(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignatureRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "signature_requests" WHERE id = $1 AND status IN ($2,$3) AND first_accessed_at IS NULL`)).
		WithArgs("req-1", models.SignatureStatusPending, models.SignatureStatusArchived).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.DeleteUnopened(context.Background(), "req-1", []string{models.SignatureStatusPending, models.SignatureStatusArchived})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignatureRequestRepository_DeleteUnopenedSkipsAccessedRequest(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignatureRequestRepository(db)

	// the signer opened the link between the check and the delete
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "signature_requests" WHERE id = $1 AND status IN ($2) AND first_accessed_at IS NULL`)).
		WithArgs("req-1", models.SignatureStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DeleteUnopened(context.Background(), "req-1", []string{models.SignatureStatusPending})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignatureRequestRepository_MarkAccessedRequiresPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignatureRequestRepository(db)

	mock.ExpectExec(`UPDATE "signature_requests" SET "first_accessed_at"=COALESCE\(first_accessed_at, .*\).* WHERE id = .* AND status = `).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkAccessed(context.Background(), "req-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignatureRequestRepository_FindActiveForSignerWithoutIdentity(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignatureRequestRepository(db)

	req, err := repo.FindActiveForSigner(context.Background(), "cust-1", "contract-1", "", "")
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditEventRepository_AppendLocksChainAndPassesTail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditEventRepository(db)
	buildErr := errors.New("stop")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"id", "sign_request_id", "contract_id", "event_type", "sequence", "timestamp", "metadata", "hash"}).
		AddRow("evt-3", "req-1", "contract-1", "request.accessed", 3, time.Now(), "{}", "abc")
	mock.ExpectQuery(`SELECT \* FROM "audit_events" WHERE sign_request_id = .* ORDER BY sequence DESC`).
		WillReturnRows(rows)
	mock.ExpectRollback()

	var seen *models.AuditEvent
	_, err := repo.Append(context.Background(), "req-1", func(tail *models.AuditEvent) (*models.AuditEvent, error) {
		seen = tail
		return nil, buildErr
	})
	assert.ErrorIs(t, err, buildErr)
	require.NotNil(t, seen)
	assert.Equal(t, 3, seen.Sequence)
	assert.Equal(t, "abc", seen.Hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditEventRepository_AppendFailsWhenLockFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditEventRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	called := false
	_, err := repo.Append(context.Background(), "req-1", func(tail *models.AuditEvent) (*models.AuditEvent, error) {
		called = true
		return nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to lock chain")
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_NestedCallsJoinOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	tx := NewTransactor(db)

	mock.ExpectBegin()
	mock.ExpectCommit()

	var inner bool
	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		return tx.WithinTransaction(ctx, func(ctx context.Context) error {
			inner = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, inner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLegacyAuditRepository_MarkMigratedNoIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLegacyAuditRepository(db)

	require.NoError(t, repo.MarkMigrated(context.Background(), nil, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
