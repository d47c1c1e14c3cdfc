package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/chainlock"
	"github.com/sjperalta/fintera-sign-api/internal/jobs"
	"github.com/sjperalta/fintera-sign-api/internal/keys"
	"github.com/sjperalta/fintera-sign-api/internal/ledger"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// memStore is an in-memory document store shared by the fake repositories.
// Transactions are serialized and roll back by restoring a snapshot.
type memStore struct {
	mu        sync.Mutex
	requests  map[string]models.SignatureRequest
	contracts map[string]models.Contract
	events    map[string][]models.AuditEvent
	logs      []models.AuditLog
	nextLogID uint

	txMu sync.Mutex

	// hooks that let a test interleave a concurrent writer
	beforeDelete       func()
	beforeMarkAccessed func()
	beforeRotate       func()
}

func newMemStore() *memStore {
	return &memStore{
		requests:  map[string]models.SignatureRequest{},
		contracts: map[string]models.Contract{},
		events:    map[string][]models.AuditEvent{},
	}
}

type memSnapshot struct {
	requests map[string]models.SignatureRequest
	events   map[string][]models.AuditEvent
	logs     []models.AuditLog
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		requests: make(map[string]models.SignatureRequest, len(s.requests)),
		events:   make(map[string][]models.AuditEvent, len(s.events)),
		logs:     append([]models.AuditLog(nil), s.logs...),
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	for k, v := range s.events {
		snap.events[k] = append([]models.AuditEvent(nil), v...)
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = snap.requests
	s.events = snap.events
	s.logs = snap.logs
}

func (s *memStore) request(id string) (models.SignatureRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	return r, ok
}

func (s *memStore) chain(id string) []models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEvent(nil), s.events[id]...)
}

func (s *memStore) eventTypes(id string) []models.EventType {
	var out []models.EventType
	for _, e := range s.chain(id) {
		out = append(out, e.EventType)
	}
	return out
}

func (s *memStore) put(req models.SignatureRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
}

type memTxKey struct{}

type memTransactor struct{ store *memStore }

func (t memTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	t.store.txMu.Lock()
	defer t.store.txMu.Unlock()
	snap := t.store.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

type memRequestRepo struct{ store *memStore }

func (r memRequestRepo) Create(ctx context.Context, req *models.SignatureRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.requests {
		if existing.ShortID == req.ShortID {
			return errors.New("duplicate short id")
		}
	}
	r.store.requests[req.ID] = *req
	return nil
}

func (r memRequestRepo) FindByID(ctx context.Context, customerID, id string) (*models.SignatureRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requests[id]
	if !ok || req.CustomerID != customerID {
		return nil, gorm.ErrRecordNotFound
	}
	return &req, nil
}

func (r memRequestRepo) FindByShortID(ctx context.Context, shortID string) (*models.SignatureRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, req := range r.store.requests {
		if req.ShortID == shortID {
			return &req, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memRequestRepo) FindActiveForSigner(ctx context.Context, customerID, contractID, email, phone string) (*models.SignatureRequest, error) {
	if email == "" && phone == "" {
		return nil, nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, req := range r.store.requests {
		if req.CustomerID != customerID || req.ContractID != contractID {
			continue
		}
		if req.Status != models.SignatureStatusPending && !req.IsTerminal() {
			continue
		}
		if req.SameSigner(email, phone) {
			return &req, nil
		}
	}
	return nil, nil
}

func (r memRequestRepo) List(ctx context.Context, query *repository.SignatureRequestQuery) ([]models.SignatureRequest, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.SignatureRequest
	for _, req := range r.store.requests {
		if req.CustomerID != query.CustomerID {
			continue
		}
		if query.Status != "" && req.EffectiveStatus(query.Now) != query.Status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r memRequestRepo) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.SignatureRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.SignatureRequest
	for _, req := range r.store.requests {
		if req.Status == models.SignatureStatusPending && !req.ExpiresAt.After(now) {
			out = append(out, req)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memRequestRepo) update(id string, match func(models.SignatureRequest) bool, apply func(*models.SignatureRequest)) bool {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requests[id]
	if !ok || !match(req) {
		return false
	}
	apply(&req)
	r.store.requests[id] = req
	return true
}

func statusIn(statuses []string) func(models.SignatureRequest) bool {
	return func(req models.SignatureRequest) bool {
		for _, s := range statuses {
			if req.Status == s {
				return true
			}
		}
		return false
	}
}

func (r memRequestRepo) UpdateChannel(ctx context.Context, id, channel string) (bool, error) {
	return r.update(id, statusIn([]string{models.SignatureStatusPending}), func(req *models.SignatureRequest) {
		req.Channel = channel
	}), nil
}

func (r memRequestRepo) Transition(ctx context.Context, id string, from []string, change repository.StatusChange) (bool, error) {
	return r.update(id, statusIn(from), func(req *models.SignatureRequest) {
		req.Status = change.To
		switch change.To {
		case models.SignatureStatusArchived:
			req.ArchivedAt = &change.At
			req.ArchiveReason = change.Reason
		case models.SignatureStatusDiscarded:
			req.DiscardedAt = &change.At
			req.DiscardReason = change.Reason
		}
	}), nil
}

func (r memRequestRepo) RotateAccess(ctx context.Context, id, expectedShortID string, rot repository.AccessRotation) (bool, error) {
	if r.store.beforeRotate != nil {
		r.store.beforeRotate()
	}
	return r.update(id, func(req models.SignatureRequest) bool {
		return req.Status == models.SignatureStatusPending && req.ShortID == expectedShortID
	}, func(req *models.SignatureRequest) {
		req.ShortID = rot.ShortID
		req.AccessKey = rot.AccessKey
		req.SignatureURL = rot.SignatureURL
		req.Channel = rot.Channel
		req.ExpiresAt = rot.ExpiresAt
		req.ResendCount++
		req.LastResendAt = &rot.At
	}), nil
}

func (r memRequestRepo) Complete(ctx context.Context, shortID string, now time.Time, c repository.Completion) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, req := range r.store.requests {
		if req.ShortID != shortID || req.Status != models.SignatureStatusPending || !req.ExpiresAt.After(now) {
			continue
		}
		req.Status = models.SignatureStatusSigned
		req.SignedAt = &c.SignedAt
		req.DocumentHash = &c.DocumentHash
		req.SignatureMetadata = &c.SignatureMetadata
		req.QualifiedTimestamp = &c.QualifiedTimestamp
		req.SignaturePath = c.SignaturePath
		r.store.requests[id] = req
		return true, nil
	}
	return false, nil
}

func (r memRequestRepo) SetSealHash(ctx context.Context, id, sealHash string) error {
	r.update(id, func(models.SignatureRequest) bool { return true }, func(req *models.SignatureRequest) {
		req.SealHash = &sealHash
	})
	return nil
}

func (r memRequestRepo) ReserveEmailSend(ctx context.Context, id string, limit int) (bool, error) {
	return r.update(id, func(req models.SignatureRequest) bool {
		return req.EmailSendCount < limit
	}, func(req *models.SignatureRequest) {
		req.EmailSendCount++
	}), nil
}

func (r memRequestRepo) AppendSendHistory(ctx context.Context, id string, send models.EmailSend) error {
	r.update(id, func(models.SignatureRequest) bool { return true }, func(req *models.SignatureRequest) {
		history := req.Emails()
		history = append(history, send)
		b, _ := json.Marshal(history)
		req.EmailHistory = string(b)
		req.LastSentAt = &send.At
	})
	return nil
}

func (r memRequestRepo) MarkAccessed(ctx context.Context, id string, at time.Time) (bool, error) {
	if r.store.beforeMarkAccessed != nil {
		r.store.beforeMarkAccessed()
	}
	return r.update(id, statusIn([]string{models.SignatureStatusPending}), func(req *models.SignatureRequest) {
		if req.FirstAccessedAt == nil {
			req.FirstAccessedAt = &at
		}
	}), nil
}

func (r memRequestRepo) DeleteUnopened(ctx context.Context, id string, statuses []string) (bool, error) {
	if r.store.beforeDelete != nil {
		r.store.beforeDelete()
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requests[id]
	if !ok || !statusIn(statuses)(req) || req.FirstAccessedAt != nil {
		return false, nil
	}
	delete(r.store.requests, id)
	return true, nil
}

func (r memRequestRepo) DeleteExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req, ok := r.store.requests[id]
	if !ok || req.Status != models.SignatureStatusPending || req.ExpiresAt.After(now) {
		return false, nil
	}
	delete(r.store.requests, id)
	return true, nil
}

type memContractRepo struct{ store *memStore }

func (r memContractRepo) FindForCustomer(ctx context.Context, customerID, id string) (*models.Contract, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.contracts[id]
	if !ok || c.CustomerID != customerID {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (r memContractRepo) Create(ctx context.Context, contract *models.Contract) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.contracts[contract.ID] = *contract
	return nil
}

type memAuditRepo struct {
	store *memStore
	// failSeal makes AppendWithChain fail, as a lost database would
	failSeal bool
}

func (r *memAuditRepo) insert(signRequestID string, e *models.AuditEvent) (*models.AuditEvent, error) {
	chain := r.store.events[signRequestID]
	var tail *models.AuditEvent
	if len(chain) > 0 {
		tail = &chain[len(chain)-1]
	}
	if err := ledger.Link(e, tail); err != nil {
		return nil, err
	}
	r.store.events[signRequestID] = append(chain, *e)
	return e, nil
}

func (r *memAuditRepo) Append(ctx context.Context, signRequestID string, build repository.ChainBuilder) (*models.AuditEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var tail *models.AuditEvent
	if chain := r.store.events[signRequestID]; len(chain) > 0 {
		last := chain[len(chain)-1]
		tail = &last
	}
	e, err := build(tail)
	if err != nil {
		return nil, err
	}
	return r.insert(signRequestID, e)
}

func (r *memAuditRepo) AppendWithChain(ctx context.Context, signRequestID string, build repository.SealBuilder) (*models.AuditEvent, error) {
	if r.failSeal {
		return nil, errors.New("connection reset")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, err := build(append([]models.AuditEvent(nil), r.store.events[signRequestID]...))
	if err != nil {
		return nil, err
	}
	return r.insert(signRequestID, e)
}

func (r *memAuditRepo) FindBySignRequest(ctx context.Context, signRequestID string) ([]models.AuditEvent, error) {
	return r.store.chain(signRequestID), nil
}

func (r *memAuditRepo) CountByType(ctx context.Context, signRequestID string, eventType models.EventType) (int64, error) {
	var n int64
	for _, e := range r.store.chain(signRequestID) {
		if e.EventType == eventType {
			n++
		}
	}
	return n, nil
}

type memLegacyRepo struct{ store *memStore }

func (r memLegacyRepo) Create(ctx context.Context, log *models.AuditLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextLogID++
	log.ID = r.store.nextLogID
	r.store.logs = append(r.store.logs, *log)
	return nil
}

func (r memLegacyRepo) FindByEntity(ctx context.Context, entity, entityID string) ([]models.AuditLog, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.AuditLog
	for _, l := range r.store.logs {
		if l.Entity == entity && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memLegacyRepo) MarkMigrated(ctx context.Context, ids []uint, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, id := range ids {
		for i := range r.store.logs {
			if r.store.logs[i].ID == id && r.store.logs[i].MigratedAt == nil {
				r.store.logs[i].MigratedAt = &at
			}
		}
	}
	return nil
}

// syncRunner runs fire-and-forget jobs inline so tests can assert on them
type syncRunner struct{}

func (syncRunner) EnqueueAsync(job jobs.Job) {
	_ = job(context.Background())
}

type fakeNotifier struct {
	mu     sync.Mutex
	links  []SigningLink
	result SendResult
}

func (n *fakeNotifier) Send(ctx context.Context, link SigningLink) SendResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, link)
	return n.result
}

func (n *fakeNotifier) sent() []SigningLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SigningLink(nil), n.links...)
}

type fakeAuthority struct {
	err error
	// gate, when set, is waited on before answering
	gate *sync.WaitGroup
}

func (a *fakeAuthority) Timestamp(ctx context.Context, hashHex string) (*models.QualifiedTimestamp, error) {
	if a.gate != nil {
		a.gate.Done()
		a.gate.Wait()
	}
	if a.err != nil {
		return nil, a.err
	}
	return &models.QualifiedTimestamp{
		Timestamp:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		TSAURL:       "https://tsa.test",
		Verified:     true,
		SerialNumber: "42",
		Token:        "dG9rZW4=",
	}, nil
}

type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
	next  int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{files: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, prefix string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	path := fmt.Sprintf("%s/%d.blob", prefix, b.next)
	b.files[path] = append([]byte(nil), data...)
	return path, nil
}

func (b *memBlobs) Get(_ context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[path]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (b *memBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, path)
	return nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

const (
	testCustomer = "cust-1"
	testContract = "c1"
)

type fixture struct {
	store     *memStore
	audit     *memAuditRepo
	repos     *repository.Repositories
	events    *EventLogger
	notifier  *fakeNotifier
	authority *fakeAuthority
	blobs     *memBlobs
	svc       *SignatureRequestService
	trail     *AuditTrailService
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	audit := &memAuditRepo{store: store}
	repos := &repository.Repositories{
		SignatureRequest: memRequestRepo{store: store},
		Contract:         memContractRepo{store: store},
		AuditEvent:       audit,
		LegacyAudit:      memLegacyRepo{store: store},
		Tx:               memTransactor{store: store},
	}
	provider, err := keys.NewHKDFProvider("test-master-key-with-enough-entropy", 8)
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		audit:     audit,
		repos:     repos,
		notifier:  &fakeNotifier{result: SendResult{Success: true, ProviderID: "msg-1"}},
		authority: &fakeAuthority{},
		blobs:     newMemBlobs(),
		now:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.events = NewEventLogger(audit, chainlock.NewLocalLocker(), nil, syncRunner{})
	f.events.now = clock
	f.svc = NewSignatureRequestService(repos, f.events, f.notifier, f.authority, provider, f.blobs, SignatureSettings{
		PublicBaseURL:  "https://firmas.test",
		TTL:            7 * 24 * time.Hour,
		EmailSendLimit: 5,
	})
	f.svc.now = clock
	legacy := NewLegacyBridge(repos.LegacyAudit, repos.Tx, f.events, false)
	legacy.now = clock
	f.trail = NewAuditTrailService(repos.SignatureRequest, f.events, NewExportService(), legacy)
	f.trail.now = clock

	require.NoError(t, repos.Contract.Create(context.Background(), &models.Contract{
		ID:         testContract,
		CustomerID: testCustomer,
		Name:       "Contrato de compraventa",
		Content:    "El comprador acepta las condiciones.",
		Fields:     `[{"key":"dni","label":"DNI","type":"text","required":true}]`,
	}))
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) create(t *testing.T, channel string) *models.SignatureRequest {
	t.Helper()
	res, err := f.svc.Create(context.Background(), CreateInput{
		CustomerID:  testCustomer,
		UserID:      "user-1",
		ContractID:  testContract,
		SignerName:  "Alice",
		SignerEmail: "alice@example.com",
		SignerPhone: "+50499990000",
		Channel:     channel,
	})
	require.NoError(t, err)
	require.Equal(t, CreateKindCreated, res.Kind)
	return res.Request
}

func (f *fixture) sign(t *testing.T, req *models.SignatureRequest) *models.SignatureRequest {
	t.Helper()
	signed, err := f.svc.CompleteSignature(context.Background(), CompleteInput{
		ShortID:     req.ShortID,
		AccessKey:   req.AccessKey,
		Signature:   pngSignature,
		FieldValues: map[string]string{"dni": "0801-1990-12345"},
	})
	require.NoError(t, err)
	return signed
}

// pngSignature starts with the PNG magic so content sniffing treats it as an image
var pngSignature = []byte("\x89PNG\r\n\x1a\n-signature-strokes-")

func countType(types []models.EventType, t models.EventType) int {
	n := 0
	for _, et := range types {
		if et == t {
			n++
		}
	}
	return n
}

func joinTypes(types []models.EventType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
