package ledger

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, n int) []models.AuditEvent {
	t.Helper()
	base := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	events := make([]models.AuditEvent, 0, n)
	for i := 0; i < n; i++ {
		user := "signer-1"
		e := models.AuditEvent{
			ID:            fmt.Sprintf("evt-%d", i),
			SignRequestID: "req-1",
			ContractID:    "c1",
			UserID:        &user,
			EventType:     models.EventRequestAccessed,
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			IPAddress:     "203.0.113.7",
			UserAgent:     "Mozilla/5.0",
		}
		e.SetGeo(&models.GeoLocation{Country: "Honduras", CountryCode: "HN", City: "Tegucigalpa", Latitude: 14.0818})
		require.NoError(t, e.SetMetadata(models.RequestAccessedMetadata{ShortID: "AbCdEfGhIj", KeyFormat: "stored"}))
		var prev *models.AuditEvent
		if i > 0 {
			prev = &events[i-1]
		}
		require.NoError(t, Link(&e, prev))
		events = append(events, e)
	}
	return events
}

func TestCanonicalizeSortsKeysAtEveryDepth(t *testing.T) {
	out, err := Canonicalize(map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":"x","z":true},"b":1}`, string(out))
}

func TestCanonicalizeKeepsNumberLiterals(t *testing.T) {
	out, err := canonicalizeRaw([]byte(`{"amount": 12.50, "big": 9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, `{"amount":12.50,"big":9007199254740993}`, string(out))
}

func TestLinkChainsEvents(t *testing.T) {
	events := buildChain(t, 5)

	assert.Nil(t, events[0].PreviousHash)
	assert.Equal(t, 1, events[0].Sequence)
	for i := 1; i < len(events); i++ {
		require.NotNil(t, events[i].PreviousHash)
		assert.Equal(t, events[i-1].Hash, *events[i].PreviousHash)
		assert.Equal(t, i+1, events[i].Sequence)
	}
	// truncated to store precision
	assert.Equal(t, 0, events[0].Timestamp.Nanosecond()%1000)
}

func TestLinkKeepsTimestampsMonotonic(t *testing.T) {
	events := buildChain(t, 1)
	e := models.AuditEvent{
		SignRequestID: "req-1",
		ContractID:    "c1",
		EventType:     models.EventRequestViewed,
		Timestamp:     events[0].Timestamp.Add(-time.Hour),
		Metadata:      `{"short_id":"AbCdEfGhIj"}`,
	}
	require.NoError(t, Link(&e, &events[0]))
	assert.Equal(t, events[0].Timestamp, e.Timestamp)
}

func TestEventHashIsDeterministic(t *testing.T) {
	events := buildChain(t, 1)
	again, err := EventHash(&events[0])
	require.NoError(t, err)
	assert.Equal(t, events[0].Hash, again)

	// key order of the stored metadata does not change the digest
	reordered := events[0]
	reordered.Metadata = `{"key_format":"stored","short_id":"AbCdEfGhIj"}`
	h, err := EventHash(&reordered)
	require.NoError(t, err)
	assert.Equal(t, events[0].Hash, h)
}

func TestVerifyValidChain(t *testing.T) {
	for _, n := range []int{0, 1, 2, 10} {
		res := Verify(buildChain(t, n))
		assert.True(t, res.Valid, "n=%d errors=%v", n, res.Errors)
		assert.Empty(t, res.Errors)
		assert.Equal(t, n, res.EventCount)
	}
}

func TestVerifyDetectsSingleFieldTampering(t *testing.T) {
	tamper := map[string]func(e *models.AuditEvent){
		"ip address":    func(e *models.AuditEvent) { e.IPAddress = "198.51.100.1" },
		"event type":    func(e *models.AuditEvent) { e.EventType = models.EventRequestViewed },
		"timestamp":     func(e *models.AuditEvent) { e.Timestamp = e.Timestamp.Add(time.Second) },
		"contract id":   func(e *models.AuditEvent) { e.ContractID = "c2" },
		"metadata":      func(e *models.AuditEvent) { e.Metadata = `{"short_id":"XXXXXXXXXX","key_format":"stored"}` },
		"hash":          func(e *models.AuditEvent) { e.Hash = strings.Repeat("0", 64) },
		"request id":    func(e *models.AuditEvent) { e.SignRequestID = "req-2" },
		"previous hash": func(e *models.AuditEvent) { ph := "ff"; e.PreviousHash = &ph },
		"user id":       func(e *models.AuditEvent) { u := "someone-else"; e.UserID = &u },
		"no user id":    func(e *models.AuditEvent) { e.UserID = nil },
		"user agent":    func(e *models.AuditEvent) { e.UserAgent = "curl/8.0" },
		"geo location":  func(e *models.AuditEvent) { e.SetGeo(&models.GeoLocation{Country: "Panama", CountryCode: "PA"}) },
		"no geo":        func(e *models.AuditEvent) { e.GeoLocation = nil },
		"sequence":      func(e *models.AuditEvent) { e.Sequence += 7 },
		"context hash":  func(e *models.AuditEvent) { e.ContextHash = strings.Repeat("0", 64) },
	}

	for name, mutate := range tamper {
		for _, idx := range []int{0, 2, 4} {
			t.Run(fmt.Sprintf("%s at %d", name, idx), func(t *testing.T) {
				events := buildChain(t, 5)
				mutate(&events[idx])

				res := Verify(events)
				assert.False(t, res.Valid)
				assert.Contains(t, res.TamperedAt, idx)
				joined := fmt.Sprint(res.Errors)
				assert.Contains(t, joined, fmt.Sprintf("event %d:", idx))
			})
		}
	}
}

func TestVerifyToleratesGeoKeyOrder(t *testing.T) {
	events := buildChain(t, 2)
	// jsonb hands the object back with its own key order and spacing
	geo := `{"city": "Tegucigalpa", "latitude": 14.0818, "country_code": "HN", "country": "Honduras"}`
	events[1].GeoLocation = &geo

	res := Verify(events)
	assert.True(t, res.Valid, res.Errors)
}

func TestVerifyReportsSequenceGap(t *testing.T) {
	events := buildChain(t, 4)
	// a deleted row leaves a hole in the numbering
	events = append(events[:2], events[3:]...)

	res := Verify(events)
	assert.False(t, res.Valid)
	assert.Contains(t, res.TamperedAt, 2)
	assert.Contains(t, fmt.Sprint(res.Errors), "sequence 4 out of order, expected 3")
}

func TestVerifySealCoversActorContext(t *testing.T) {
	events := buildChain(t, 3)
	seal := models.AuditEvent{
		SignRequestID: "req-1",
		ContractID:    "c1",
		EventType:     models.EventSignatureSealed,
		Timestamp:     events[2].Timestamp.Add(time.Second),
	}
	require.NoError(t, seal.SetMetadata(models.SignatureSealedMetadata{
		SealHash:     SealHash(events),
		ContextSeal:  ContextSeal(events),
		SealedEvents: 3,
	}))
	require.NoError(t, Link(&seal, &events[2]))
	events = append(events, seal)
	require.True(t, Verify(events).Valid)

	// rewrite the signer and recompute the row's context digest
	forged := "someone-else"
	events[1].UserID = &forged
	ctxHash, err := ContextHash(&events[1])
	require.NoError(t, err)
	events[1].ContextHash = ctxHash

	res := Verify(events)
	assert.False(t, res.Valid)
	assert.True(t, res.SealMismatch)
	assert.Contains(t, res.Errors, ErrSealMismatch)
}

func TestVerifySeal(t *testing.T) {
	events := buildChain(t, 3)
	seal := models.AuditEvent{
		ID:            "seal",
		SignRequestID: "req-1",
		ContractID:    "c1",
		EventType:     models.EventSignatureSealed,
		Timestamp:     events[2].Timestamp.Add(time.Second),
	}
	require.NoError(t, seal.SetMetadata(models.SignatureSealedMetadata{SealHash: SealHash(events), SealedEvents: 3}))
	require.NoError(t, Link(&seal, &events[2]))
	events = append(events, seal)

	res := Verify(events)
	require.True(t, res.Valid, res.Errors)
	assert.True(t, res.Sealed)
	assert.Equal(t, SealHash(events[:3]), res.SealHash)

	// events after the seal are not covered by it
	download := models.AuditEvent{
		SignRequestID: "req-1",
		ContractID:    "c1",
		EventType:     models.EventPDFDownloaded,
		Timestamp:     seal.Timestamp.Add(time.Minute),
		Metadata:      `{"file_name":"signed.pdf"}`,
	}
	require.NoError(t, Link(&download, &events[3]))
	assert.True(t, Verify(append(events, download)).Valid)
}

func TestVerifyDetectsResealedTamperedChain(t *testing.T) {
	events := buildChain(t, 3)
	seal := models.AuditEvent{
		SignRequestID: "req-1",
		ContractID:    "c1",
		EventType:     models.EventSignatureSealed,
		Timestamp:     events[2].Timestamp,
	}
	require.NoError(t, seal.SetMetadata(models.SignatureSealedMetadata{SealHash: "deadbeef", SealedEvents: 3}))
	require.NoError(t, Link(&seal, &events[2]))
	events = append(events, seal)

	res := Verify(events)
	assert.False(t, res.Valid)
	assert.True(t, res.SealMismatch)
	assert.Contains(t, res.Errors, ErrSealMismatch)
}
