// Package ledger holds the hash-chain rules of the audit ledger: the
// canonical serialization each event hash is computed over, the seal digest
// and the verification scan. Everything here is pure; persistence and
// locking live in the repository and services layers.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/models"
)

// Precision is the timestamp resolution kept by the document store.
// Event times are truncated to it before hashing.
const Precision = time.Microsecond

// Canonicalize serializes v as JSON with object keys sorted at every depth.
// Numbers keep their literal form so a decode/encode round trip is stable.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return canonicalizeRaw(raw)
}

func canonicalizeRaw(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order
	return json.Marshal(generic)
}

func decodeJSON(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// hashInput mirrors the fields covered by an event hash
func hashInput(e *models.AuditEvent) (map[string]any, error) {
	metadata := strings.TrimSpace(e.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	md, err := decodeJSON(metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata is not valid JSON: %w", err)
	}

	var previous any
	if e.PreviousHash != nil {
		previous = *e.PreviousHash
	}

	return map[string]any{
		"signRequestId": e.SignRequestID,
		"contractId":    e.ContractID,
		"eventType":     string(e.EventType),
		"timestamp":     models.FormatEventTime(e.Timestamp),
		"ipAddress":     e.IPAddress,
		"metadata":      md,
		"previousHash":  previous,
	}, nil
}

// EventHash computes the SHA-256 hex digest of the event's canonical form.
// The stored Hash field is not part of the input.
func EventHash(e *models.AuditEvent) (string, error) {
	input, err := hashInput(e)
	if err != nil {
		return "", err
	}
	canonical, err := Canonicalize(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ContextHash digests the fields the event hash leaves out: who acted, from
// where, and the event's position in the chain. Hash is part of the input so
// the digest cannot be moved to another event.
func ContextHash(e *models.AuditEvent) (string, error) {
	var user, geo any
	if e.UserID != nil {
		user = *e.UserID
	}
	if e.GeoLocation != nil && strings.TrimSpace(*e.GeoLocation) != "" {
		decoded, err := decodeJSON(*e.GeoLocation)
		if err != nil {
			return "", fmt.Errorf("geo location is not valid JSON: %w", err)
		}
		geo = decoded
	}
	return Digest(map[string]any{
		"hash":        e.Hash,
		"sequence":    e.Sequence,
		"userId":      user,
		"userAgent":   e.UserAgent,
		"geoLocation": geo,
	})
}

// SealHash digests the concatenated hashes of every non-seal event in order
func SealHash(events []models.AuditEvent) string {
	return sealDigest(events, func(e *models.AuditEvent) string { return e.Hash })
}

// ContextSeal digests the concatenated context hashes of every non-seal event
func ContextSeal(events []models.AuditEvent) string {
	return sealDigest(events, func(e *models.AuditEvent) string { return e.ContextHash })
}

func sealDigest(events []models.AuditEvent, field func(*models.AuditEvent) string) string {
	h := sha256.New()
	for i := range events {
		if events[i].EventType == models.EventSignatureSealed {
			continue
		}
		h.Write([]byte(field(&events[i])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Link prepares e as the successor of prev: sets the sequence, previous
// hash and a timestamp no earlier than prev's, then computes the hash and
// the context hash.
func Link(e *models.AuditEvent, prev *models.AuditEvent) error {
	e.Timestamp = e.Timestamp.UTC().Truncate(Precision)
	if prev == nil {
		e.Sequence = 1
		e.PreviousHash = nil
	} else {
		e.Sequence = prev.Sequence + 1
		ph := prev.Hash
		e.PreviousHash = &ph
		if e.Timestamp.Before(prev.Timestamp) {
			e.Timestamp = prev.Timestamp.UTC()
		}
	}
	hash, err := EventHash(e)
	if err != nil {
		return err
	}
	e.Hash = hash
	ctxHash, err := ContextHash(e)
	if err != nil {
		return err
	}
	e.ContextHash = ctxHash
	return nil
}

// Digest returns the SHA-256 hex digest of v's canonical JSON
func Digest(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
