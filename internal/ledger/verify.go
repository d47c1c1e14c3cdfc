package ledger

import (
	"fmt"

	"github.com/sjperalta/fintera-sign-api/internal/models"
)

// Result is the outcome of an integrity scan
type Result struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors"`
	EventCount   int      `json:"event_count"`
	Sealed       bool     `json:"sealed"`
	SealHash     string   `json:"seal_hash,omitempty"`
	TamperedAt   []int    `json:"tampered_indexes,omitempty"`
	SealMismatch bool     `json:"seal_mismatch"`
}

// ErrSealMismatch is the message reported when the seal no longer matches the chain
const ErrSealMismatch = "seal hash mismatch, trail tampered"

// Verify rescans an ordered event sequence. Every mismatch is collected; the
// scan never stops early.
func Verify(events []models.AuditEvent) Result {
	res := Result{EventCount: len(events), Errors: []string{}}
	tampered := map[int]bool{}
	mark := func(i int, format string, args ...any) {
		res.Errors = append(res.Errors, fmt.Sprintf("event %d: ", i)+fmt.Sprintf(format, args...))
		if !tampered[i] {
			tampered[i] = true
			res.TamperedAt = append(res.TamperedAt, i)
		}
	}

	for i := range events {
		e := &events[i]
		if e.Sequence != i+1 {
			mark(i, "sequence %d out of order, expected %d", e.Sequence, i+1)
		}
		if i > 0 {
			if e.PrevHash() != events[i-1].Hash {
				mark(i, "previous hash %q does not match hash of event %d", e.PrevHash(), i-1)
			}
		} else if e.PreviousHash != nil {
			mark(i, "first event must not reference a previous hash")
		}

		computed, err := EventHash(e)
		if err != nil {
			mark(i, "cannot recompute hash (%s): %v", e.EventType, err)
			continue
		}
		if computed != e.Hash {
			mark(i, "hash mismatch for %s (stored %s, computed %s)", e.EventType, e.Hash, computed)
		}

		ctxHash, err := ContextHash(e)
		if err != nil {
			mark(i, "cannot recompute context hash: %v", err)
			continue
		}
		if ctxHash != e.ContextHash {
			mark(i, "actor context of %s altered (stored %s, computed %s)", e.EventType, e.ContextHash, ctxHash)
		}
	}

	for i := range events {
		if events[i].EventType != models.EventSignatureSealed {
			continue
		}
		res.Sealed = true
		md, err := events[i].DecodeMetadata()
		if err != nil {
			mark(i, "unreadable seal metadata: %v", err)
			continue
		}
		sealed := md.(models.SignatureSealedMetadata)
		res.SealHash = sealed.SealHash
		mismatch := SealHash(events[:i]) != sealed.SealHash
		if sealed.ContextSeal != "" && ContextSeal(events[:i]) != sealed.ContextSeal {
			mismatch = true
		}
		if mismatch {
			res.SealMismatch = true
			res.Errors = append(res.Errors, ErrSealMismatch)
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}
