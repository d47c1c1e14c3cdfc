package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sjperalta/fintera-sign-api/internal/models"
)

// Signature request lifecycle events
const (
	EventResend  = "resend"
	EventArchive = "archive"
	EventSign    = "sign"
	EventDiscard = "discard"
)

var signatureRequestEvents = fsm.Events{
	// pending → pending (new short id / access key)
	{Name: EventResend, Src: []string{models.SignatureStatusPending}, Dst: models.SignatureStatusPending},

	// pending → archived
	{Name: EventArchive, Src: []string{models.SignatureStatusPending}, Dst: models.SignatureStatusArchived},

	// pending → signed (terminal)
	{Name: EventSign, Src: []string{models.SignatureStatusPending}, Dst: models.SignatureStatusSigned},

	// pending/archived → discarded
	{Name: EventDiscard, Src: []string{models.SignatureStatusPending, models.SignatureStatusArchived}, Dst: models.SignatureStatusDiscarded},
}

// Sources returns the stored statuses an event may leave. Conditional
// updates use it as their expected-status filter.
func Sources(event string) []string {
	for _, e := range signatureRequestEvents {
		if e.Name == event {
			return append([]string(nil), e.Src...)
		}
	}
	return nil
}

// SignatureRequestFSM wraps a signature request with its state machine.
// It checks a transition against the status read from the store; the
// store's conditional update is what makes the transition stick.
type SignatureRequestFSM struct {
	req *models.SignatureRequest
	fsm *fsm.FSM
}

// NewSignatureRequestFSM creates a new signature request state machine
func NewSignatureRequestFSM(req *models.SignatureRequest) *SignatureRequestFSM {
	current := req.Status
	if current == models.SignatureStatusCompleted {
		current = models.SignatureStatusSigned
	}
	return &SignatureRequestFSM{
		req: req,
		fsm: fsm.NewFSM(current, signatureRequestEvents, fsm.Callbacks{}),
	}
}

// Can reports whether event is allowed from the current status
func (s *SignatureRequestFSM) Can(event string) bool {
	return s.fsm.Can(event)
}

// Current returns the machine's current state
func (s *SignatureRequestFSM) Current() string {
	return s.fsm.Current()
}

// Resend checks that the request may be resent
func (s *SignatureRequestFSM) Resend(ctx context.Context) error {
	return s.fire(ctx, EventResend)
}

// Archive transitions the request to archived
func (s *SignatureRequestFSM) Archive(ctx context.Context) error {
	return s.fire(ctx, EventArchive)
}

// Sign transitions the request to signed
func (s *SignatureRequestFSM) Sign(ctx context.Context) error {
	return s.fire(ctx, EventSign)
}

// Discard transitions the request to discarded
func (s *SignatureRequestFSM) Discard(ctx context.Context) error {
	return s.fire(ctx, EventDiscard)
}

func (s *SignatureRequestFSM) fire(ctx context.Context, event string) error {
	if !s.fsm.Can(event) {
		return fmt.Errorf("signature request cannot %s in current state: %s", event, s.req.Status)
	}

	if err := s.fsm.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			return fmt.Errorf("failed to %s signature request: %w", event, err)
		}
	}

	s.req.Status = s.fsm.Current()
	return nil
}
