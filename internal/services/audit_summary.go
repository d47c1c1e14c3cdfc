package services

import (
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/models"
)

// BuildAuditSummary projects an ordered chain into an AuditSummary. It is
// pure: the same events always give an equal summary.
//
// Downloads are reported only when they happen after the seal; earlier
// downloads are drafts, not copies of the signed document.
func BuildAuditSummary(events []models.AuditEvent) models.AuditSummary {
	summary := models.AuditSummary{
		Resends:       []models.SummaryResend{},
		Accesses:      []models.SummaryAccess{},
		Downloads:     []models.SummaryDownload{},
		Verifications: []models.SummaryVerification{},
	}

	var started *time.Time
	var sealedAt *time.Time

	for i := range events {
		e := &events[i]
		md, err := e.DecodeMetadata()
		if err != nil {
			continue
		}

		switch m := md.(type) {
		case models.RequestCreatedMetadata:
			if summary.Created == nil {
				summary.Created = &models.SummaryCreated{
					At:           e.Timestamp,
					Channel:      m.Channel,
					ContractName: m.ContractName,
					Actor:        summaryActor(e),
				}
			}
		case models.RequestSentMetadata:
			if summary.Sent == nil {
				summary.Sent = &models.SummarySent{
					At:         e.Timestamp,
					Channel:    m.Channel,
					Recipient:  m.Recipient,
					Success:    m.Success,
					ProviderID: m.ProviderID,
				}
			}
		case models.RequestResentMetadata:
			summary.Resends = append(summary.Resends, models.SummaryResend{
				At:        e.Timestamp,
				Channel:   m.Channel,
				Recipient: m.Recipient,
				Reason:    m.Reason,
				Success:   m.Success,
			})
		case models.RequestAccessedMetadata:
			summary.Accesses = append(summary.Accesses, models.SummaryAccess{
				At:    e.Timestamp,
				Actor: summaryActor(e),
			})
		case models.SignatureStartedMetadata:
			if started == nil {
				at := e.Timestamp
				started = &at
			}
		case models.SignatureCompletedMetadata:
			if summary.Signature == nil {
				summary.Signature = &models.SummarySignature{
					StartedAt:    started,
					CompletedAt:  e.Timestamp,
					Method:       m.Method,
					SignerName:   m.SignerName,
					SignerEmail:  m.SignerEmail,
					DocumentHash: m.DocumentHash,
					FieldsData:   m.FieldsData,
					Actor:        summaryActor(e),
				}
			}
		case models.SignatureSealedMetadata:
			if summary.Sealed == nil {
				at := e.Timestamp
				sealedAt = &at
				summary.Sealed = &models.SummarySealed{
					At:            e.Timestamp,
					SealHash:      m.SealHash,
					SealedEvents:  m.SealedEvents,
					TSAURL:        m.TSAURL,
					TSAVerified:   m.TSAVerified,
					TimestampedAt: m.TimestampedAt,
				}
			}
		case models.PDFDownloadedMetadata:
			if sealedAt != nil && !e.Timestamp.Before(*sealedAt) {
				summary.Downloads = append(summary.Downloads, models.SummaryDownload{
					At:       e.Timestamp,
					FileName: m.FileName,
					Actor:    summaryActor(e),
				})
			}
		case models.PDFVerifiedMetadata:
			summary.Verifications = append(summary.Verifications, models.SummaryVerification{
				At:            e.Timestamp,
				SubmittedHash: m.SubmittedHash,
				Match:         m.Match,
			})
		}
	}

	return summary
}

func summaryActor(e *models.AuditEvent) models.SummaryActor {
	return models.SummaryActor{
		UserID:    e.UserID,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Geo:       e.Geo(),
	}
}
