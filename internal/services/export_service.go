package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/sjperalta/fintera-sign-api/internal/ledger"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/xuri/excelize/v2"
)

const exportTimeLayout = "2006-01-02 15:04:05 MST"

// ExportService renders signed documents, audit certificates and ledger exports
type ExportService struct {
	now func() time.Time
}

func NewExportService() *ExportService {
	return &ExportService{now: time.Now}
}

func newPDF() (*gofpdf.Fpdf, func(string) string) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	return pdf, pdf.UnicodeTranslatorFromDescriptor("")
}

func pdfBytes(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := pdf.Output(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func labelRow(pdf *gofpdf.Fpdf, tr func(string) string, label, value string) {
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(50, 6, tr(label), "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.MultiCell(0, 6, tr(value), "", "L", false)
}

func sectionTitle(pdf *gofpdf.Fpdf, tr func(string) string, title string) {
	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, tr(title), "B", 1, "L", false, 0, "")
	pdf.Ln(2)
}

// SignedDocumentPDF renders the contract snapshot with the signer's field
// values and signature image.
func (s *ExportService) SignedDocumentPDF(req *models.SignatureRequest, signatureImage []byte) ([]byte, string, error) {
	pdf, tr := newPDF()

	pdf.SetFont("Arial", "B", 16)
	pdf.MultiCell(0, 10, tr(req.Snapshot.Name), "", "C", false)
	if req.Snapshot.Description != "" {
		pdf.SetFont("Arial", "I", 10)
		pdf.MultiCell(0, 6, tr(req.Snapshot.Description), "", "C", false)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 5, tr(req.Snapshot.Content), "", "J", false)

	var values map[string]string
	if md := signatureMetadata(req); md != nil {
		values = md.FieldValues
	}
	if fields := req.Snapshot.FieldDefinitions(); len(fields) > 0 {
		sectionTitle(pdf, tr, "Datos del firmante")
		for _, f := range fields {
			label := f.Label
			if label == "" {
				label = f.Key
			}
			labelRow(pdf, tr, label+":", values[f.Key])
		}
	}

	sectionTitle(pdf, tr, "Firma")
	labelRow(pdf, tr, "Firmante:", req.SignerName)
	if req.SignedAt != nil {
		labelRow(pdf, tr, "Fecha de firma:", req.SignedAt.UTC().Format(exportTimeLayout))
	}
	labelRow(pdf, tr, "Hash del documento:", derefString(req.DocumentHash))

	if imageType := signatureImageType(signatureImage); imageType != "" {
		name := "signature-" + req.ShortID
		pdf.RegisterImageOptionsReader(name, gofpdf.ImageOptions{ImageType: imageType}, bytes.NewReader(signatureImage))
		pdf.ImageOptions(name, pdf.GetX(), pdf.GetY()+2, 60, 0, true, gofpdf.ImageOptions{ImageType: imageType}, 0, "")
	}

	out, err := pdfBytes(pdf)
	if err != nil {
		return nil, "", err
	}
	return out, SignedDocumentFileName(req), nil
}

func signatureImageType(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	switch http.DetectContentType(data) {
	case "image/png":
		return "PNG"
	case "image/jpeg":
		return "JPG"
	}
	return ""
}

func signatureMetadata(req *models.SignatureRequest) *models.SignatureMetadata {
	if req.SignatureMetadata == nil {
		return nil
	}
	var md models.SignatureMetadata
	if err := decodeJSON(*req.SignatureMetadata, &md); err != nil {
		return nil
	}
	return &md
}

// CertificatePDF renders the audit certificate of a request: identity,
// summary, integrity result and the full hash chain.
func (s *ExportService) CertificatePDF(req *models.SignatureRequest, trail models.AuditTrail, summary models.AuditSummary, integrity ledger.Result) ([]byte, string, error) {
	pdf, tr := newPDF()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr("Certificado de Auditoría de Firma"), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, tr("Generado: "+s.now().UTC().Format(exportTimeLayout)), "", 1, "C", false, 0, "")

	sectionTitle(pdf, tr, "Solicitud")
	labelRow(pdf, tr, "Identificador:", req.ID)
	labelRow(pdf, tr, "Contrato:", req.Snapshot.Name)
	labelRow(pdf, tr, "Firmante:", req.SignerName)
	if req.SignerEmail != "" {
		labelRow(pdf, tr, "Correo:", req.SignerEmail)
	}
	if req.SignerPhone != "" {
		labelRow(pdf, tr, "Teléfono:", req.SignerPhone)
	}
	labelRow(pdf, tr, "Estado:", req.EffectiveStatus(s.now()))

	sectionTitle(pdf, tr, "Resumen")
	if summary.Created != nil {
		labelRow(pdf, tr, "Creada:", summary.Created.At.UTC().Format(exportTimeLayout))
	}
	if summary.Sent != nil {
		labelRow(pdf, tr, "Enviada:", fmt.Sprintf("%s por %s a %s", summary.Sent.At.UTC().Format(exportTimeLayout), summary.Sent.Channel, summary.Sent.Recipient))
	}
	labelRow(pdf, tr, "Reenvíos:", strconv.Itoa(len(summary.Resends)))
	labelRow(pdf, tr, "Accesos:", strconv.Itoa(len(summary.Accesses)))
	if summary.Signature != nil {
		labelRow(pdf, tr, "Firmada:", summary.Signature.CompletedAt.UTC().Format(exportTimeLayout))
		labelRow(pdf, tr, "Método:", summary.Signature.Method)
		labelRow(pdf, tr, "IP del firmante:", summary.Signature.Actor.IPAddress)
		labelRow(pdf, tr, "Hash del documento:", summary.Signature.DocumentHash)
	}
	if summary.Sealed != nil {
		labelRow(pdf, tr, "Sello:", summary.Sealed.SealHash)
		tsaLabel := summary.Sealed.TSAURL
		if !summary.Sealed.TSAVerified {
			tsaLabel += " (no verificado)"
		}
		labelRow(pdf, tr, "Sello de tiempo:", tsaLabel)
	}
	labelRow(pdf, tr, "Descargas:", strconv.Itoa(len(summary.Downloads)))

	sectionTitle(pdf, tr, "Integridad")
	if integrity.Valid {
		labelRow(pdf, tr, "Resultado:", fmt.Sprintf("Cadena íntegra (%d eventos)", integrity.EventCount))
	} else {
		labelRow(pdf, tr, "Resultado:", fmt.Sprintf("Cadena alterada (%d errores)", len(integrity.Errors)))
		for _, e := range integrity.Errors {
			labelRow(pdf, tr, "", e)
		}
	}

	sectionTitle(pdf, tr, "Eventos")
	pdf.SetFont("Arial", "B", 8)
	for _, h := range []struct {
		title string
		width float64
	}{{"#", 8}, {"Fecha", 40}, {"Evento", 42}, {"IP", 28}, {"Hash", 62}} {
		pdf.CellFormat(h.width, 6, tr(h.title), "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Courier", "", 7)
	for _, e := range trail.Events {
		pdf.CellFormat(8, 5, strconv.Itoa(e.Sequence), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 5, e.Timestamp.UTC().Format(exportTimeLayout), "1", 0, "L", false, 0, "")
		pdf.CellFormat(42, 5, string(e.EventType), "1", 0, "L", false, 0, "")
		pdf.CellFormat(28, 5, e.IPAddress, "1", 0, "L", false, 0, "")
		pdf.CellFormat(62, 5, e.Hash[:min(len(e.Hash), 40)], "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	out, err := pdfBytes(pdf)
	if err != nil {
		return nil, "", err
	}
	return out, fmt.Sprintf("certificado_auditoria_%s.pdf", req.ShortID), nil
}

var ledgerColumns = []string{"Secuencia", "Fecha", "Evento", "Usuario", "IP", "User Agent", "Metadatos", "Hash", "Hash anterior"}

func ledgerRow(e *models.AuditEvent) []string {
	user := ""
	if e.UserID != nil {
		user = *e.UserID
	}
	return []string{
		strconv.Itoa(e.Sequence),
		models.FormatEventTime(e.Timestamp),
		string(e.EventType),
		user,
		e.IPAddress,
		e.UserAgent,
		e.Metadata,
		e.Hash,
		e.PrevHash(),
	}
}

// LedgerXLSX exports the raw ledger of a request as a spreadsheet
func (s *ExportService) LedgerXLSX(trail models.AuditTrail) ([]byte, string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Auditoria"
	_ = f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	for i, title := range ledgerColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, title)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(ledgerColumns), 1)
	_ = f.SetCellStyle(sheet, "A1", lastHeader, headerStyle)

	for r := range trail.Events {
		for c, value := range ledgerRow(&trail.Events[r]) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheet, cell, value)
		}
	}
	_ = f.SetColWidth(sheet, "B", "C", 28)
	_ = f.SetColWidth(sheet, "G", "I", 64)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("auditoria_%s_%s.xlsx", trail.SignRequestID, s.now().Format("2006-01-02")), nil
}

// LedgerCSV exports the raw ledger of a request as CSV
func (s *ExportService) LedgerCSV(trail models.AuditTrail) ([]byte, string, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	_ = writer.Write(ledgerColumns)
	for i := range trail.Events {
		_ = writer.Write(ledgerRow(&trail.Events[i]))
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("auditoria_%s_%s.csv", trail.SignRequestID, s.now().Format("2006-01-02")), nil
}
