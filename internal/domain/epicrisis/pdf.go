package epicrisis

import (
	"io"

	"github.com/jung-kurt/gofpdf"
)

const (
	labelWidth = 60.0
	lineHeight = 6.0
)

// WritePDF renders doc as an A4 page set to w.
func WritePDF(doc *Document, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	// core fonts are cp1252; labels carry accents
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle(tr(doc.Title), false)
	pdf.SetCreator("epicrisis", false)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 10, tr(doc.Footer), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	if doc.Clinic != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, lineHeight, tr(doc.Clinic), "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(doc.Title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, lineHeight, tr(doc.Subtitle), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFillColor(230, 230, 230)
	for _, s := range doc.Sections {
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, tr(s.Title), "B", 1, "L", true, 0, "")
		pdf.Ln(1)
		for _, r := range s.Rows {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(labelWidth, lineHeight, tr(r.Label+":"), "", 0, "L", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(0, lineHeight, tr(r.Value), "", "L", false)
		}
		pdf.Ln(4)
	}

	return pdf.Output(w)
}
