package render

import (
	"io"

	"github.com/jung-kurt/gofpdf"
	"github.com/russross/blackfriday/v2"

	"github.com/sjawhar/diarist/internal/transcribe"
)

// HTML converts the readable markdown transcript to an HTML fragment.
func HTML(readable string) []byte {
	return blackfriday.Run([]byte(readable))
}

// PDF writes the coalesced transcript as an A4 document, speaker names in
// bold.
func PDF(w io.Writer, title string, utterances []transcribe.Utterance, names transcribe.SpeakerMap) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if title != "" {
		pdf.SetFont("Arial", "B", 16)
		pdf.MultiCell(0, 8, tr(title), "", "", false)
		pdf.Ln(6)
	}

	for _, u := range utterances {
		pdf.SetFont("Arial", "B", 11)
		pdf.Write(6, tr(names.DisplayName(u.SpeakerLabel)+": "))
		pdf.SetFont("Arial", "", 11)
		pdf.Write(6, tr(u.Text))
		pdf.Ln(10)
	}

	return pdf.Output(w)
}
