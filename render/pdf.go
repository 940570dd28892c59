package render

import (
	"bytes"
	"context"
	"fmt"

	wkhtmltopdf "github.com/SebastiaanKlippert/go-wkhtmltopdf"
)

// PDFConverter is the default PDFEngine. It shells out to the wkhtmltopdf
// binary for each conversion; a fresh generator per call keeps conversions
// independent under concurrency.
type PDFConverter struct {
	// PageSize overrides the paper size passed to wkhtmltopdf. Empty means A4.
	PageSize string
}

func NewPDFConverter() *PDFConverter { return &PDFConverter{} }

func (p *PDFConverter) FromHTML(ctx context.Context, doc []byte) ([]byte, error) {
	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return nil, fmt.Errorf("wkhtmltopdf is not available: %w", err)
	}
	size := p.PageSize
	if size == "" {
		size = wkhtmltopdf.PageSizeA4
	}
	pdfg.PageSize.Set(size)

	page := wkhtmltopdf.NewPageReader(bytes.NewReader(doc))
	page.DisableLocalFileAccess.Set(true)
	pdfg.AddPage(page)

	if err := pdfg.CreateContext(ctx); err != nil {
		return nil, err
	}
	return pdfg.Bytes(), nil
}
