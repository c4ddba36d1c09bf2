package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// PreflightResult reports what the preflight check learned about a document.
type PreflightResult struct {
	Checked   bool
	PageCount int
}

// Preflight validates PDF sources before the engine is paid to read them.
type Preflight struct {
	reader   ObjectReader
	maxBytes int64
}

// NewPreflight creates a checker that reads at most maxBytes of each source.
func NewPreflight(reader ObjectReader, maxBytes int64) *Preflight {
	return &Preflight{reader: reader, maxBytes: maxBytes}
}

// Check validates the document. Corrupt PDFs and vanished sources are
// permanent failures; read errors are transient.
func (p *Preflight) Check(ctx context.Context, evt *models.DocumentEvent, contentType string) (*PreflightResult, error) {
	if !isPDF(contentType) {
		return &PreflightResult{}, nil
	}
	if p.maxBytes > 0 && evt.Size > p.maxBytes {
		return &PreflightResult{}, nil
	}

	limit := p.maxBytes
	if limit > 0 {
		// One byte past the limit tells an oversize object from one that fits exactly.
		limit++
	}
	data, err := p.reader.ReadObject(ctx, evt.Key, limit)
	if err != nil {
		if errors.Is(err, models.ErrSourceMissing) {
			return nil, models.Permanent(err)
		}
		return nil, fmt.Errorf("%w: failed to read source for preflight: %w", models.ErrTransientIO, err)
	}
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return &PreflightResult{}, nil
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to validate PDF: %w", err))
	}
	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to get page count: %w", err))
	}
	return &PreflightResult{Checked: true, PageCount: pageCount}, nil
}

func isPDF(contentType string) bool {
	return strings.EqualFold(contentType, "application/pdf")
}
