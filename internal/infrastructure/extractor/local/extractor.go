// Package local extracts text from common formats without leaving the
// process, falling back to the extraction service for everything else.
package local

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/asmelnikov/docstream/internal/core/domain"
	"github.com/asmelnikov/docstream/internal/core/ports"
)

type Extractor struct {
	fallback ports.TextExtractor
	logger   *slog.Logger
}

func New(fallback ports.TextExtractor, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{fallback: fallback, logger: logger}
}

func (e *Extractor) Extract(ctx context.Context, path string) (domain.ExtractionResult, error) {
	var (
		result domain.ExtractionResult
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		result, err = extractPDF(path)
	case ".xlsx":
		result, err = extractXLSX(path)
	case ".txt", ".md", ".csv", ".log":
		result, err = extractPlainText(path)
	default:
		return e.fallback.Extract(ctx, path)
	}
	if err != nil {
		// A format the fast path chokes on may still be fine for the
		// extraction service.
		e.logger.Debug("local extraction failed, using fallback", "path", path, "error", err)
		return e.fallback.Extract(ctx, path)
	}
	return result, nil
}

func extractPDF(path string) (domain.ExtractionResult, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("pdf plain text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("read pdf text: %w", err)
	}
	return domain.ExtractionResult{
		Text:     buf.String(),
		Metadata: map[string]string{"pages": strconv.Itoa(reader.NumPage())},
	}, nil
}

func extractXLSX(path string) (domain.ExtractionResult, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	for _, sheet := range file.GetSheetList() {
		rows, err := file.GetRows(sheet)
		if err != nil {
			return domain.ExtractionResult{}, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			sb.WriteString(strings.Join(row, " "))
			sb.WriteByte('\n')
		}
	}
	return domain.ExtractionResult{
		Text:     sb.String(),
		Metadata: map[string]string{"sheets": strconv.Itoa(len(file.GetSheetList()))},
	}, nil
}

func extractPlainText(path string) (domain.ExtractionResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(raw) {
		return domain.ExtractionResult{}, fmt.Errorf("file is not valid utf-8: %s", filepath.Base(path))
	}
	return domain.ExtractionResult{Text: string(raw)}, nil
}
