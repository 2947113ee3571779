// Package pipeline loads raw rental listings for training.
package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"rentpredict/ml"
)

// Supported dataset formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// IngestionStats summarizes one load.
type IngestionStats struct {
	Path        string   `json:"path"`
	Format      string   `json:"format"`
	Header      []string `json:"header"`
	Rows        int      `json:"rows"`
	PaddedRows  int      `json:"padded_rows"`
	SkippedRows int      `json:"skipped_rows"`
}

// LoadRecords reads the whole dataset at path. The format follows the file
// extension.
func LoadRecords(path string) ([]ml.RawRecord, *IngestionStats, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var records []ml.RawRecord
	var stats *IngestionStats
	switch format {
	case FormatCSV:
		records, stats, err = ReadCSV(f)
	case FormatXLSX:
		records, stats, err = ReadXLSX(f)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	stats.Path = path
	return records, stats, nil
}

func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ReadCSV reads a header row followed by data rows.
func ReadCSV(r io.Reader) ([]ml.RawRecord, *IngestionStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	return fromRows(FormatCSV, rows)
}

// ReadXLSX reads the first worksheet; its first row is the header.
func ReadXLSX(r io.Reader) ([]ml.RawRecord, *IngestionStats, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("workbook has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromRows(FormatXLSX, rows)
}

func fromRows(format string, rows [][]string) ([]ml.RawRecord, *IngestionStats, error) {
	if len(rows) == 0 {
		return nil, nil, errors.New("dataset has no header row")
	}
	header, err := parseHeader(rows[0])
	if err != nil {
		return nil, nil, err
	}

	stats := &IngestionStats{Format: format, Header: header}
	records := make([]ml.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blankRow(row) {
			stats.SkippedRows++
			continue
		}
		if len(row) < len(header) {
			stats.PaddedRows++
		}
		record := make(ml.RawRecord, len(header))
		for i, name := range header {
			if i < len(row) {
				record[name] = ml.NormalizeText(row[i])
			} else {
				record[name] = ""
			}
		}
		records = append(records, record)
	}
	stats.Rows = len(records)
	return records, stats, nil
}

func parseHeader(row []string) ([]string, error) {
	header := make([]string, len(row))
	seen := make(map[string]struct{}, len(row))
	for i, cell := range row {
		if i == 0 {
			cell = strings.TrimPrefix(cell, "\ufeff")
		}
		name := ml.NormalizeText(strings.TrimSpace(cell))
		if name == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate header column %q", name)
		}
		seen[name] = struct{}{}
		header[i] = name
	}
	return header, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
