package excel

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedule-import-db/internal/importer"
	"schedule-import-db/pkg/errors"

	"github.com/xuri/excelize/v2"
)

type Parser struct {
	maxRows int
}

func NewParser(maxRows int) *Parser {
	return &Parser{maxRows: maxRows}
}

// Parse reads the first worksheet. Numeric cells come back as float64 so
// that serial dates survive, ISO date cells as time.Time, the rest as text.
func (p *Parser) Parse(ctx context.Context, data []byte) (*importer.Sheet, error) {
	// Create file from bytes
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer file.Close()

	// Get the first worksheet
	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.ErrInvalidFileFormat
	}

	sheetName := sheets[0]
	rows, err := file.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	if len(rows) == 0 {
		return nil, errors.ErrInvalidFileFormat
	}
	if p.maxRows > 0 && len(rows)-1 > p.maxRows {
		return nil, fmt.Errorf("%w: %d data rows, limit is %d", errors.ErrFileTooLarge, len(rows)-1, p.maxRows)
	}

	header := make([]string, len(rows[0]))
	for i, col := range rows[0] {
		header[i] = importer.NormalizeHeader(col)
	}

	sheet := &importer.Sheet{Headers: header}
	for i, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := i + 2 // i+2 for actual row number
		cells, err := p.parseRow(file, sheetName, header, row, line)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", line, err)
		}
		sheet.Rows = append(sheet.Rows, importer.SheetRow{Line: line, Cells: cells})
	}

	return sheet, nil
}

func (p *Parser) parseRow(file *excelize.File, sheetName string, header []string, row []string, line int) (importer.RawRow, error) {
	cells := make(importer.RawRow, len(header))
	for col, name := range header {
		if name == "" {
			continue
		}
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			cells[name] = ""
			continue
		}

		axis, err := excelize.CoordinatesToCellName(col+1, line)
		if err != nil {
			return nil, err
		}
		cellType, err := file.GetCellType(sheetName, axis)
		if err != nil {
			return nil, err
		}
		cells[name] = typedValue(cellType, row[col])
	}
	return cells, nil
}

func typedValue(cellType excelize.CellType, raw string) any {
	switch cellType {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
		if t, ok := importer.ParseDate(raw); ok {
			return t
		}
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	}
	return strings.TrimSpace(raw)
}
