package excel

import (
	"fmt"

	"schedule-import-db/internal/importer"

	"github.com/xuri/excelize/v2"
)

const (
	dateFormat  = "yyyy-mm-dd"
	reportSheet = "Kết quả"
)

// Template builds an empty workbook carrying the entity's header row.
func Template(rules *importer.RuleSet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := rules.Label
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := writeHeader(f, sheet, rules.Headers()); err != nil {
		return nil, err
	}

	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: strPtr(dateFormat)})
	if err != nil {
		return nil, fmt.Errorf("failed to create date style: %w", err)
	}
	for i, field := range rules.Fields {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if field.Kind == importer.KindDate {
			if err := f.SetColStyle(sheet, col, dateStyle); err != nil {
				return nil, fmt.Errorf("failed to style column %s: %w", col, err)
			}
		}
		if err := f.SetColWidth(sheet, col, col, 20); err != nil {
			return nil, err
		}
	}

	return bufferBytes(f)
}

// WriteReport writes the annotated records of a preview to a workbook,
// one row per record followed by its error list.
func WriteReport(rules *importer.RuleSet, records []importer.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), reportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := append([]string{"Dòng"}, rules.Headers()...)
	header = append(header, "Lỗi")
	if err := writeHeader(f, reportSheet, header); err != nil {
		return nil, err
	}

	errStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#FDE2E1"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create error style: %w", err)
	}

	for i, rec := range records {
		values := make([]interface{}, 0, len(header))
		values = append(values, rec.RowIndex)
		for _, field := range rules.Fields {
			values = append(values, rec.Get(field.Name))
		}
		values = append(values, importer.DescribeLine(rules, rec))

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(reportSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", rec.RowIndex, err)
		}

		if !rec.Valid() {
			last, err := excelize.CoordinatesToCellName(len(header), i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellStyle(reportSheet, cell, last, errStyle); err != nil {
				return nil, err
			}
		}
	}

	return bufferBytes(f)
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func bufferBytes(f *excelize.File) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func strPtr(s string) *string {
	return &s
}
