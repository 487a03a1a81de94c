package formatter

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
)

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

const sheetName = "Report"

// Filename names an export download for the query's range.
func Filename(q *query.Query, ext string) string {
	return fmt.Sprintf("wpstats-%s-%s.%s", q.DateRange().FromString(), q.DateRange().ToString(), ext)
}

// WriteCSV writes the export grid as comma-separated values. Text a spreadsheet
// would evaluate as a formula is quoted with a leading apostrophe.
func WriteCSV(w io.Writer, exp *ExportResponse) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvRecord(exp.Headers)); err != nil {
		return fmt.Errorf("error writing csv header: %w", err)
	}
	for _, row := range exp.Rows {
		if err := cw.Write(csvRecord(row)); err != nil {
			return fmt.Errorf("error writing csv rows: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("error writing csv rows: %w", err)
	}
	return nil
}

func csvRecord(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = csvCell(c)
	}
	return out
}

// csvCell neutralizes cells starting with a formula trigger. Signed numbers and
// percentages such as "-5" or "+100%" are data and stay as they are.
func csvCell(v string) string {
	if v == "" || !strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return v
	}
	if n, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
		return v
	}
	return "'" + v
}

// WriteXLSX writes the export grid as a single-sheet workbook. Numeric cells are
// stored as numbers.
func WriteXLSX(w io.Writer, exp *ExportResponse) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("error naming sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("error creating header style: %w", err)
	}

	for i, h := range exp.Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("error addressing header %q: %w", h, err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("error writing header %q: %w", h, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("error styling header %q: %w", h, err)
		}
	}

	for rowIdx, row := range exp.Rows {
		for colIdx, v := range row {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("error addressing row %d: %w", rowIdx+1, err)
			}
			var value any = v
			if n, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
				value = n
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("error writing cell %s: %w", cell, err)
			}
		}
	}

	if n := len(exp.Headers); n > 0 {
		last, err := excelize.ColumnNumberToName(n)
		if err != nil {
			return fmt.Errorf("error addressing column %d: %w", n, err)
		}
		if err := f.SetColWidth(sheetName, "A", last, 18); err != nil {
			return fmt.Errorf("error sizing columns: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}
