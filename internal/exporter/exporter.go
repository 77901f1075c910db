// Package exporter renders license dashboard views as downloadable
// spreadsheet files.
package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"keydash/internal/viewmodel"
)

// SheetName is the single worksheet holding the exported rows.
const SheetName = "Licenses"

var headerRow = []string{"Key ID", "Status", "Hardware ID", "Expires", "Days Left"}

// WriteXLSX writes the view's visible rows as an XLSX workbook. Rows land
// exactly as displayed: same order, same derived date and remaining-day
// labels, unbound hardware slots as "N/A".
func WriteXLSX(w io.Writer, view viewmodel.View, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for col, title := range headerRow {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("resolve header cell: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, title); err != nil {
			return fmt.Errorf("write header cell %s: %w", cell, err)
		}
	}
	if err := f.SetCellStyle(SheetName, "A1", "E1", headerStyle); err != nil {
		return fmt.Errorf("style header row: %w", err)
	}

	for i, row := range view.Records {
		values := []interface{}{row.ID, row.Status, hwidLabel(row.Hwid), row.ExpireDate, row.RemainingDays}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return fmt.Errorf("resolve cell for row %d: %w", i+1, err)
			}
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	// Key IDs and hardware IDs are long opaque strings; widen those
	// columns so the sheet opens readable.
	if err := f.SetColWidth(SheetName, "A", "A", 40); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "C", "C", 40); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "D", "E", 16); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	props := &excelize.DocProperties{
		Title:       "License keys",
		Creator:     "keydash",
		Created:     generatedAt.UTC().Format(time.RFC3339),
		Description: exportDescription(view),
	}
	if err := f.SetDocProps(props); err != nil {
		return fmt.Errorf("set document properties: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteCSV writes the view's visible rows as a CSV file with the same
// header, order, and derived labels as the XLSX export.
func WriteCSV(w io.Writer, view viewmodel.View) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(headerRow); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	for i, row := range view.Records {
		record := []string{row.ID, row.Status, hwidLabel(row.Hwid), row.ExpireDate, row.RemainingDays}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Filename derives the attachment name for a download generated at the
// given time. ext is the bare extension, "xlsx" or "csv".
func Filename(generatedAt time.Time, ext string) string {
	return fmt.Sprintf("licenses-%s.%s", generatedAt.UTC().Format("2006-01-02-150405"), ext)
}

func exportDescription(view viewmodel.View) string {
	if view.SearchTerm == "" {
		return fmt.Sprintf("%d license keys", len(view.Records))
	}
	return fmt.Sprintf("%d of %d license keys matching %q", view.Matched, view.Total, view.SearchTerm)
}

func hwidLabel(hwid *string) string {
	if hwid == nil || *hwid == "" {
		return "N/A"
	}
	return *hwid
}
