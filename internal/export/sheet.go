package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/scottring/ParentPulse-sub002/internal/store"
)

const (
	goalsSheet      = "Goals"
	activitiesSheet = "Activities"
	dateLayout      = "Mon 2006-01-02"
)

var (
	goalHeaders     = []string{"Goal", "Target", "Date", "Completed", "Notes", "Logged By"}
	goalWidths      = []float64{40, 18, 18, 12, 40, 20}
	activityHeaders = []string{"Day", "Type", "Description", "Completed", "Parent Notes", "Response"}
	activityWidths  = []float64{18, 20, 40, 12, 40, 40}
)

// workbookSheet writes one row per goal completion entry and one row per
// activity. A goal without entries still gets a row so it shows up.
func workbookSheet(wb store.Workbook) ([]byte, error) {
	wb.Normalize()
	f := excelize.NewFile()

	if _, err := f.NewSheet(goalsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create goals sheet: %w", err)
	}
	if _, err := f.NewSheet(activitiesSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create activities sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	index, err := f.GetSheetIndex(goalsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("find goals sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := writeHeader(f, goalsSheet, goalHeaders, goalWidths, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeHeader(f, activitiesSheet, activityHeaders, activityWidths, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	row := 2
	for _, goal := range wb.ParentGoals {
		if len(goal.CompletionLog) == 0 {
			if err := writeRow(f, goalsSheet, row, goal.Description, goal.TargetFrequency); err != nil {
				f.Close()
				return nil, err
			}
			row++
			continue
		}
		for _, entry := range goal.CompletionLog {
			if err := writeRow(f, goalsSheet, row,
				goal.Description,
				goal.TargetFrequency,
				entry.Date.Format(dateLayout),
				yesNo(entry.Completed),
				entry.Notes,
				entry.AddedBy,
			); err != nil {
				f.Close()
				return nil, err
			}
			row++
		}
	}

	for i, activity := range wb.DailyActivities {
		if err := writeRow(f, activitiesSheet, i+2,
			activity.Date.Format(dateLayout),
			activity.Type,
			activity.Description,
			yesNo(activity.Completed),
			activity.ParentNotes,
			compactJSON(activity.ChildResponse),
		); err != nil {
			f.Close()
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook sheet: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook sheet: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, widths []float64, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeRow(f *excelize.File, sheet string, row int, values ...string) error {
	for col, value := range values {
		if value == "" {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("set cell %s: %w", cell, err)
		}
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
