package export

import (
	"fmt"
	"io"
	"time"

	"klinikcare/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Entities"

var headers = []string{"ID", "Kind", "Status", "Payment", "Patient", "Phone", "Doctor", "Service", "Amount", "Scheduled", "Updated"}

// BuildWorkbook renders entities into one xlsx sheet with a header row.
func BuildWorkbook(entities []*models.Entity) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	// excelize seeds the workbook with a default sheet we don't use
	_ = f.DeleteSheet("Sheet1")

	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("error building header cell: %w", err)
		}
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for row, e := range entities {
		values := []interface{}{
			e.ID,
			e.Kind,
			e.Status,
			e.PaymentStatus,
			e.PatientName,
			e.Phone,
			e.DoctorName,
			e.ServiceName,
			e.Amount,
			formatTime(e.ScheduledAt),
			formatTime(e.UpdatedAt),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("error building data cell: %w", err)
			}
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "K", 18)

	return f, nil
}

// WriteWorkbook builds the workbook and streams it to w.
func WriteWorkbook(entities []*models.Entity, w io.Writer) error {
	f, err := BuildWorkbook(entities)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
