package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"
)

// handleExportAppointments streams an XLSX snapshot of appointments, one
// row per appointment with its slot time and contact phone.
func (s *HTTPServer) handleExportAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	appointments, err := s.db.ListAppointments(r.Context(), "", queryInt(r, "limit", 1000))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Appointments"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"ID", "Contact Phone", "Slot Start", "Status", "Booked At", "Cancelled At", "Reason", "Notes"}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}
	_ = f.SetColWidth(sheetName, "A", "B", 30)
	_ = f.SetColWidth(sheetName, "C", "F", 22)

	for i, appt := range appointments {
		row := i + 2

		phone := ""
		if contact, err := s.db.GetContact(r.Context(), appt.ContactID); err == nil {
			phone = contact.PhoneNumber
		}
		slotStart := ""
		if slot, err := s.db.GetSlot(r.Context(), appt.SlotID); err == nil {
			slotStart = slot.StartTime.Format(time.RFC3339)
		}
		cancelledAt := ""
		if appt.CancelledAt != nil {
			cancelledAt = appt.CancelledAt.Format(time.RFC3339)
		}

		values := []any{
			appt.ID, phone, slotStart, appt.Status,
			appt.BookedAt.Format(time.RFC3339), cancelledAt,
			appt.CancellationReason, appt.Notes,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	fileName := fmt.Sprintf("appointments_%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+fileName+`"`)
	if err := f.Write(w); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stream export")
	}
}
