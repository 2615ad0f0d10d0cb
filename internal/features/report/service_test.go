package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func TestExportToExcel(t *testing.T) {
	columns := []string{"id", "module", "started_at"}
	rows := []map[string]any{
		{"id": "pass-1", "module": "Accounts", "started_at": time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)},
		{"id": "pass-2", "module": "Contacts"},
	}

	data, err := exportToExcel(rows, columns)
	if err != nil {
		t.Fatalf("exportToExcel: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	checks := map[string]string{
		"A1": "id",
		"B1": "module",
		"C1": "started_at",
		"A2": "pass-1",
		"C2": "2026-03-01 09:30:00",
		"B3": "Contacts",
	}
	for cell, want := range checks {
		got, err := f.GetCellValue("Report", cell)
		if err != nil {
			t.Fatalf("read %s: %v", cell, err)
		}
		if got != want {
			t.Errorf("cell %s = %q, want %q", cell, got, want)
		}
	}
}
