package report

import (
	"context"
	"fmt"
	"time"

	"go-crmsync/internal/features/conflict"
	"go-crmsync/internal/features/sync"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ReportService interface {
	// ExportSyncPasses renders recent sync passes as an XLSX workbook.
	ExportSyncPasses(ctx context.Context, module string, limit int64) ([]byte, string, error)

	// ExportConflicts renders conflict records as an XLSX workbook.
	ExportConflicts(ctx context.Context, status conflict.ConflictStatus, limit int64) ([]byte, string, error)
}

type ReportServiceImpl struct {
	Sync      sync.SyncService
	Conflicts conflict.ConflictService
}

func NewReportService(syncService sync.SyncService, conflicts conflict.ConflictService) ReportService {
	return &ReportServiceImpl{
		Sync:      syncService,
		Conflicts: conflicts,
	}
}

var syncPassColumns = []string{"id", "module", "direction", "trigger", "full", "started_at", "finished_at", "records_pulled", "records_pushed", "conflicts_found", "status", "error"}

func (s *ReportServiceImpl) ExportSyncPasses(ctx context.Context, module string, limit int64) ([]byte, string, error) {
	passes, err := s.Sync.ListPasses(ctx, module, limit)
	if err != nil {
		return nil, "", err
	}

	rows := make([]map[string]any, 0, len(passes))
	for _, p := range passes {
		row := map[string]any{
			"id":              p.ID,
			"module":          p.Module,
			"direction":       string(p.Direction),
			"trigger":         string(p.Trigger),
			"full":            p.Full,
			"started_at":      p.StartedAt,
			"records_pulled":  p.RecordsPulled,
			"records_pushed":  p.RecordsPushed,
			"conflicts_found": p.ConflictsFound,
			"status":          string(p.Status),
			"error":           p.Error,
		}
		if p.FinishedAt != nil {
			row["finished_at"] = *p.FinishedAt
		}
		rows = append(rows, row)
	}

	data, err := exportToExcel(rows, syncPassColumns)
	if err != nil {
		return nil, "", err
	}
	return data, fmt.Sprintf("sync_passes_%d.xlsx", time.Now().Unix()), nil
}

var conflictColumns = []string{"id", "module", "record_id", "fields", "policy", "resolver", "status", "created_at", "resolved_at"}

func (s *ReportServiceImpl) ExportConflicts(ctx context.Context, status conflict.ConflictStatus, limit int64) ([]byte, string, error) {
	records, err := s.Conflicts.ListConflicts(ctx, status, limit)
	if err != nil {
		return nil, "", err
	}

	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		fields := ""
		for i, fc := range r.Fields {
			if i > 0 {
				fields += ", "
			}
			fields += fc.Field
		}
		row := map[string]any{
			"id":         r.ID,
			"module":     r.Module,
			"record_id":  r.RecordID,
			"fields":     fields,
			"policy":     string(r.Policy),
			"resolver":   string(r.Resolver),
			"status":     string(r.Status),
			"created_at": r.CreatedAt,
		}
		if r.ResolvedAt != nil {
			row["resolved_at"] = *r.ResolvedAt
		}
		rows = append(rows, row)
	}

	data, err := exportToExcel(rows, conflictColumns)
	if err != nil {
		return nil, "", err
	}
	return data, fmt.Sprintf("conflicts_%d.xlsx", time.Now().Unix()), nil
}

func exportToExcel(data []map[string]any, columns []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Report"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, col)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for rowIdx, record := range data {
		for colIdx, col := range columns {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			switch v := record[col].(type) {
			case time.Time:
				f.SetCellValue(sheetName, cell, v.Format("2006-01-02 15:04:05"))
			case primitive.ObjectID:
				f.SetCellValue(sheetName, cell, v.Hex())
			default:
				f.SetCellValue(sheetName, cell, v)
			}
		}
	}

	for i := range columns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, col, col, 15)
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
