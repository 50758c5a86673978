package excel

import (
	"context"
	"fmt"
	"io"

	"deepwork/models"
	"deepwork/ports"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// HistoryExporter writes a user's finalized session history and daily
// rollups as an xlsx workbook. This is read-side reporting glue; the
// ledger remains the system of record.
type HistoryExporter struct {
	ledger ports.SessionLedger
}

// NewHistoryExporter creates a session history exporter
func NewHistoryExporter(ledger ports.SessionLedger) *HistoryExporter {
	return &HistoryExporter{ledger: ledger}
}

const (
	sessionsSheet   = "Sessions"
	aggregatesSheet = "Daily"

	// exportLimit caps how many sessions one export carries
	exportLimit = 1000
	// exportTrailingDays is the daily-rollup window included in exports
	exportTrailingDays = 90
)

var sessionHeaders = []interface{}{
	"Session ID", "Status", "Mental State", "Task", "Planned Min", "Actual Min",
	"Distractions", "Idle Sec", "Tab Switches", "Score Delta", "Boosted", "Started At", "Ended At",
}

var aggregateHeaders = []interface{}{
	"Day", "Focus Minutes", "Sessions Completed", "Distractions",
}

// Export writes the workbook for a user to w
func (e *HistoryExporter) Export(ctx context.Context, userID uuid.UUID, w io.Writer) error {
	sessions, err := e.ledger.ListFinalized(ctx, userID, exportLimit)
	if err != nil {
		return fmt.Errorf("failed to load session history: %w", err)
	}
	aggregates, err := e.ledger.ListDailyAggregates(ctx, userID, exportTrailingDays)
	if err != nil {
		return fmt.Errorf("failed to load daily aggregates: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeSessionsSheet(f, sessions); err != nil {
		return err
	}
	if err := e.writeAggregatesSheet(f, aggregates); err != nil {
		return err
	}

	// Drop the default sheet so the workbook opens on Sessions
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (e *HistoryExporter) writeSessionsSheet(f *excelize.File, sessions []*models.Session) error {
	if _, err := f.NewSheet(sessionsSheet); err != nil {
		return fmt.Errorf("failed to create sessions sheet: %w", err)
	}
	if err := f.SetSheetRow(sessionsSheet, "A1", &sessionHeaders); err != nil {
		return err
	}

	for i, session := range sessions {
		endedAt := ""
		if session.EndedAt != nil {
			endedAt = session.EndedAt.Format("2006-01-02 15:04:05")
		}
		row := []interface{}{
			session.ID.String(),
			string(session.Status),
			string(session.MentalState),
			session.TaskLabel,
			session.PlannedMinutes,
			session.ActualMinutes,
			session.DistractionCount,
			session.IdleSeconds,
			session.TabSwitchCount,
			session.ScoreDelta,
			session.Boosted,
			session.StartedAt.Format("2006-01-02 15:04:05"),
			endedAt,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sessionsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write session row %d: %w", i+2, err)
		}
	}
	return nil
}

func (e *HistoryExporter) writeAggregatesSheet(f *excelize.File, aggregates []*models.DailyAggregate) error {
	if _, err := f.NewSheet(aggregatesSheet); err != nil {
		return fmt.Errorf("failed to create aggregates sheet: %w", err)
	}
	if err := f.SetSheetRow(aggregatesSheet, "A1", &aggregateHeaders); err != nil {
		return err
	}

	for i, agg := range aggregates {
		row := []interface{}{
			agg.Day.Format("2006-01-02"),
			agg.TotalFocusMinutes,
			agg.SessionsCompleted,
			agg.DistractionCount,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(aggregatesSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write aggregate row %d: %w", i+2, err)
		}
	}
	return nil
}
