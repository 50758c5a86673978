package excel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"deepwork/internal/testkit"
	"deepwork/models"
	"deepwork/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func seedSession(t *testing.T, ledger *testkit.MemLedger, userID uuid.UUID, day time.Time, minutes int, status models.SessionStatus) uuid.UUID {
	t.Helper()
	session := models.NewSession(userID, minutes, models.MentalStateFlow, "refactor exporter", 0)
	session.StartedAt = day.Add(9 * time.Hour)
	require.NoError(t, ledger.InsertSession(context.Background(), session))
	_, err := ledger.FinalizeSession(context.Background(), session.ID, userID, ports.SessionFinalization{
		Status:           status,
		EndedAt:          session.StartedAt.Add(time.Duration(minutes) * time.Minute),
		ActualMinutes:    minutes,
		DistractionCount: 2,
		ScoreDelta:       minutes * 10,
		Day:              day,
	})
	require.NoError(t, err)
	return session.ID
}

func TestExport_WorkbookLayout(t *testing.T) {
	ledger := testkit.NewMemLedger()
	userID := uuid.New()
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local)

	older := seedSession(t, ledger, userID, day, 25, models.SessionCompleted)
	newer := seedSession(t, ledger, userID, day.AddDate(0, 0, 1), 50, models.SessionAbandoned)

	var buf bytes.Buffer
	require.NoError(t, NewHistoryExporter(ledger).Export(context.Background(), userID, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Sessions", "Daily"}, f.GetSheetList())

	rows, err := f.GetRows("Sessions")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Session ID", rows[0][0])
	// History is newest first
	assert.Equal(t, newer.String(), rows[1][0])
	assert.Equal(t, "abandoned", rows[1][1])
	assert.Equal(t, "50", rows[1][5])
	assert.Equal(t, older.String(), rows[2][0])
	assert.Equal(t, "completed", rows[2][1])

	daily, err := f.GetRows("Daily")
	require.NoError(t, err)
	require.Len(t, daily, 3)
	assert.Equal(t, "2025-06-02", daily[1][0])
	assert.Equal(t, "25", daily[1][1])
	assert.Equal(t, "1", daily[1][2])
	assert.Equal(t, "2025-06-03", daily[2][0])
	assert.Equal(t, "0", daily[2][2])
}

func TestExport_EmptyHistoryStillWritesHeaders(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewHistoryExporter(testkit.NewMemLedger()).Export(context.Background(), uuid.New(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Sessions")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Status", rows[0][1])
}
