package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"keydash/internal/config"
	"keydash/internal/infrastructure"
	"keydash/internal/shared/testutil"
)

type capturedAppend struct {
	path   string
	query  map[string]string
	values [][]interface{}
}

// newSheetsFake returns a recorder whose sheets client talks to a local
// fake, plus a pointer to the last captured append call.
func newSheetsFake(t *testing.T, status int, reply string) (*SheetsRecorder, *capturedAppend, *testutil.BufferedSlogHandler) {
	t.Helper()

	captured := &capturedAppend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.query = map[string]string{
			"valueInputOption": r.URL.Query().Get("valueInputOption"),
			"insertDataOption": r.URL.Query().Get("insertDataOption"),
		}
		body, _ := io.ReadAll(r.Body)
		var decoded struct {
			Values [][]interface{} `json:"values"`
		}
		_ = json.Unmarshal(body, &decoded)
		captured.values = decoded.Values

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(server.Close)

	service, err := sheets.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication())
	require.NoError(t, err)

	logger, handler := testutil.NewTestLogger(t)
	recorder := &SheetsRecorder{
		service:       service,
		spreadsheetID: "sheet-1",
		sheetName:     "AuditLog",
		logger:        logger,
	}
	return recorder, captured, handler
}

func TestNopRecorder(t *testing.T) {
	var recorder Recorder = NopRecorder{}
	assert.NoError(t, recorder.Record(context.Background(), Entry{Action: "create"}))
}

func TestNewSheetsRecorderRequiresSpreadsheet(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	_, err := NewSheetsRecorder(context.Background(), config.AuditConfig{}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spreadsheet id is required")
}

func TestSheetsRecorderAppendsRow(t *testing.T) {
	recorder, captured, handler := newSheetsFake(t, http.StatusOK, `{}`)

	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	err := recorder.Record(context.Background(), Entry{
		Actor:     "ops@example.com",
		Action:    "create",
		LicenseID: "KEY-ACTIVE-0001",
		Outcome:   OutcomeSuccess,
		At:        at,
	})
	require.NoError(t, err)

	assert.Contains(t, captured.path, "/v4/spreadsheets/sheet-1/values/")
	assert.Contains(t, captured.path, ":append")
	assert.Equal(t, "RAW", captured.query["valueInputOption"])
	assert.Equal(t, "INSERT_ROWS", captured.query["insertDataOption"])

	require.Len(t, captured.values, 1)
	row := captured.values[0]
	require.Len(t, row, 7)
	assert.NotEmpty(t, row[0], "row id")
	assert.Equal(t, "2025-06-15T12:00:00Z", row[1])
	assert.Equal(t, "ops@example.com", row[2])
	assert.Equal(t, "create", row[3])
	assert.Equal(t, "KEY-ACTIVE-0001", row[4])
	assert.Equal(t, OutcomeSuccess, row[5])
	assert.Equal(t, "", row[6])

	assert.True(t, handler.ContainsMessage("audit row appended"))
}

func TestSheetsRecorderRecordsFailureDetail(t *testing.T) {
	recorder, captured, _ := newSheetsFake(t, http.StatusOK, `{}`)

	err := recorder.Record(context.Background(), Entry{
		Actor:     "ops@example.com",
		Action:    "delete",
		LicenseID: "KEY-PAUSED-0003",
		Outcome:   OutcomeFailure,
		Detail:    "quota exceeded",
		At:        time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, captured.values, 1)
	row := captured.values[0]
	assert.Equal(t, OutcomeFailure, row[5])
	assert.Equal(t, "quota exceeded", row[6])
}

func TestSheetsRecorderFillsTimestamp(t *testing.T) {
	recorder, captured, _ := newSheetsFake(t, http.StatusOK, `{}`)

	before := time.Now().UTC()
	require.NoError(t, recorder.Record(context.Background(), Entry{
		Actor:   "ops@example.com",
		Action:  "toggle_status",
		Outcome: OutcomeSuccess,
	}))

	require.Len(t, captured.values, 1)
	stamp, ok := captured.values[0][1].(string)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339, stamp)
	require.NoError(t, err)
	assert.False(t, parsed.Before(before.Truncate(time.Second)))
}

func TestSheetsRecorderSurfacesAppendError(t *testing.T) {
	recorder, _, handler := newSheetsFake(t, http.StatusForbidden,
		`{"error":{"code":403,"message":"The caller does not have permission"}}`)

	err := recorder.Record(context.Background(), Entry{
		Actor:   "ops@example.com",
		Action:  "create",
		Outcome: OutcomeSuccess,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append audit row")
	assert.True(t, handler.ContainsMessage("audit row append failed"))
}

func TestSheetsRecorderWithMetrics(t *testing.T) {
	recorder, _, _ := newSheetsFake(t, http.StatusOK, `{}`)

	metrics, err := infrastructure.CreateBusinessMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	recorder.SetMetrics(metrics)

	require.NoError(t, recorder.Record(context.Background(), Entry{
		Actor:   "ops@example.com",
		Action:  "reset_hwid",
		Outcome: OutcomeSuccess,
	}))
}
