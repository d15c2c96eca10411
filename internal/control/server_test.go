package control

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/journal"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/runner"
)

type fakeRunner struct {
	armed    bool
	tunables models.RunnerTunables
}

func (f *fakeRunner) SetExecutionArmed(v bool) { f.armed = v }
func (f *fakeRunner) ExecutionArmed() bool     { return f.armed }
func (f *fakeRunner) UpdateTunables(validate func() error, t models.RunnerTunables) error {
	if err := validate(); err != nil {
		return err
	}
	f.tunables = t
	return nil
}
func (f *fakeRunner) Tunables() models.RunnerTunables { return f.tunables }
func (f *fakeRunner) Snapshot() runner.Snapshot {
	return runner.Snapshot{ExecutionArmed: f.armed, Tunables: f.tunables}
}

func newTestServer(t *testing.T, token string, missed *journal.Journal) (*Server, *fakeRunner) {
	t.Helper()
	fr := &fakeRunner{tunables: models.RunnerTunables{SLPoints: 30, TrailPoints: 10, OrderLots: 1, LotSize: 75, DailyLossLimitPct: 5}}
	validate := func(tn models.RunnerTunables) error {
		if tn.SLPoints <= 0 {
			return assert.AnError
		}
		return nil
	}
	return New(Config{Port: 0, AuthToken: token}, fr, nil, missed, nil, validate), fr
}

func TestArmDisarm(t *testing.T) {
	s, fr := newTestServer(t, "", nil)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/arm", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fr.armed)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/disarm", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, fr.armed)
}

func TestSetTunables_RejectsInvalid(t *testing.T) {
	s, fr := newTestServer(t, "", nil)

	body := strings.NewReader(`{"SLPoints": -1}`)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/tunables", body))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 30.0, fr.tunables.SLPoints) // previous value kept

	body = strings.NewReader(`{"SLPoints": 40, "TrailPoints": 15, "OrderLots": 2, "LotSize": 75, "DailyLossLimitPct": 4}`)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/tunables", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40.0, fr.tunables.SLPoints)
}

func TestAuthMiddleware(t *testing.T) {
	s, _ := newTestServer(t, "secret-token", nil)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/arm", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/control/arm", nil)
	req.Header.Set("X-Auth-Token", "secret-token")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays open without a token
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissedEndpoint_ReturnsFailedRows(t *testing.T) {
	missed, err := journal.Open(filepath.Join(t.TempDir(), "missed.csv"))
	require.NoError(t, err)
	require.NoError(t, missed.Append(journal.Entry{
		Timestamp: time.Now(), Symbol: "NIFTY", Strike: 24000, Direction: "CE",
		Status: models.TradeStatusFailed, PreReason: "cooldown",
	}))

	s, _ := newTestServer(t, "", missed)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/control/missed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cooldown")
}

func TestRedactTokenFromURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/control/snapshot?token=supersecret&limit=5", nil)
	redacted := redactTokenFromURL(req.URL)
	assert.NotContains(t, redacted.String(), "supersecret")
	assert.Contains(t, redacted.String(), "limit=5")
}
