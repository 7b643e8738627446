package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/olcf/harmony/pkg/config"
	"github.com/olcf/harmony/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupTestServer(t *testing.T, mutate func(cfg *config.APIConfig)) (*server, store.Store) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver:      "sqlite",
		TablePrefix: config.DefaultTablePrefix,
		SQLite:      config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.APIConfig{
		Enabled: true,
		Listen:  "127.0.0.1:0",
		Annotators: []config.AnnotatorConfig{
			{Username: "ops", PasswordHash: string(hash)},
		},
	}

	if mutate != nil {
		mutate(cfg)
	}

	srv := newServer(log, cfg, st)
	t.Cleanup(func() { _ = srv.Stop() })

	return srv, st
}

func seedRuns(t *testing.T, st store.Store) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, st.SeedEventTypes(ctx, []store.EventType{
		{Code: 110, Name: "logging_start"},
		{Code: 130, Name: "build_end"},
	}))
	require.NoError(t, st.SeedCheckCodes(ctx, []store.CheckCode{
		{Code: 0, Description: "Passed"},
		{Code: 1, Description: "Failed"},
	}))

	types, err := st.ListEventTypes(ctx)
	require.NoError(t, err)

	output := "build log"

	runs := []*store.Run{
		{HarnessUID: "uid-b", Application: "lammps", Testname: "medium", System: "summit", Done: true, OutputBuild: &output},
		{HarnessUID: "uid-a", Application: "hello", Testname: "small", System: "summit", OutputBuild: &output},
		{HarnessUID: "uid-c", Application: "hello", Testname: "small", System: "frontier"},
	}

	for _, run := range runs {
		require.NoError(t, st.CreateRun(ctx, run))
	}

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, et := range types {
		require.NoError(t, st.CreateRunEvent(ctx, &store.RunEvent{
			RunID:       runs[1].ID,
			EventTypeID: et.ID,
			EventTime:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func doRequest(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))

	return v
}

func TestHandleHealth(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	rec := doRequest(t, srv.buildRouter(), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleListRuns(t *testing.T) {
	srv, st := setupTestServer(t, nil)
	seedRuns(t, st)

	router := srv.buildRouter()

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantUIDs []string
		total    int64
	}{
		{name: "all ordered", query: "", wantCode: http.StatusOK, wantUIDs: []string{"uid-a", "uid-c", "uid-b"}, total: 3},
		{name: "by application", query: "?application=hello", wantCode: http.StatusOK, wantUIDs: []string{"uid-a", "uid-c"}, total: 2},
		{name: "by system", query: "?system=frontier", wantCode: http.StatusOK, wantUIDs: []string{"uid-c"}, total: 1},
		{name: "open only", query: "?done=false", wantCode: http.StatusOK, wantUIDs: []string{"uid-a", "uid-c"}, total: 2},
		{name: "paged", query: "?page=2&page_size=2", wantCode: http.StatusOK, wantUIDs: []string{"uid-b"}, total: 3},
		{name: "bad done", query: "?done=maybe", wantCode: http.StatusBadRequest},
		{name: "page zero", query: "?page=0", wantCode: http.StatusBadRequest},
		{name: "page size too large", query: "?page_size=501", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/runs"+tt.query, nil))
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantCode != http.StatusOK {
				return
			}

			resp := decode[runListResponse](t, rec)
			assert.Equal(t, tt.total, resp.Total)

			uids := make([]string, 0, len(resp.Runs))
			for _, run := range resp.Runs {
				uids = append(uids, run.HarnessUID)
				assert.Nil(t, run.OutputBuild, "listings leave out outputs")
			}

			assert.Equal(t, tt.wantUIDs, uids)
		})
	}
}

func TestHandleGetRun(t *testing.T) {
	srv, st := setupTestServer(t, nil)
	seedRuns(t, st)

	router := srv.buildRouter()

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/runs/uid-a", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			HarnessUID  string         `json:"harness_uid"`
			OutputBuild *string        `json:"output_build"`
			Events      []runEventView `json:"events"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		assert.Equal(t, "uid-a", resp.HarnessUID)
		require.NotNil(t, resp.OutputBuild)
		assert.Equal(t, "build log", *resp.OutputBuild)
		require.Len(t, resp.Events, 2)
		assert.Equal(t, 110, resp.Events[0].Code)
		assert.Equal(t, "logging_start", resp.Events[0].Name)
		assert.Equal(t, 130, resp.Events[1].Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec := doRequest(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleCatalogs(t *testing.T) {
	srv, st := setupTestServer(t, nil)
	seedRuns(t, st)

	router := srv.buildRouter()

	rec := doRequest(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"applications":["hello","lammps"]}`, rec.Body.String())

	rec = doRequest(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/event-types", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	types := decode[map[string][]store.EventType](t, rec)
	assert.Len(t, types["event_types"], 2)

	rec = doRequest(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/check-codes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	codes := decode[map[string][]store.CheckCode](t, rec)
	assert.Len(t, codes["check_codes"], 2)

	rec = doRequest(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	sum := decode[store.Summary](t, rec)
	assert.Equal(t, int64(3), sum.Runs)
	assert.Equal(t, int64(2), sum.OpenRuns)
	assert.Equal(t, int64(2), sum.RunEvents)
}

func TestAnnotations(t *testing.T) {
	srv, st := setupTestServer(t, nil)
	seedRuns(t, st)

	router := srv.buildRouter()

	post := func(user, pass, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/uid-b/annotations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		if user != "" {
			req.SetBasicAuth(user, pass)
		}

		return doRequest(t, router, req)
	}

	tests := []struct {
		name     string
		user     string
		pass     string
		body     string
		wantCode int
	}{
		{name: "no credentials", body: `{"category":"node"}`, wantCode: http.StatusUnauthorized},
		{name: "unknown user", user: "eve", pass: "s3cret", body: `{"category":"node"}`, wantCode: http.StatusUnauthorized},
		{name: "wrong password", user: "ops", pass: "guess", body: `{"category":"node"}`, wantCode: http.StatusUnauthorized},
		{name: "missing category", user: "ops", pass: "s3cret", body: `{"note":"x"}`, wantCode: http.StatusBadRequest},
		{name: "unknown field", user: "ops", pass: "s3cret", body: `{"category":"node","done":true}`, wantCode: http.StatusBadRequest},
		{name: "created", user: "ops", pass: "s3cret", body: `{"category":"node failure","note":"bad DIMM on h12n04"}`, wantCode: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(tt.user, tt.pass, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantCode == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}

	rec := doRequest(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/runs/uid-b/annotations", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string][]store.FailureAnnotation](t, rec)
	require.Len(t, resp["annotations"], 1)
	assert.Equal(t, "ops", resp["annotations"][0].Author)
	assert.Equal(t, "node failure", resp["annotations"][0].Category)

	run, err := st.GetRunByHarnessUID(context.Background(), "uid-b")
	require.NoError(t, err)
	assert.True(t, run.Done, "annotating never touches the run")

	rec = post("ops", "s3cret", `{"category":"x"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	missing := httptest.NewRequest(http.MethodPost, "/api/v1/runs/nope/annotations", strings.NewReader(`{"category":"x"}`))
	missing.SetBasicAuth("ops", "s3cret")
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, missing).Code)
}

func TestRateLimit(t *testing.T) {
	srv, _ := setupTestServer(t, func(cfg *config.APIConfig) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	})

	router := srv.buildRouter()

	codes := make([]int, 0, 3)

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		codes = append(codes, doRequest(t, router, req).Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	assert.Equal(t, http.StatusOK, doRequest(t, router, other).Code)
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{name: "remote addr", remote: "192.0.2.1:5000", want: "192.0.2.1"},
		{name: "forwarded chain", xff: "203.0.113.7, 10.0.0.1", remote: "10.0.0.1:80", want: "203.0.113.7"},
		{name: "bare remote", remote: "192.0.2.9", want: "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote

			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, extractIP(req))
		})
	}
}

func TestRateLimiterMap_Prune(t *testing.T) {
	rl := newRateLimiterMap(10)
	rl.getLimiter("a")
	rl.getLimiter("b")

	rl.prune(time.Hour)
	assert.Len(t, rl.limiters, 2)

	rl.prune(-time.Second)
	assert.Empty(t, rl.limiters)
}

func TestServer_StartStop(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop())
}
