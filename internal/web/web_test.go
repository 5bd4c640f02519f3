package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"groupcal/internal/calendar"
	"groupcal/internal/config"
	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
	"groupcal/internal/mapi/memstore"
	"groupcal/internal/module"
	"groupcal/internal/recurrence"
	"groupcal/internal/tzdef"
)

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.calls++
	return f.err
}

func newTestServer(t *testing.T, cfg *config.Config, refresher Refresher) (*Server, *memstore.Store, mapi.EntryID) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New("alice")
	fid, err := store.EnsureFolder(ctx, "Calendar")
	require.NoError(t, err)
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	_, err = store.AddMessage(ctx, fid, mapi.NewMessage{Props: mapi.Props{
		mapi.PropSubject:   "Dentist",
		mapi.PropStartDate: start,
		mapi.PropDueDate:   start.Add(time.Hour),
		mapi.PropPrivate:   true,
	}})
	require.NoError(t, err)

	d := module.NewDispatcher(module.Settings{PageSize: cfg.PageSize})
	d.Register(calendar.ModuleName, calendar.NewFactory(recurrence.NewEngine()))
	sessions := func(_ context.Context, user string) mapi.Session {
		if user == "nobody" {
			return nil
		}
		return memstore.NewSession(user, store)
	}
	return NewServer(cfg, d, sessions, refresher), store, fid
}

func listBody(fid mapi.EntryID) string {
	return `{"zarafa":{"appointmentlistmodule":{"m1":{"list":{"entryid":"` + fid.Hex() +
		`","restriction":{"startdate":1748822400,"duedate":1748908800}}}}}}`
}

func post(t *testing.T, h http.Handler, path, body string, mod func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if mod != nil {
		mod(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "alice", Password: "pw"}
	s, _, _ := newTestServer(t, cfg, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRequestsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	defer appLog.SetOutput(os.Stderr)

	s, _, _ := newTestServer(t, config.DefaultConfig(), nil)
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	line := buf.String()
	assert.Contains(t, line, "web: request")
	assert.Contains(t, line, "path=/health")
	assert.Contains(t, line, "status=200")
}

func TestModulesAsOwner(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Owner = "alice"
	s, _, fid := newTestServer(t, cfg, nil)

	rec := post(t, s.Handler(), "/api/modules", listBody(fid), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	item := gjson.Get(rec.Body.String(), "zarafa.appointmentlistmodule.m1.list.item.0.props")
	assert.Equal(t, "Dentist", item.Get("subject").String())
}

func TestModulesRedactsForDelegate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "bob", Password: "pw"}
	s, _, fid := newTestServer(t, cfg, nil)

	rec := post(t, s.Handler(), "/api/modules", listBody(fid), func(r *http.Request) {
		r.SetBasicAuth("bob", "pw")
		r.Header.Set("Accept-Language", "de-DE,de;q=0.9")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	props := gjson.Get(rec.Body.String(), "zarafa.appointmentlistmodule.m1.list.item.0.props")
	assert.NotEqual(t, "Dentist", props.Get("subject").String())
	assert.NotEmpty(t, props.Get("subject").String())
	assert.Equal(t, "", props.Get("location").String())
}

func TestModulesKeepAllDayItemsWithoutClientZone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Owner = "alice"
	cfg.Timezone = "Europe/Amsterdam"
	s, store, fid := newTestServer(t, cfg, nil)

	// Midnight of 2 June in New York.
	start := time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)
	def, err := tzdef.FromIANA("America/New_York", 2025)
	require.NoError(t, err)
	_, err = store.AddMessage(context.Background(), fid, mapi.NewMessage{Props: mapi.Props{
		mapi.PropSubject:     "Holiday",
		mapi.PropStartDate:   start,
		mapi.PropDueDate:     start.Add(24 * time.Hour),
		mapi.PropAllDayEvent: true,
		mapi.PropTZDefStart:  def.Marshal(),
	}})
	require.NoError(t, err)

	rec := post(t, s.Handler(), "/api/modules", listBody(fid), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	item := gjson.Get(rec.Body.String(), `zarafa.appointmentlistmodule.m1.list.item.#(props.subject=="Holiday").props`)
	require.True(t, item.Exists(), rec.Body.String())
	assert.Equal(t, start.Unix(), item.Get("startdate").Int())
}

func TestModulesRequiresAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "bob", Password: "pw"}
	s, _, fid := newTestServer(t, cfg, nil)

	rec := post(t, s.Handler(), "/api/modules", listBody(fid), func(r *http.Request) {
		r.SetBasicAuth("bob", "wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
}

func TestModulesWithoutSession(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Owner = "nobody"
	s, _, fid := newTestServer(t, cfg, nil)

	rec := post(t, s.Handler(), "/api/modules", listBody(fid), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(mapi.CodeNoAccess), gjson.Get(rec.Body.String(), "zarafa.error.info.hresult").Int())
}

func TestModulesMalformedBody(t *testing.T) {
	s, _, _ := newTestServer(t, config.DefaultConfig(), nil)
	rec := post(t, s.Handler(), "/api/modules", `{"nope":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "error").Exists())
}

func TestRefresh(t *testing.T) {
	s, _, _ := newTestServer(t, config.DefaultConfig(), nil)
	rec := post(t, s.Handler(), "/api/refresh", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	fr := &fakeRefresher{}
	s, _, _ = newTestServer(t, config.DefaultConfig(), fr)
	rec = post(t, s.Handler(), "/api/refresh", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "success").Bool())

	fr.err = errors.New("feed down")
	rec = post(t, s.Handler(), "/api/refresh", "", nil)
	assert.False(t, gjson.Get(rec.Body.String(), "success").Bool())
	assert.Equal(t, 2, fr.calls)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	s, _, _ := newTestServer(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
