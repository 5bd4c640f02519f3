package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcal/internal/client"
	"groupcal/internal/config"
	"groupcal/internal/mapi/memstore"
	"groupcal/internal/mapi/sqlitestore"
)

func TestSources(t *testing.T) {
	conf := config.DefaultConfig()
	conf.ICS = []config.ICSConfig{
		{ID: "a", Name: "Team", URL: "https://example.com/a.ics"},
		{Name: "Holidays", URL: "https://example.com/h.ics"},
		{ID: "skipped"},
	}
	got := sources(conf)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "Holidays", got[1].ID)
	assert.Equal(t, "Holidays", got[1].FolderName())
}

func TestOpenStore(t *testing.T) {
	conf := config.DefaultConfig()
	st, closeStore, err := openStore(conf)
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, st)
	require.NoError(t, closeStore())

	conf.Store.Driver = "sqlite"
	conf.Store.Path = filepath.Join(t.TempDir(), "data", "groupcal.db")
	st, closeStore, err = openStore(conf)
	require.NoError(t, err)
	assert.IsType(t, &sqlitestore.Store{}, st)
	assert.Equal(t, conf.Store.Owner, st.Owner())
	require.NoError(t, closeStore())
}

func TestPrintItems(t *testing.T) {
	var buf bytes.Buffer
	printItems(&buf, []client.Item{{Props: map[string]any{
		"subject":     "Standup",
		"startdate":   float64(1748854800),
		"duedate":     float64(1748855700),
		"alldayevent": false,
		"exception":   true,
		"basedate":    float64(1748854800),
	}}})
	out := buf.String()
	assert.Contains(t, out, "Standup")
	assert.Contains(t, out, "2025-06-02 09:00:00")
	assert.Contains(t, out, "exception,occurrence")
}
