package module

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"groupcal/internal/mapi"
	"groupcal/internal/mapi/memstore"
)

type fixture struct {
	store  *memstore.Store
	folder mapi.EntryID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memstore.New("alice")
	fid, err := s.EnsureFolder(ctx, "Calendar")
	require.NoError(t, err)

	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	for i, subject := range []string{"Planning", "Dentist", "Retro"} {
		_, err := s.AddMessage(ctx, fid, mapi.NewMessage{Props: mapi.Props{
			mapi.PropSubject:   subject,
			mapi.PropLocation:  "Room " + fmt.Sprint(i),
			mapi.PropStartDate: base.Add(time.Duration(i) * time.Hour),
			mapi.PropDueDate:   base.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			mapi.PropPrivate:   subject == "Dentist",
			mapi.PropRead:      subject != "Retro",
		}})
		require.NoError(t, err)
	}
	return &fixture{store: s, folder: fid}
}

func (f *fixture) dispatcher() *Dispatcher {
	d := NewDispatcher(Settings{PageSize: 10})
	d.Register("listmodule", func(b *Base) Module {
		return NewListModule(b, nil, []mapi.SortOrder{{Prop: mapi.PropStartDate}})
	})
	return d
}

func (f *fixture) request(actionType string, data map[string]any) []byte {
	if _, ok := data["entryid"]; !ok {
		data["entryid"] = f.folder.Hex()
	}
	body, _ := json.Marshal(map[string]any{
		"zarafa": map[string]any{
			"listmodule": map[string]any{
				"m1": map[string]any{actionType: data},
			},
		},
	})
	return body
}

func TestListRemovesPrivateRowsForOtherUsers(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()
	ctx := context.Background()

	out, err := d.Dispatch(ctx, memstore.NewSession("bob", f.store), f.request("list", map[string]any{}), "en")
	require.NoError(t, err)

	list := gjson.GetBytes(out, "zarafa.listmodule.m1.list")
	require.True(t, list.Exists(), string(out))
	subjects := list.Get("item.#.props.subject").Array()
	require.Len(t, subjects, 2)
	assert.Equal(t, "Planning", subjects[0].String())
	assert.Equal(t, "Retro", subjects[1].String())
	assert.Equal(t, int64(3), list.Get("folder.content_count").Int())
	assert.Equal(t, int64(1), list.Get("folder.content_unread").Int())
	assert.False(t, list.Get("page").Exists())
	assert.Equal(t, f.folder.Hex(), list.Get("item.0.parent_entryid").String())

	out, err = d.Dispatch(ctx, memstore.NewSession("alice", f.store), f.request("list", map[string]any{}), "en")
	require.NoError(t, err)
	assert.Len(t, gjson.GetBytes(out, "zarafa.listmodule.m1.list.item").Array(), 3)
}

func TestListPaging(t *testing.T) {
	f := newFixture(t)
	out, err := f.dispatcher().Dispatch(context.Background(), memstore.NewSession("alice", f.store),
		f.request("list", map[string]any{
			"restriction": map[string]any{"start": 1, "limit": 1},
			"sort":        []map[string]string{{"field": "startdate", "direction": "DESC"}},
		}), "en")
	require.NoError(t, err)

	list := gjson.GetBytes(out, "zarafa.listmodule.m1.list")
	assert.Equal(t, "Dentist", list.Get("item.0.props.subject").String())
	assert.Equal(t, int64(3), list.Get("page.totalrowcount").Int())
	assert.Equal(t, int64(1), list.Get("page.rowcount").Int())
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	out, err := f.dispatcher().Dispatch(context.Background(), memstore.NewSession("alice", f.store),
		f.request("search", map[string]any{"restriction": map[string]any{"search": "room 2"}}), "en")
	require.NoError(t, err)

	s := gjson.GetBytes(out, "zarafa.listmodule.m1.search")
	assert.Equal(t, int64(1), s.Get("search_meta.results").Int())
	assert.Equal(t, "Retro", s.Get("item.0.props.subject").String())
}

func TestActionErrors(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()
	sess := memstore.NewSession("alice", f.store)
	ctx := context.Background()

	out, err := d.Dispatch(ctx, sess, f.request("purge", map[string]any{}), "de")
	require.NoError(t, err)
	e := gjson.GetBytes(out, "zarafa.listmodule.m1.error")
	assert.Equal(t, int64(ErrorTypeRequest), e.Get("type").Int())
	assert.Equal(t, `Unbekannter Aktionstyp "purge"`, e.Get("info.display_message").String())

	missing := f.request("list", map[string]any{"entryid": "00ff", "suppress_exception": true})
	out, err = d.Dispatch(ctx, sess, missing, "en")
	require.NoError(t, err)
	e = gjson.GetBytes(out, "zarafa.listmodule.m1.error")
	assert.Equal(t, int64(mapi.CodeNotFound), e.Get("info.hresult").Int())
	assert.Equal(t, mapi.NotificationConsole, e.Get("info.notification_type").String())

	missing = f.request("list", map[string]any{"entryid": "00ff"})
	out, err = d.Dispatch(ctx, sess, missing, "en")
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "zarafa.listmodule.m1.error.info.notification_type").Exists())
}

func TestErrorDoesNotStopSiblingActions(t *testing.T) {
	f := newFixture(t)
	body := []byte(fmt.Sprintf(`{"zarafa":{"listmodule":{"m1":{
		"list":{"entryid":"00ff"},
		"search":{"entryid":%q,"restriction":{"search":"planning"}}
	}}}}`, f.folder.Hex()))

	out, err := f.dispatcher().Dispatch(context.Background(), memstore.NewSession("alice", f.store), body, "en")
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(out, "zarafa.listmodule.m1.error").Exists())
	assert.Equal(t, int64(1), gjson.GetBytes(out, "zarafa.listmodule.m1.search.search_meta.results").Int())
}

func TestDispatchWithoutSession(t *testing.T) {
	f := newFixture(t)
	out, err := f.dispatcher().Dispatch(context.Background(), nil, f.request("list", map[string]any{}), "en")
	require.NoError(t, err)
	assert.Equal(t, int64(mapi.CodeNoAccess), gjson.GetBytes(out, "zarafa.error.info.hresult").Int())
	assert.False(t, gjson.GetBytes(out, "zarafa.listmodule").Exists())
}

func TestDispatchSkipsUnknownModules(t *testing.T) {
	f := newFixture(t)
	out, err := f.dispatcher().Dispatch(context.Background(), memstore.NewSession("alice", f.store),
		[]byte(`{"zarafa":{"mailmodule":{"x":{"list":{}}}}}`), "en")
	require.NoError(t, err)
	assert.JSONEq(t, `{"zarafa":{}}`, string(out))
}

func TestStringList(t *testing.T) {
	var a ListAction
	require.NoError(t, json.Unmarshal([]byte(`{"entryid":"ab","store_entryid":["01","02"]}`), &a))
	assert.Equal(t, StringList{"ab"}, a.EntryID)
	assert.Equal(t, StringList{"01", "02"}, a.StoreEntryID)

	_, _, ok := a.Window()
	assert.False(t, ok)

	require.NoError(t, json.Unmarshal([]byte(`{"restriction":{"startdate":100,"duedate":200}}`), &a))
	start, end, ok := a.Window()
	require.True(t, ok)
	assert.Equal(t, int64(100), start.Unix())
	assert.Equal(t, int64(200), end.Unix())
}
