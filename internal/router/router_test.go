package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcal/internal/envelope"
)

// recorder logs every call made on the handlers it creates.
type recorder struct {
	calls []string
}

type recordingHandler struct {
	name    string
	rec     *recorder
	start   bool
	failOn  string
	failure error
}

func (r *recorder) handler(name string) *recordingHandler {
	return &recordingHandler{name: name, rec: r, start: true}
}

func (h *recordingHandler) Start(moduleName, moduleID string, _ json.RawMessage, _ time.Time) bool {
	h.rec.calls = append(h.rec.calls, fmt.Sprintf("%s start %s/%s", h.name, moduleName, moduleID))
	return h.start
}

func (h *recordingHandler) Handle(actionType string, _ json.RawMessage) bool {
	h.rec.calls = append(h.rec.calls, fmt.Sprintf("%s handle %s", h.name, actionType))
	return actionType != h.failOn
}

func (h *recordingHandler) Done(success bool) {
	h.rec.calls = append(h.rec.calls, fmt.Sprintf("%s done %t", h.name, success))
}

func (h *recordingHandler) ResponseFailure(err error) {
	h.failure = err
	h.rec.calls = append(h.rec.calls, h.name+" failure")
}

func batch(t *testing.T, body string) *envelope.Envelope {
	t.Helper()
	env, err := DecodeBatch([]byte(body))
	require.NoError(t, err)
	return env
}

func TestResponsesBeforeNotifications(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("r1", rec.handler("req1")))
	require.NoError(t, reg.Register("r2", rec.handler("req2")))

	notified := 0
	resolver := ResolverMap{
		"hierarchynotifier": func(json.RawMessage) ResponseHandler {
			notified++
			return rec.handler(fmt.Sprintf("note%d", notified))
		},
	}
	r := New(reg, resolver)

	b := batch(t, `{"zarafa":{
		"hierarchynotifier":{"n1":{"newobject":{}}},
		"appointmentlistmodule":{"r2":{"list":{}},"orphan":{"list":{}}},
		"mailmodule":{"r1":{"list":{}}},
		"unknownnotifier":{"x":{"update":{}}}
	}}`)
	res := r.ResolveResponseHandlers(b)
	require.Len(t, res, 3)
	assert.Equal(t, KindResponse, res[0].Kind)
	assert.Equal(t, "r2", res[0].Module.ID)
	assert.Equal(t, KindResponse, res[1].Kind)
	assert.Equal(t, "r1", res[1].Module.ID)
	assert.Equal(t, KindNotification, res[2].Kind)
	assert.Equal(t, "n1", res[2].Module.ID)
	assert.Zero(t, reg.Len())
}

func TestReceiveRunsTransactionsInOrder(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("r1", rec.handler("req")))
	r := New(reg, ResolverMap{
		"notifier": func(json.RawMessage) ResponseHandler { return rec.handler("note") },
	})
	r.OnBeforeReceive(func(*envelope.Envelope) { rec.calls = append(rec.calls, "before") })
	r.OnAfterReceive(func(*envelope.Envelope) { rec.calls = append(rec.calls, "after") })

	r.Receive(batch(t, `{"zarafa":{
		"notifier":{"n":{"update":{}}},
		"listmodule":{"r1":{"list":{},"error":{}}}
	}}`))

	assert.Equal(t, []string{
		"before",
		"req start listmodule/r1",
		"req handle list",
		"req handle error",
		"req done true",
		"note start notifier/n",
		"note handle update",
		"note done true",
		"after",
	}, rec.calls)
}

func TestHandleResponseSemantics(t *testing.T) {
	r := New(NewRegistry(), nil)
	mod := func(body string) envelope.Module {
		return batch(t, `{"zarafa":{"m":{"id":`+body+`}}}`).Modules[0]
	}

	t.Run("declined start skips done", func(t *testing.T) {
		rec := &recorder{}
		h := rec.handler("h")
		h.start = false
		r.HandleResponse(h, mod(`{"a":1,"b":2}`), time.Now())
		assert.Equal(t, []string{"h start m/id"}, rec.calls)
	})

	t.Run("failed action keeps going", func(t *testing.T) {
		rec := &recorder{}
		h := rec.handler("h")
		h.failOn = "a"
		r.HandleResponse(h, mod(`{"a":1,"b":2}`), time.Now())
		assert.Equal(t, []string{"h start m/id", "h handle a", "h handle b", "h done false"}, rec.calls)
	})

	t.Run("no actions succeeds", func(t *testing.T) {
		rec := &recorder{}
		r.HandleResponse(rec.handler("h"), mod(`{}`), time.Now())
		assert.Equal(t, []string{"h start m/id", "h done true"}, rec.calls)
	})

	t.Run("scalar payload has no actions", func(t *testing.T) {
		rec := &recorder{}
		r.HandleResponse(rec.handler("h"), mod(`"ok"`), time.Now())
		assert.Equal(t, []string{"h start m/id", "h done true"}, rec.calls)
	})
}

func TestHandlerResolvedOnlyOnce(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("r1", rec.handler("req")))
	r := New(reg, nil)

	b := `{"zarafa":{"listmodule":{"r1":{"list":{}}}}}`
	r.Receive(batch(t, b))
	r.Receive(batch(t, b))
	assert.Equal(t, []string{"req start listmodule/r1", "req handle list", "req done true"}, rec.calls)

	r.ReceiveFailure(batch(t, b), errors.New("late"))
	assert.Len(t, rec.calls, 3)
}

func TestResponseVeto(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("a", rec.handler("a")))
	require.NoError(t, reg.Register("b", rec.handler("b")))
	r := New(reg, nil)

	var seen []string
	r.OnResponse(func(ev ResponseEvent) bool {
		seen = append(seen, ev.ModuleID)
		return ev.ModuleID != "a"
	})
	r.Receive(batch(t, `{"zarafa":{"m":{"a":{"list":{}},"b":{"list":{}}}}}`))

	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, []string{"b start m/b", "b handle list", "b done true"}, rec.calls)
}

func TestRequestWideErrorShortCircuits(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("r1", rec.handler("req")))
	r := New(reg, nil)

	var exceptions int
	r.OnException(func(*envelope.Envelope) { exceptions++ })
	r.OnAfterReceive(func(*envelope.Envelope) { rec.calls = append(rec.calls, "after") })

	r.Receive(batch(t, `{"zarafa":{"error":{"info":{"display_message":"denied"}},"m":{"r1":{"list":{}}}}}`))
	assert.Equal(t, 1, exceptions)
	assert.Equal(t, []string{"after"}, rec.calls)
	assert.Equal(t, 1, reg.Len())
}

func TestReceiveFailure(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	h1, h2 := rec.handler("one"), rec.handler("two")
	require.NoError(t, reg.Register("r1", h1))
	require.NoError(t, reg.Register("r2", h2))
	r := New(reg, nil)

	var events int
	r.OnReceiveException(func(*envelope.Envelope, error) { events++ })

	r.ReceiveFailure(nil, errors.New("no request data"))
	assert.Equal(t, 1, events)
	assert.Empty(t, rec.calls)
	assert.Equal(t, 2, reg.Len())

	terr := &TransportError{StatusCode: 502}
	r.ReceiveFailure(batch(t, `{"zarafa":{"m":{"r1":{"list":{}}}}}`), terr)
	assert.Equal(t, 2, events)
	assert.Equal(t, []string{"one failure"}, rec.calls)
	assert.Same(t, terr, h1.failure)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("x", BaseHandler{}))
	assert.ErrorIs(t, reg.Register("x", BaseHandler{}), ErrAlreadyRegistered)

	_, ok := reg.Take("x")
	assert.True(t, ok)
	_, ok = reg.Take("x")
	assert.False(t, ok)

	require.NoError(t, reg.Register("y", BaseHandler{}))
	reg.Remove("y")
	assert.Zero(t, reg.Len())
}

func TestTransportError(t *testing.T) {
	inner := errors.New("connection reset")
	err := error(&TransportError{StatusCode: 0, Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "connection reset")

	var te *TransportError
	require.ErrorAs(t, error(&TransportError{StatusCode: 500}), &te)
	assert.Equal(t, 500, te.StatusCode)
}
