// Package router hands server responses to the handlers waiting for them.
// Answers to outstanding requests are matched by module id; everything
// else is offered to a notification resolver.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"groupcal/internal/envelope"
	appLog "groupcal/internal/log"
)

// Kind tells request answers from notifications.
type Kind int

const (
	KindResponse Kind = iota
	KindNotification
)

func (k Kind) String() string {
	if k == KindNotification {
		return "notification"
	}
	return "response"
}

// Resolved is a module payload paired with the handler that will process it.
type Resolved struct {
	Kind    Kind
	Module  envelope.Module
	Handler ResponseHandler
}

// ResponseEvent is passed to response listeners before a payload is handled.
type ResponseEvent struct {
	ModuleName string
	ModuleID   string
	Data       json.RawMessage
	Timestamp  time.Time
}

// TransportError is a request that failed before a usable envelope came back.
type TransportError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("router: transport failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("router: transport failure (status %d)", e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeBatch parses a response body, keeping encounter order.
func DecodeBatch(body []byte) (*envelope.Envelope, error) {
	return envelope.Decode(body)
}

// Router dispatches response batches. Batches are processed one at a time;
// handlers run synchronously and must not call back into the Router.
type Router struct {
	registry *Registry
	resolver NotificationResolver
	now      func() time.Time

	dispatch sync.Mutex

	mu               sync.RWMutex
	beforeReceive    []func(*envelope.Envelope)
	afterReceive     []func(*envelope.Envelope)
	receiveException []func(req *envelope.Envelope, err error)
	response         []func(ResponseEvent) bool
	exception        []func(*envelope.Envelope)
}

// New returns a Router taking request handlers from registry. resolver
// may be nil when notifications are not handled.
func New(registry *Registry, resolver NotificationResolver) *Router {
	return &Router{
		registry: registry,
		resolver: resolver,
		now:      time.Now,
	}
}

func (r *Router) Registry() *Registry { return r.registry }

// OnBeforeReceive registers fn to run before a batch is processed.
func (r *Router) OnBeforeReceive(fn func(*envelope.Envelope)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeReceive = append(r.beforeReceive, fn)
}

// OnAfterReceive registers fn to run after a batch is processed.
func (r *Router) OnAfterReceive(fn func(*envelope.Envelope)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterReceive = append(r.afterReceive, fn)
}

// OnReceiveException registers fn for transport failures. req is nil when
// the failed request is unknown.
func (r *Router) OnReceiveException(fn func(req *envelope.Envelope, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receiveException = append(r.receiveException, fn)
}

// OnResponse registers fn to run before each payload is handled. A false
// return skips that payload.
func (r *Router) OnResponse(fn func(ResponseEvent) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.response = append(r.response, fn)
}

// OnException registers fn for batches carrying a request-wide error.
func (r *Router) OnException(fn func(*envelope.Envelope)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exception = append(r.exception, fn)
}

func (r *Router) listeners() (before, after []func(*envelope.Envelope), exc []func(*envelope.Envelope), resp []func(ResponseEvent) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.beforeReceive, r.afterReceive, r.exception, r.response
}

// Receive processes a response batch.
func (r *Router) Receive(batch *envelope.Envelope) {
	r.dispatch.Lock()
	defer r.dispatch.Unlock()

	before, after, _, _ := r.listeners()
	for _, fn := range before {
		fn(batch)
	}
	r.processResponse(batch)
	for _, fn := range after {
		fn(batch)
	}
}

func (r *Router) processResponse(batch *envelope.Envelope) {
	_, _, exc, resp := r.listeners()
	if batch.HasError() {
		appLog.Error("router: request-wide error in response", errors.New(string(batch.Error)))
		for _, fn := range exc {
			fn(batch)
		}
		return
	}

	ts := r.now()
	for _, res := range r.ResolveResponseHandlers(batch) {
		ev := ResponseEvent{
			ModuleName: res.Module.Name,
			ModuleID:   res.Module.ID,
			Data:       res.Module.Raw,
			Timestamp:  ts,
		}
		if !allow(resp, ev) {
			appLog.Debug("router: response vetoed", "module", ev.ModuleName, "id", ev.ModuleID)
			continue
		}
		r.HandleResponse(res.Handler, res.Module, ts)
	}
}

func allow(listeners []func(ResponseEvent) bool, ev ResponseEvent) bool {
	for _, fn := range listeners {
		if !fn(ev) {
			return false
		}
	}
	return true
}

// ResolveResponseHandlers pairs every module payload with a handler: the
// registered request handler for its id, or else a notification handler.
// Request answers come first, each group in encounter order. Payloads
// without a handler are dropped.
func (r *Router) ResolveResponseHandlers(batch *envelope.Envelope) []Resolved {
	var responses, notifications []Resolved
	for _, m := range batch.Modules {
		if h, ok := r.registry.Take(m.ID); ok && h != nil {
			responses = append(responses, Resolved{Kind: KindResponse, Module: m, Handler: h})
			continue
		}
		if r.resolver != nil {
			if h := r.resolver.Resolve(m.Name, m.Raw); h != nil {
				notifications = append(notifications, Resolved{Kind: KindNotification, Module: m, Handler: h})
				continue
			}
		}
		appLog.Debug("router: no handler for response", "module", m.Name, "id", m.ID)
	}
	return append(responses, notifications...)
}

// HandleResponse runs one handler transaction over m.
func (r *Router) HandleResponse(h ResponseHandler, m envelope.Module, ts time.Time) {
	if !h.Start(m.Name, m.ID, m.Raw, ts) {
		return
	}
	success := true
	if m.IsObject() {
		for _, a := range m.Actions {
			if !h.Handle(a.Type, a.Data) {
				success = false
			}
		}
	}
	h.Done(success)
}

// ReceiveFailure reports a failed request. When req, the envelope that was
// sent, is known, every handler still waiting on one of its module ids
// gets ResponseFailure.
func (r *Router) ReceiveFailure(req *envelope.Envelope, err error) {
	r.dispatch.Lock()
	defer r.dispatch.Unlock()

	r.mu.RLock()
	listeners := r.receiveException
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(req, err)
	}

	if req == nil {
		appLog.Error("router: unattributed request failure", err)
		return
	}
	appLog.Error("router: request failed", err, "modules", len(req.Modules))
	for _, m := range req.Modules {
		if h, ok := r.registry.Take(m.ID); ok && h != nil {
			h.ResponseFailure(err)
		}
	}
}
