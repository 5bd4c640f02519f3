package router

import (
	"encoding/json"
	"time"
)

// ResponseHandler processes the response of one module id as a
// transaction: Start, one Handle per action, then Done.
type ResponseHandler interface {
	// Start opens the transaction. Returning false skips Handle and Done.
	Start(moduleName, moduleID string, data json.RawMessage, ts time.Time) bool
	// Handle processes one action; false marks the transaction failed
	// without stopping the remaining actions.
	Handle(actionType string, data json.RawMessage) bool
	// Done closes the transaction.
	Done(success bool)
	// ResponseFailure reports that the request never got a usable response.
	ResponseFailure(err error)
}

// BaseHandler implements ResponseHandler with no-ops. Embed it and
// override what is needed.
type BaseHandler struct{}

func (BaseHandler) Start(string, string, json.RawMessage, time.Time) bool { return true }
func (BaseHandler) Handle(string, json.RawMessage) bool                  { return true }
func (BaseHandler) Done(bool)                                            {}
func (BaseHandler) ResponseFailure(error)                                {}

// NotificationResolver builds handlers for data the server pushed without
// a matching request.
type NotificationResolver interface {
	// Resolve returns nil when nothing handles moduleName.
	Resolve(moduleName string, data json.RawMessage) ResponseHandler
}

// ResolverFunc adapts a function to NotificationResolver.
type ResolverFunc func(moduleName string, data json.RawMessage) ResponseHandler

func (f ResolverFunc) Resolve(moduleName string, data json.RawMessage) ResponseHandler {
	return f(moduleName, data)
}

// ResolverMap resolves notifications by module name.
type ResolverMap map[string]func(data json.RawMessage) ResponseHandler

func (m ResolverMap) Resolve(moduleName string, data json.RawMessage) ResponseHandler {
	f, ok := m[moduleName]
	if !ok {
		return nil
	}
	return f(data)
}
