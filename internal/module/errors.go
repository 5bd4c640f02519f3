package module

import (
	"errors"

	"groupcal/internal/i18n"
	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
)

// Error types understood by the client.
const (
	ErrorTypeMAPI    = 1
	ErrorTypeRequest = 2
)

// ErrorInfo describes a failed action.
type ErrorInfo struct {
	HResult          uint32 `json:"hresult"`
	Title            string `json:"title"`
	DisplayMessage   string `json:"display_message"`
	OriginalMessage  string `json:"original_message"`
	NotificationType string `json:"notification_type,omitempty"`
}

// ErrorData is the payload of an "error" action in the response.
type ErrorData struct {
	Type int       `json:"type"`
	Info ErrorInfo `json:"info"`
}

// ProcessException reports err as the "error" action of this module.
// With suppress set the client is told to log it to its console only.
func (b *Base) ProcessException(err error, actionType string, suppress bool) {
	me := *mapi.AsError(err)
	if suppress {
		me.NotificationType = mapi.NotificationConsole
	}
	if me.DisplayMessage == "" {
		if errors.Is(&me, mapi.ErrNoAccess) {
			me.DisplayMessage = b.T.T(i18n.AccessDenied)
		} else {
			me.DisplayMessage = b.T.T(i18n.ListFailed)
		}
	}

	kv := []any{"module", b.Name, "id", b.ID, "action", actionType, "hresult", me.Code}
	if suppress {
		appLog.Warn("module: suppressed action error: "+me.Message, kv...)
	} else {
		appLog.Error("module: action failed", err, kv...)
	}

	b.AddActionData("error", ErrorData{
		Type: ErrorTypeMAPI,
		Info: ErrorInfo{
			HResult:          me.Code,
			Title:            b.T.T(i18n.ErrorTitle),
			DisplayMessage:   me.DisplayMessage,
			OriginalMessage:  me.Message,
			NotificationType: me.NotificationType,
		},
	})
}

// HandleUnknownActionType reports an action this module does not implement.
func (b *Base) HandleUnknownActionType(actionType string) {
	msg := b.T.T(i18n.UnknownActionType, actionType)
	appLog.Warn("module: unknown action type", "module", b.Name, "action", actionType)
	b.AddActionData("error", ErrorData{
		Type: ErrorTypeRequest,
		Info: ErrorInfo{
			HResult:         mapi.CodeInvalidParameter,
			Title:           b.T.T(i18n.ErrorTitle),
			DisplayMessage:  msg,
			OriginalMessage: msg,
		},
	})
}
