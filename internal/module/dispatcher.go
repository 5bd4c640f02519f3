package module

import (
	"context"
	"sync"

	"groupcal/internal/envelope"
	"groupcal/internal/i18n"
	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
)

// Dispatcher routes the modules of a request envelope to their factories.
type Dispatcher struct {
	settings Settings

	mu        sync.RWMutex
	factories map[string]Factory
}

func NewDispatcher(settings Settings) *Dispatcher {
	return &Dispatcher{
		settings:  settings,
		factories: make(map[string]Factory),
	}
}

// Register makes name available to requests.
func (d *Dispatcher) Register(name string, f Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[name] = f
}

func (d *Dispatcher) factory(name string) (Factory, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.factories[name]
	return f, ok
}

// Dispatch executes the request body for sess and returns the response
// envelope. Without a session the response only carries a request-wide
// error. lang picks the language of client-visible strings.
func (d *Dispatcher) Dispatch(ctx context.Context, sess mapi.Session, body []byte, lang string) ([]byte, error) {
	req, err := envelope.Decode(body)
	if err != nil {
		return nil, err
	}

	tr := i18n.New(lang)
	bus := envelope.NewBuilder()
	if sess == nil {
		msg := tr.T(i18n.AccessDenied)
		bus.SetError(ErrorData{
			Type: ErrorTypeMAPI,
			Info: ErrorInfo{
				HResult:         mapi.CodeNoAccess,
				Title:           tr.T(i18n.ErrorTitle),
				DisplayMessage:  msg,
				OriginalMessage: "no session",
			},
		})
		return bus.Bytes()
	}

	for _, m := range req.Modules {
		f, ok := d.factory(m.Name)
		if !ok {
			appLog.Warn("module: unknown module", "module", m.Name, "id", m.ID)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bus.AddModule(m.Name, m.ID)
		f(&Base{
			Name:     m.Name,
			ID:       m.ID,
			Actions:  m.Actions,
			Session:  sess,
			Bus:      bus,
			T:        tr,
			Settings: d.settings,
		}).Execute(ctx)
	}
	return bus.Bytes()
}
