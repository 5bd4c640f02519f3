package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"groupcal/internal/module"
	"groupcal/internal/router"
)

// Item is a row of a list response.
type Item struct {
	EntryID       string         `json:"entryid"`
	StoreEntryID  string         `json:"store_entryid"`
	ParentEntryID string         `json:"parent_entryid"`
	Props         map[string]any `json:"props"`
}

// Time reads a unix-seconds property.
func (i Item) Time(name string) (time.Time, bool) {
	n, ok := i.Props[name].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0).UTC(), true
}

// String reads a string property.
func (i Item) String(name string) string {
	s, _ := i.Props[name].(string)
	return s
}

type listPayload struct {
	Item   []Item             `json:"item"`
	Page   *module.PageInfo   `json:"page"`
	Folder *module.FolderInfo `json:"folder"`
}

// ListHandler collects the items of a list or search response.
type ListHandler struct {
	router.BaseHandler

	Items  []Item
	Page   *module.PageInfo
	Folder *module.FolderInfo
	// ServerError is set when the server answered with an error action.
	ServerError *module.ErrorData

	finished bool
	success  bool
	failure  error
}

func NewListHandler() *ListHandler {
	return &ListHandler{}
}

func (h *ListHandler) Handle(actionType string, data json.RawMessage) bool {
	switch actionType {
	case "list", "search", "updatesearch":
		var p listPayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.failure = fmt.Errorf("decode %s: %w", actionType, err)
			return false
		}
		h.Items = append(h.Items, p.Item...)
		if p.Page != nil {
			h.Page = p.Page
		}
		if p.Folder != nil {
			h.Folder = p.Folder
		}
		return true
	case "error":
		var e module.ErrorData
		if err := json.Unmarshal(data, &e); err != nil {
			h.failure = fmt.Errorf("decode error: %w", err)
			return false
		}
		h.ServerError = &e
		return false
	default:
		return true
	}
}

func (h *ListHandler) Done(success bool) {
	h.finished = true
	h.success = success
}

func (h *ListHandler) ResponseFailure(err error) {
	h.failure = err
}

var ErrNoResponse = errors.New("client: no response for list")

// Err returns why the list did not complete, or nil.
func (h *ListHandler) Err() error {
	switch {
	case h.failure != nil:
		return h.failure
	case h.ServerError != nil:
		return fmt.Errorf("server error 0x%08X: %s", h.ServerError.Info.HResult, h.ServerError.Info.DisplayMessage)
	case !h.finished:
		return ErrNoResponse
	case !h.success:
		return errors.New("client: list failed")
	default:
		return nil
	}
}
