package module

import (
	"encoding/json"
	"strings"
	"time"

	"groupcal/internal/mapi"
)

// StringList accepts either a JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = StringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// ListRestriction is the restriction member of list/search actions.
// StartDate and DueDate are unix seconds; both set selects windowed mode.
type ListRestriction struct {
	StartDate *int64 `json:"startdate,omitempty"`
	DueDate   *int64 `json:"duedate,omitempty"`
	Start     int    `json:"start,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Search    string `json:"search,omitempty"`
}

// SortField is one entry of the sort member.
type SortField struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// ListAction is the data of list, search, updatesearch and stopsearch.
type ListAction struct {
	StoreEntryID        StringList      `json:"store_entryid"`
	EntryID             StringList      `json:"entryid"`
	Restriction         ListRestriction `json:"restriction"`
	Sort                []SortField     `json:"sort,omitempty"`
	TimezoneIANA        string          `json:"timezone_iana,omitempty"`
	SuppressException   bool            `json:"suppress_exception,omitempty"`
	SearchFolderEntryID string          `json:"search_folder_entryid,omitempty"`
}

// Window returns the requested time window, if both bounds are set and
// non-zero.
func (a *ListAction) Window() (start, end time.Time, ok bool) {
	r := a.Restriction
	if r.StartDate == nil || r.DueDate == nil || *r.StartDate == 0 || *r.DueDate == 0 {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(*r.StartDate, 0).UTC(), time.Unix(*r.DueDate, 0).UTC(), true
}

// SortOrder converts the sort member, falling back to def when empty.
func (a *ListAction) SortOrder(def []mapi.SortOrder) []mapi.SortOrder {
	if len(a.Sort) == 0 {
		return def
	}
	out := make([]mapi.SortOrder, 0, len(a.Sort))
	for _, s := range a.Sort {
		if s.Field == "" {
			continue
		}
		out = append(out, mapi.SortOrder{
			Prop:       s.Field,
			Descending: strings.EqualFold(s.Direction, "DESC"),
		})
	}
	return out
}

// Item is one row as sent to the client.
type Item struct {
	Props mapi.Props
}

func (i Item) MarshalJSON() ([]byte, error) {
	hexOf := func(name string) string {
		if id, ok := i.Props.EntryID(name); ok {
			return id.Hex()
		}
		return ""
	}
	return json.Marshal(struct {
		EntryID       string         `json:"entryid"`
		StoreEntryID  string         `json:"store_entryid"`
		ParentEntryID string         `json:"parent_entryid"`
		Props         map[string]any `json:"props"`
	}{
		EntryID:       hexOf(mapi.PropEntryID),
		StoreEntryID:  hexOf(mapi.PropStoreEntryID),
		ParentEntryID: hexOf(mapi.PropParentEntryID),
		Props:         i.Props.Wire(),
	})
}

// Items wraps rows for the response.
func Items(rows []mapi.Props) []Item {
	out := make([]Item, len(rows))
	for i, r := range rows {
		out[i] = Item{Props: r}
	}
	return out
}

// ListData is the payload of a list response.
type ListData struct {
	Item   []Item      `json:"item"`
	Page   *PageInfo   `json:"page,omitempty"`
	Folder *FolderInfo `json:"folder,omitempty"`
}

// PageInfo is sent when the total row count exceeds the page.
type PageInfo struct {
	Start         int `json:"start"`
	RowCount      int `json:"rowcount"`
	TotalRowCount int `json:"totalrowcount"`
}

// FolderInfo carries the summed counters of the listed folders.
type FolderInfo struct {
	ContentCount  int64 `json:"content_count"`
	ContentUnread int64 `json:"content_unread"`
}
