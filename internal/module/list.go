package module

import (
	"context"

	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
)

const defaultPageSize = 50

// ActionFunc handles one decoded action.
type ActionFunc func(ctx context.Context, actionType string, a *ListAction) error

// ListModule lists and searches folder contents.
type ListModule struct {
	*Base
	// Properties are the columns read from the contents table; nil reads all.
	Properties []string
	// DefaultSort applies when the action has no sort member.
	DefaultSort []mapi.SortOrder
}

func NewListModule(base *Base, props []string, sort []mapi.SortOrder) *ListModule {
	return &ListModule{Base: base, Properties: props, DefaultSort: sort}
}

func (m *ListModule) Execute(ctx context.Context) {
	m.Run(ctx, m.HandleAction)
}

// Run decodes every action and passes it to handle. A failing action is
// reported in the response and does not stop the remaining ones.
func (m *ListModule) Run(ctx context.Context, handle ActionFunc) {
	for _, act := range m.Actions {
		var a ListAction
		if err := act.Decode(&a); err != nil {
			m.ProcessException(mapi.NewError(mapi.ErrInvalidParameter, "malformed action data: "+err.Error()), act.Type, false)
			continue
		}
		if err := handle(ctx, act.Type, &a); err != nil {
			m.ProcessException(err, act.Type, a.SuppressException)
		}
	}
}

// HandleAction implements the list module actions.
func (m *ListModule) HandleAction(ctx context.Context, actionType string, a *ListAction) error {
	switch actionType {
	case "list":
		return m.MessageList(ctx, actionType, a)
	case "search", "updatesearch":
		return m.Search(ctx, actionType, a)
	case "stopsearch":
		m.AddActionData(actionType, map[string]bool{"success": true})
		return nil
	default:
		m.HandleUnknownActionType(actionType)
		return nil
	}
}

// MessageList returns one page of every target folder, merged, with the
// summed folder counters. Private rows the user may not read are removed.
func (m *ListModule) MessageList(ctx context.Context, actionType string, a *ListAction) error {
	targets, err := m.ActionTargets(ctx, a)
	if err != nil {
		return err
	}
	isSearchFolder := a.SearchFolderEntryID != ""
	if isSearchFolder {
		id, err := mapi.ParseEntryID(a.SearchFolderEntryID)
		if err != nil {
			return mapi.NewError(mapi.ErrInvalidParameter, "bad search folder entryid: "+err.Error())
		}
		targets = []Target{{Store: targets[0].Store, Folder: id}}
	}

	limit := a.Restriction.Limit
	if limit <= 0 {
		limit = m.Settings.PageSize
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := mapi.Query{
		Props:       m.Properties,
		Restriction: searchRestriction(a.Restriction.Search),
		Sort:        a.SortOrder(m.DefaultSort),
		Start:       a.Restriction.Start,
		Limit:       limit,
	}

	data := ListData{Item: []Item{}}
	var folderInfo FolderInfo
	for _, t := range targets {
		folder, err := t.Store.OpenFolder(ctx, t.Folder)
		if err != nil {
			return err
		}
		table, err := folder.ContentsTable(ctx)
		if err != nil {
			return err
		}
		rows, total, err := table.QueryRows(ctx, q)
		if err != nil {
			return err
		}
		if total > limit {
			data.Page = &PageInfo{Start: q.Start, RowCount: len(rows), TotalRowCount: total}
		}
		data.Item = append(data.Item, Items(m.filterPrivateItems(t.Store, rows))...)

		if !isSearchFolder {
			fp, err := folder.Props(ctx)
			if err != nil {
				return err
			}
			folderInfo.ContentCount += fp.Int(mapi.PropContentCount)
			folderInfo.ContentUnread += fp.Int(mapi.PropContentUnread)
		}
	}
	if !isSearchFolder {
		data.Folder = &folderInfo
	}

	appLog.Debug("module: list", "module", m.Name, "folders", len(targets), "items", len(data.Item))
	m.AddActionData(actionType, data)
	return nil
}

func (m *ListModule) filterPrivateItems(store mapi.Store, rows []mapi.Props) []mapi.Props {
	out := rows[:0:0]
	for _, r := range rows {
		if m.CheckPrivateItem(store, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SearchMeta describes a finished search.
type SearchMeta struct {
	Results     int    `json:"results"`
	SearchState string `json:"searchstate"`
}

// SearchData is the payload of search and updatesearch responses.
type SearchData struct {
	Item       []Item     `json:"item"`
	SearchMeta SearchMeta `json:"search_meta"`
}

// Search runs restriction.search over the target folders. Searches run to
// completion within the request, so updatesearch simply runs it again.
func (m *ListModule) Search(ctx context.Context, actionType string, a *ListAction) error {
	if a.Restriction.Search == "" {
		return mapi.NewError(mapi.ErrInvalidParameter, "search without search text")
	}
	targets, err := m.ActionTargets(ctx, a)
	if err != nil {
		return err
	}

	r := searchRestriction(a.Restriction.Search)
	sort := a.SortOrder(m.DefaultSort)
	var found []mapi.Props
	for _, t := range targets {
		folder, err := t.Store.OpenFolder(ctx, t.Folder)
		if err != nil {
			return err
		}
		table, err := folder.ContentsTable(ctx)
		if err != nil {
			return err
		}
		rows, _, err := table.QueryRows(ctx, mapi.Query{Props: m.Properties, Restriction: r, Sort: sort})
		if err != nil {
			return err
		}
		found = append(found, m.filterPrivateItems(t.Store, rows)...)
	}

	m.AddActionData(actionType, SearchData{
		Item:       Items(found),
		SearchMeta: SearchMeta{Results: len(found), SearchState: "finished"},
	})
	return nil
}

// searchRestriction matches text in subject, location or body.
func searchRestriction(text string) mapi.Restriction {
	if text == "" {
		return nil
	}
	var or mapi.Or
	for _, prop := range []string{mapi.PropSubject, mapi.PropLocation, mapi.PropBody} {
		or = append(or, mapi.Content{Prop: prop, Substring: text, IgnoreCase: true})
	}
	return or
}
