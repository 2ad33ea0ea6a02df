// Package wire defines the WebSocket protocol for the interactive
// explorer: one connection drives one view tree, with a full view
// snapshot pushed after every action.
package wire

import "encoding/json"

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"` // "navigate", "page", "filter", "columns", "new", "edit", "set", "save", "back", "templates", "materialize", "picker_open", "picker_select", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// NavigateData is the payload for "navigate" messages.
type NavigateData struct {
	Path string `json:"path"`
}

// PageData is the payload for "page" messages.
type PageData struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// FilterData is the payload for "filter" messages.
type FilterData struct {
	Predicate string `json:"predicate"`
}

// ColumnsData is the payload for "columns" messages, toggling the
// visibility of one listing column.
type ColumnsData struct {
	Key    string `json:"key"`
	Hidden bool   `json:"hidden"`
}

// EditData is the payload for "edit" and "picker_select" messages,
// naming a row of the active listing or picker by its identity.
type EditData struct {
	RowID    string `json:"row_id"`
	Property string `json:"property,omitempty"`
}

// SetData is the payload for "set" messages.
type SetData struct {
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// MaterializeData is the payload for "materialize" messages.
type MaterializeData struct {
	Current    string `json:"current"`
	Attribute  string `json:"attribute"`
	Comparator string `json:"comparator"`
}

// PickerData is the payload for "picker_open" messages.
type PickerData struct {
	Property string `json:"property"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "session", "view", "picker", "templates", "materialized", "notice", "error", "pong"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// SessionData carries connection session information.
type SessionData struct {
	SessionID string   `json:"session_id"`
	Title     string   `json:"title"`
	Entities  []string `json:"entities"`
	About     string   `json:"about"`
}

// ColumnData describes one listing column.
type ColumnData struct {
	Key      string `json:"key"`
	Header   string `json:"header"`
	Subtitle string `json:"subtitle"`
	Hidden   bool   `json:"hidden"`
}

// RowData is one rendered listing row.
type RowData struct {
	ID    string            `json:"id"`
	Cells map[string]string `json:"cells"`
}

// EditorData describes one bound property editor of the active form.
type EditorData struct {
	Property string   `json:"property"`
	Widget   string   `json:"widget"`
	ReadOnly bool     `json:"read_only"`
	Value    string   `json:"value"`
	Options  []string `json:"options,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// ViewData is the full snapshot of the active view, pushed after every
// state-changing action.
type ViewData struct {
	State   string       `json:"state"` // "landing", "listing", "editing"
	Title   string       `json:"title"`
	Entity  string       `json:"entity,omitempty"`
	Columns []ColumnData `json:"columns,omitempty"`
	Rows    []RowData    `json:"rows,omitempty"`
	Filter  string       `json:"filter,omitempty"`
	Editors []EditorData `json:"editors,omitempty"`
}

// PickerViewData is the candidate listing for a to-one property.
type PickerViewData struct {
	Property string       `json:"property"`
	Entity   string       `json:"entity"`
	Columns  []ColumnData `json:"columns"`
	Rows     []RowData    `json:"rows"`
}

// TemplateData is one filter template entry.
type TemplateData struct {
	Attribute  string `json:"attribute"`
	Comparator string `json:"comparator"`
}

// MaterializedData carries the appended filter text and the placeholder
// span the client should pre-select.
type MaterializedData struct {
	Text           string `json:"text"`
	SelectionStart int    `json:"selection_start"`
	SelectionEnd   int    `json:"selection_end"`
}

// NoticeData carries transient user-facing notifications.
type NoticeData struct {
	Messages []string `json:"messages"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
