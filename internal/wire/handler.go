package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/editor"
	"github.com/mkoski/entityscope/internal/filter"
	"github.com/mkoski/entityscope/internal/grid"
	"github.com/mkoski/entityscope/internal/handler"
	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/nav"
	"github.com/mkoski/entityscope/internal/pretty"
)

// Handler manages WebSocket connections for the interactive explorer.
type Handler struct {
	sessions *SessionManager
}

// NewHandler creates a WebSocket handler.
func NewHandler(sessions *SessionManager) *Handler {
	return &Handler{sessions: sessions}
}

// ServeHTTP upgrades to WebSocket and runs the message loop. Each
// connection gets its own session and view tree, torn down when the
// connection drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Warn().Err(err).Msg("wire: websocket accept")
		return
	}
	defer conn.CloseNow()

	sess := h.sessions.Create()
	defer h.sessions.Remove(sess.ID)
	ctx := r.Context()

	h.send(ctx, conn, ServerMessage{
		Type: "session",
		Data: SessionData{
			SessionID: sess.ID,
			Title:     sess.Orchestrator.Title(),
			Entities:  sess.Orchestrator.EntityNames(),
			About:     handler.AboutText,
		},
	})

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Debug().Int("status", int(websocket.CloseStatus(err))).Msg("wire: connection closed")
			}
			return
		}
		sess.Touch()

		switch msg.Type {
		case "navigate":
			h.handleNavigate(ctx, conn, sess, msg)
		case "page":
			h.handlePage(ctx, conn, sess, msg)
		case "filter":
			h.handleFilter(ctx, conn, sess, msg)
		case "columns":
			h.handleColumns(ctx, conn, sess, msg)
		case "new":
			h.handleNew(ctx, conn, sess, msg)
		case "edit":
			h.handleEdit(ctx, conn, sess, msg)
		case "set":
			h.handleSet(ctx, conn, sess, msg)
		case "save":
			h.handleSave(ctx, conn, sess, msg)
		case "back":
			sess.Orchestrator.Back(ctx)
			h.pushView(ctx, conn, sess, msg.ID)
		case "templates":
			h.handleTemplates(ctx, conn, sess, msg)
		case "materialize":
			h.handleMaterialize(ctx, conn, sess, msg)
		case "picker_open":
			h.handlePickerOpen(ctx, conn, sess, msg)
		case "picker_select":
			h.handlePickerSelect(ctx, conn, sess, msg)
		case "ping":
			h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

func (h *Handler) handleNavigate(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data NavigateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid navigate data")
		return
	}
	if err := sess.Orchestrator.Navigate(ctx, data.Path); err != nil {
		h.sendError(ctx, conn, msg.ID, "navigate_error", err.Error())
		h.flushNotices(ctx, conn, sess, msg.ID)
		return
	}
	h.pushView(ctx, conn, sess, msg.ID)
}

func (h *Handler) handlePage(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data PageData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid page data")
		return
	}
	cur := sess.Orchestrator.Current()
	if cur == nil || cur.List == nil {
		h.sendError(ctx, conn, msg.ID, "no_listing", "no listing open")
		return
	}
	if data.Limit <= 0 {
		data.Limit = grid.DefaultPageSize
	}
	if err := cur.List.Fetch(ctx, data.Offset, data.Limit); err != nil {
		h.sendError(ctx, conn, msg.ID, "fetch_error", err.Error())
		return
	}
	h.pushView(ctx, conn, sess, msg.ID)
}

func (h *Handler) handleFilter(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data FilterData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid filter data")
		return
	}
	cur := sess.Orchestrator.Current()
	if cur == nil || cur.List == nil {
		h.sendError(ctx, conn, msg.ID, "no_listing", "no listing open")
		return
	}
	// A bad predicate is not fatal: the listing reports it through a
	// notice and keeps its previous rows.
	if err := cur.List.Filter(ctx, data.Predicate); err != nil {
		h.flushNotices(ctx, conn, sess, msg.ID)
	}
	h.pushView(ctx, conn, sess, msg.ID)
}

func (h *Handler) handleColumns(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data ColumnsData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid columns data")
		return
	}
	cur := sess.Orchestrator.Current()
	if cur == nil || cur.List == nil {
		h.sendError(ctx, conn, msg.ID, "no_listing", "no listing open")
		return
	}
	if err := cur.List.SetColumnHidden(data.Key, data.Hidden); err != nil {
		h.sendError(ctx, conn, msg.ID, "unknown_column", err.Error())
		return
	}
	h.pushView(ctx, conn, sess, msg.ID)
}

func (h *Handler) handleNew(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	if err := sess.Orchestrator.NewEntity(ctx); err != nil {
		h.flushNotices(ctx, conn, sess, msg.ID)
		h.sendError(ctx, conn, msg.ID, "new_error", err.Error())
		return
	}
	h.pushView(ctx, conn, sess, msg.ID)
}

func (h *Handler) handleEdit(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data EditData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid edit data")
		return
	}
	cur := sess.Orchestrator.Current()
	if cur == nil || cur.List == nil {
		h.sendError(ctx, conn, msg.ID, "no_listing", "no listing open")
		return
	}
	row := findRow(cur.Desc, cur.List.Rows(), data.RowID)
	if row == nil {
		h.sendError(ctx, conn, msg.ID, "no_row", "no listed row with id "+data.RowID)
		return
	}
	if err := sess.Orchestrator.EditRow(ctx, row); err != nil {
		h.sendError(ctx, conn, msg.ID, "edit_error", err.Error())
		return
	}
	h.pushView(ctx, conn, sess, msg.ID)
}

func (h *Handler) handleSet(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data SetData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid set data")
		return
	}
	cur := sess.Orchestrator.Current()
	if cur == nil || cur.Form == nil {
		h.sendError(ctx, conn, msg.ID, "no_editor", "no editor open")
		return
	}
	a, err := cur.Desc.Attribute(data.Property)
	if err != nil {
		h.sendError(ctx, conn, msg.ID, "unknown_property", err.Error())
		return
	}
	v, err := coerceScalar(a, data.Value)
	if err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_value", err.Error())
		return
	}
	if err := cur.Form.SetValue(data.Property, v); err != nil {
		h.sendError(ctx, conn, msg.ID, "set_error", err.Error())
		return
	}
	h.pushView(ctx, conn, sess, msg.ID)
}

func (h *Handler) handleSave(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	if err := sess.Orchestrator.Save(ctx); err != nil {
		h.flushNotices(ctx, conn, sess, msg.ID)
		h.sendError(ctx, conn, msg.ID, "save_error", err.Error())
		return
	}
	h.pushView(ctx, conn, sess, msg.ID)
}

func (h *Handler) handleTemplates(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	cur := sess.Orchestrator.Current()
	if cur == nil || cur.Desc == nil {
		h.sendError(ctx, conn, msg.ID, "no_listing", "no listing open")
		return
	}
	tmpls := filter.TemplatesFor(cur.Desc)
	payload := make([]TemplateData, 0, len(tmpls))
	for _, t := range tmpls {
		payload = append(payload, TemplateData{Attribute: t.Attribute, Comparator: t.Comparator.String()})
	}
	h.send(ctx, conn, ServerMessage{Type: "templates", RequestID: msg.ID, Data: payload})
}

func (h *Handler) handleMaterialize(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data MaterializeData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid materialize data")
		return
	}
	cmp, ok := filter.ParseComparator(data.Comparator)
	if !ok {
		h.sendError(ctx, conn, msg.ID, "invalid_comparator", "unknown comparator: "+data.Comparator)
		return
	}
	text, start, end := filter.Materialize(data.Current, data.Attribute, cmp)
	h.send(ctx, conn, ServerMessage{
		Type:      "materialized",
		RequestID: msg.ID,
		Data:      MaterializedData{Text: text, SelectionStart: start, SelectionEnd: end},
	})
}

func (h *Handler) handlePickerOpen(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data PickerData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid picker data")
		return
	}
	list, err := sess.Orchestrator.OpenPicker(ctx, data.Property)
	if err != nil {
		h.sendError(ctx, conn, msg.ID, "picker_error", err.Error())
		return
	}
	h.send(ctx, conn, ServerMessage{
		Type:      "picker",
		RequestID: msg.ID,
		Data: PickerViewData{
			Property: data.Property,
			Entity:   list.Descriptor().Name,
			Columns:  renderColumns(list),
			Rows:     renderRows(list),
		},
	})
}

func (h *Handler) handlePickerSelect(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	var data EditData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid picker selection")
		return
	}
	list, err := sess.Orchestrator.OpenPicker(ctx, data.Property)
	if err != nil {
		h.sendError(ctx, conn, msg.ID, "picker_error", err.Error())
		return
	}
	chosen := findRow(list.Descriptor(), list.Rows(), data.RowID)
	if chosen == nil {
		h.sendError(ctx, conn, msg.ID, "no_row", "no candidate with id "+data.RowID)
		return
	}
	if err := sess.Orchestrator.PickerSelect(data.Property, chosen); err != nil {
		h.sendError(ctx, conn, msg.ID, "picker_error", err.Error())
		return
	}
	h.pushView(ctx, conn, sess, msg.ID)
}

// pushView sends the full snapshot of the active view plus any pending
// notices.
func (h *Handler) pushView(ctx context.Context, conn *websocket.Conn, sess *Session, requestID string) {
	h.flushNotices(ctx, conn, sess, requestID)
	h.send(ctx, conn, ServerMessage{
		Type:      "view",
		RequestID: requestID,
		Data:      renderView(sess.Orchestrator),
	})
}

func (h *Handler) flushNotices(ctx context.Context, conn *websocket.Conn, sess *Session, requestID string) {
	msgs := sess.Notices.Drain()
	if len(msgs) == 0 {
		return
	}
	h.send(ctx, conn, ServerMessage{Type: "notice", RequestID: requestID, Data: NoticeData{Messages: msgs}})
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, msg); err != nil {
		log.Warn().Err(err).Msg("wire: write")
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	h.send(ctx, conn, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data:      ErrorData{Code: code, Message: message},
	})
}

// renderView snapshots the orchestrator's active view.
func renderView(o *nav.Orchestrator) ViewData {
	v := ViewData{State: o.State().String(), Title: o.Title()}
	cur := o.Current()
	if cur == nil {
		return v
	}
	if cur.Desc != nil {
		v.Entity = cur.Desc.Name
	}
	if cur.List != nil {
		v.Columns = renderColumns(cur.List)
		v.Rows = renderRows(cur.List)
		v.Filter = cur.List.FilterText()
	}
	if cur.Form != nil {
		v.Editors = renderEditors(cur)
	}
	return v
}

func renderColumns(l *grid.List) []ColumnData {
	cols := l.Columns()
	out := make([]ColumnData, 0, len(cols))
	for _, c := range cols {
		out = append(out, ColumnData{Key: c.Key, Header: c.Header, Subtitle: c.Subtitle, Hidden: c.Hidden})
	}
	return out
}

func renderRows(l *grid.List) []RowData {
	desc := l.Descriptor()
	cols := l.Columns()
	rows := l.Rows()
	out := make([]RowData, 0, len(rows))
	for _, row := range rows {
		rd := RowData{ID: rowID(desc, row), Cells: make(map[string]string, len(cols))}
		for _, c := range cols {
			rd.Cells[c.Key] = l.CellText(row, c)
		}
		out = append(out, rd)
	}
	return out
}

func renderEditors(cur *nav.View) []EditorData {
	props := cur.Form.BoundProperties()
	out := make([]EditorData, 0, len(props))
	for _, name := range props {
		w := cur.Form.Editor(name)
		ed := EditorData{Property: name, Widget: widgetName(w)}
		if ro, ok := w.(editor.ReadOnlySettable); ok {
			ed.ReadOnly = ro.ReadOnly()
		}
		if hs, ok := w.(editor.HelpSettable); ok {
			ed.Help = hs.Help()
		}
		switch f := w.(type) {
		case *editor.PickerField:
			ed.Value = f.Summary()
		case *editor.InlineSummaryField:
			ed.Value = f.Summary()
			ed.ReadOnly = true
		case *editor.EnumSelect:
			ed.Options = f.Options
			ed.Value = pretty.OneLiner(w.Value(), 0)
		default:
			ed.Value = pretty.OneLiner(w.Value(), 0)
		}
		out = append(out, ed)
	}
	return out
}

func widgetName(w editor.Widget) string {
	switch w.(type) {
	case *editor.TextField:
		return "text"
	case *editor.NumberField:
		return "number"
	case *editor.BoolField:
		return "bool"
	case *editor.TimeField:
		return "time"
	case *editor.EnumSelect:
		return "select"
	case *editor.PickerField:
		return "picker"
	case *editor.InlineSummaryField:
		return "inline"
	default:
		return "custom"
	}
}

// rowID renders a row's identity attribute as text.
func rowID(desc *metamodel.Entity, row any) string {
	idAttr := desc.ID()
	if idAttr == nil {
		return ""
	}
	v, err := desc.Get(row, idAttr)
	if err != nil || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// findRow locates an in-memory row of a listing window by identity text.
func findRow(desc *metamodel.Entity, rows []any, id string) any {
	for _, row := range rows {
		if rowID(desc, row) == id {
			return row
		}
	}
	return nil
}

// coerceScalar converts a decoded JSON value into the attribute's Go
// type. Associations are set through the picker, never here.
func coerceScalar(a *metamodel.Attribute, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if a.IsAssociation() {
		return nil, fmt.Errorf("property %q is set through the picker", a.Name)
	}
	switch a.Type {
	case metamodel.TypeString, metamodel.TypeEnum, metamodel.TypeUUID:
		return fmt.Sprintf("%v", raw), nil
	case metamodel.TypeInt:
		if f, ok := raw.(float64); ok {
			return int(f), nil
		}
	case metamodel.TypeInt64:
		if f, ok := raw.(float64); ok {
			return int64(f), nil
		}
	case metamodel.TypeFloat:
		if f, ok := raw.(float64); ok {
			return f, nil
		}
	case metamodel.TypeBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case metamodel.TypeTime:
		if s, ok := raw.(string); ok {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", raw, a.Type)
}
