// Package handler exposes the explorer over HTTP. Every request runs
// against its own persistence session, closed when the request ends.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/editor"
	"github.com/mkoski/entityscope/internal/event"
	"github.com/mkoski/entityscope/internal/eventbus"
	"github.com/mkoski/entityscope/internal/filter"
	"github.com/mkoski/entityscope/internal/form"
	"github.com/mkoski/entityscope/internal/grid"
	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/metrics"
	"github.com/mkoski/entityscope/internal/notice"
	"github.com/mkoski/entityscope/internal/pretty"
	"github.com/mkoski/entityscope/internal/store"
)

// AboutText is shown on the catalog landing.
const AboutText = `Entity Explorer is a tiny generic admin UI for a mapped ` +
	`persistence layer: it lists all known entities and lets you browse and ` +
	`modify them during development and testing. Some entities may be ` +
	`read-only and inserting new ones may fail unless identity generation ` +
	`is in use. Not meant for unrestricted public exposure; scope access ` +
	`before deploying it anywhere that matters.`

// ExplorerHandler implements the HTTP surface of the explorer.
type ExplorerHandler struct {
	registry  *metamodel.Registry
	provider  store.Provider
	collector *metrics.Collector
	resolver  *editor.Resolver
	enc       *pretty.Encoder
	bus       *eventbus.Bus
}

// NewExplorerHandler creates the handler.
func NewExplorerHandler(reg *metamodel.Registry, provider store.Provider, collector *metrics.Collector) *ExplorerHandler {
	return &ExplorerHandler{
		registry:  reg,
		provider:  provider,
		collector: collector,
		resolver:  editor.NewResolver(),
		enc:       pretty.NewEncoder(),
	}
}

// WithBus attaches a bus that receives an event after every committed
// save or delete. Nil is accepted and disables publishing.
func (h *ExplorerHandler) WithBus(bus *eventbus.Bus) *ExplorerHandler {
	h.bus = bus
	return h
}

func (h *ExplorerHandler) publish(ctx context.Context, evt event.MutationEvent) {
	if h.bus != nil {
		h.bus.Publish(ctx, evt)
	}
}

// Catalog handles GET /: the entity catalog landing with the side
// navigation entries, sorted alphabetically.
func (h *ExplorerHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"title":    "Entity Explorer",
		"about":    AboutText,
		"entities": h.registry.EntityNames(),
	})
}

type columnPayload struct {
	Key      string `json:"key"`
	Header   string `json:"header"`
	Subtitle string `json:"subtitle"`
	Hidden   bool   `json:"hidden"`
}

type rowPayload struct {
	ID    any               `json:"id,omitempty"`
	Cells map[string]string `json:"cells"`
}

// List handles GET /{entity}: one offset/limit window of the listing,
// optionally scoped by a trusted filter fragment.
func (h *ExplorerHandler) List(w http.ResponseWriter, r *http.Request) {
	desc, ok := h.resolveEntity(w, r)
	if !ok {
		return
	}
	sess, ok := h.openSession(w)
	if !ok {
		return
	}
	defer h.closeSession(sess)

	notices := notice.NewCollector()
	l := grid.Build(desc, sess, notices)
	p := parsePagination(r)

	if frag := r.URL.Query().Get("filter"); frag != "" {
		if err := l.Filter(r.Context(), frag); err != nil {
			h.collector.FilterError(desc.Name)
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"code":    "FILTER_SYNTAX",
				"notices": notices.Drain(),
			})
			return
		}
	}
	if err := l.Fetch(r.Context(), p.Offset, p.Limit); err != nil {
		engineErrorToHTTP(w, err)
		return
	}
	h.collector.PageFetch(desc.Name)

	cols := l.Columns()
	colPayload := make([]columnPayload, 0, len(cols))
	for _, c := range cols {
		colPayload = append(colPayload, columnPayload{
			Key: c.Key, Header: c.Header, Subtitle: c.Subtitle, Hidden: c.Hidden,
		})
	}
	rows := make([]rowPayload, 0, len(l.Rows()))
	for _, row := range l.Rows() {
		rp := rowPayload{Cells: make(map[string]string, len(cols))}
		if idAttr := desc.ID(); idAttr != nil {
			if id, err := desc.Get(row, idAttr); err == nil {
				rp.ID = id
			}
		}
		for _, c := range cols {
			rp.Cells[c.Key] = l.CellText(row, c)
		}
		rows = append(rows, rp)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity":  desc.Name,
		"columns": colPayload,
		"rows":    rows,
		"offset":  p.Offset,
		"limit":   p.Limit,
		"more":    len(rows) == p.Limit,
		"filter":  l.FilterText(),
	})
}

// Inspect handles GET /{entity}/{id}: the read-only detail popover.
func (h *ExplorerHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	desc, ok := h.resolveEntity(w, r)
	if !ok {
		return
	}
	sess, ok := h.openSession(w)
	if !ok {
		return
	}
	defer h.closeSession(sess)

	row, err := h.fetchByID(r.Context(), sess, desc, chi.URLParam(r, "id"))
	if err != nil {
		engineErrorToHTTP(w, err)
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such row")
		return
	}
	detail := make(map[string]string)
	for _, a := range desc.Attributes() {
		v, err := desc.Get(row, a)
		if err != nil {
			detail[a.Name] = pretty.Placeholder
			continue
		}
		if a.IsAssociation() {
			detail[a.Name] = pretty.Association(v, 100)
		} else {
			detail[a.Name] = pretty.OneLiner(v, 0)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity": desc.Name,
		"detail": detail,
	})
}

type mutateRequest struct {
	Values map[string]any `json:"values"`
}

// Create handles POST /{entity}: default-constructs an instance, binds
// the submitted values through a generated form and saves it.
func (h *ExplorerHandler) Create(w http.ResponseWriter, r *http.Request) {
	desc, ok := h.resolveEntity(w, r)
	if !ok {
		return
	}
	instance, err := desc.New()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "CONSTRUCTION_FAILURE",
			"Failed to create new entity: "+err.Error())
		return
	}
	h.edit(w, r, desc, instance, http.StatusCreated)
}

// Update handles PUT /{entity}/{id}: loads the row and applies the
// submitted values through a generated form.
func (h *ExplorerHandler) Update(w http.ResponseWriter, r *http.Request) {
	desc, ok := h.resolveEntity(w, r)
	if !ok {
		return
	}
	sess, ok := h.openSession(w)
	if !ok {
		return
	}
	defer h.closeSession(sess)

	instance, err := h.fetchByID(r.Context(), sess, desc, chi.URLParam(r, "id"))
	if err != nil {
		engineErrorToHTTP(w, err)
		return
	}
	if instance == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such row")
		return
	}
	h.editWithSession(w, r, desc, instance, sess, http.StatusOK)
}

func (h *ExplorerHandler) edit(w http.ResponseWriter, r *http.Request, desc *metamodel.Entity, instance any, okStatus int) {
	sess, ok := h.openSession(w)
	if !ok {
		return
	}
	defer h.closeSession(sess)
	h.editWithSession(w, r, desc, instance, sess, okStatus)
}

func (h *ExplorerHandler) editWithSession(w http.ResponseWriter, r *http.Request, desc *metamodel.Entity, instance any, sess store.Session, okStatus int) {
	var req mutateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	notices := notice.NewCollector()
	f, err := form.Build(desc, instance, sess, h.resolver, notices, h.enc)
	if err != nil {
		engineErrorToHTTP(w, err)
		return
	}
	for name, raw := range req.Values {
		a, err := desc.Attribute(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, "UNKNOWN_PROPERTY", err.Error())
			return
		}
		v, err := h.coerceValue(r.Context(), sess, a, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_VALUE",
				fmt.Sprintf("property %q: %v", name, err))
			return
		}
		if err := f.SetValue(name, v); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_VALUE", err.Error())
			return
		}
	}
	if err := f.Save(r.Context()); err != nil {
		h.collector.Rollback(desc.Name)
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":    "TRANSACTION_FAILURE",
			"notices": notices.Drain(),
		})
		return
	}
	h.collector.Save(desc.Name)
	resp := map[string]any{"entity": desc.Name, "bound": f.BoundProperties()}
	rowID := ""
	if idAttr := desc.ID(); idAttr != nil {
		if id, err := desc.Get(instance, idAttr); err == nil {
			resp["id"] = id
			rowID = fmt.Sprintf("%v", id)
		}
	}
	h.publish(r.Context(), event.NewEntitySaved(desc.Name, rowID, pretty.OneLiner(instance, 100)))
	writeJSON(w, okStatus, resp)
}

// Delete handles DELETE /{entity}/{id}: the transactional remove with
// re-query semantics. A constraint failure keeps the row and returns
// the rollback notice.
func (h *ExplorerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	desc, ok := h.resolveEntity(w, r)
	if !ok {
		return
	}
	sess, ok := h.openSession(w)
	if !ok {
		return
	}
	defer h.closeSession(sess)

	row, err := h.fetchByID(r.Context(), sess, desc, chi.URLParam(r, "id"))
	if err != nil {
		engineErrorToHTTP(w, err)
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such row")
		return
	}
	notices := notice.NewCollector()
	l := grid.Build(desc, sess, notices)
	if err := l.Delete(r.Context(), row); err != nil {
		h.collector.Rollback(desc.Name)
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":    "TRANSACTION_FAILURE",
			"notices": notices.Drain(),
		})
		return
	}
	h.collector.Delete(desc.Name)
	h.publish(r.Context(), event.NewEntityDeleted(desc.Name, chi.URLParam(r, "id")))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// FilterTemplates handles GET /{entity}/filter-templates.
func (h *ExplorerHandler) FilterTemplates(w http.ResponseWriter, r *http.Request) {
	desc, ok := h.resolveEntity(w, r)
	if !ok {
		return
	}
	tmpls := filter.TemplatesFor(desc)
	payload := make([]map[string]string, 0, len(tmpls))
	for _, t := range tmpls {
		payload = append(payload, map[string]string{
			"attribute":  t.Attribute,
			"comparator": t.Comparator.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity":    desc.Name,
		"templates": payload,
	})
}

type materializeRequest struct {
	Current    string `json:"current"`
	Attribute  string `json:"attribute"`
	Comparator string `json:"comparator"`
}

// Materialize handles POST /{entity}/filter-templates/materialize:
// appends the chosen clause and returns the placeholder span for the
// client to pre-select.
func (h *ExplorerHandler) Materialize(w http.ResponseWriter, r *http.Request) {
	desc, ok := h.resolveEntity(w, r)
	if !ok {
		return
	}
	var req materializeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if _, err := desc.Attribute(req.Attribute); err != nil {
		engineErrorToHTTP(w, err)
		return
	}
	cmp, ok2 := filter.ParseComparator(req.Comparator)
	if !ok2 {
		writeError(w, http.StatusBadRequest, "INVALID_COMPARATOR", "unknown comparator: "+req.Comparator)
		return
	}
	text, start, end := filter.Materialize(req.Current, req.Attribute, cmp)
	writeJSON(w, http.StatusOK, map[string]any{
		"text":           text,
		"selectionStart": start,
		"selectionEnd":   end,
	})
}

func (h *ExplorerHandler) resolveEntity(w http.ResponseWriter, r *http.Request) (*metamodel.Entity, bool) {
	name := chi.URLParam(r, "entity")
	desc, err := h.registry.Entity(name)
	if err != nil {
		engineErrorToHTTP(w, err)
		return nil, false
	}
	return desc, true
}

func (h *ExplorerHandler) openSession(w http.ResponseWriter) (store.Session, bool) {
	sess, err := h.provider.OpenSession()
	if err != nil {
		engineErrorToHTTP(w, err)
		return nil, false
	}
	return sess, true
}

func (h *ExplorerHandler) closeSession(sess store.Session) {
	if err := sess.Close(); err != nil {
		log.Warn().Err(err).Msg("handler: closing request session")
	}
}

// fetchByID loads one instance through an identity-scoped fragment.
// Returns nil without error when the row does not exist.
func (h *ExplorerHandler) fetchByID(ctx context.Context, sess store.Session, desc *metamodel.Entity, idText string) (any, error) {
	idAttr := desc.ID()
	if idAttr == nil {
		return nil, fmt.Errorf("entity %q has no identity attribute", desc.Name)
	}
	frag, err := idFragment(idAttr, idText)
	if err != nil {
		return nil, err
	}
	rows, err := sess.Query(ctx, desc, frag, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// idFragment builds the identity predicate, quoting textual ids.
func idFragment(idAttr *metamodel.Attribute, idText string) (string, error) {
	switch idAttr.Type {
	case metamodel.TypeString, metamodel.TypeUUID, metamodel.TypeEnum:
		if strings.ContainsRune(idText, '\'') {
			return "", fmt.Errorf("invalid id %q", idText)
		}
		return fmt.Sprintf("%s = '%s'", idAttr.Column, idText), nil
	default:
		if _, err := fmt.Sscanf(idText, "%d", new(int64)); err != nil {
			return "", fmt.Errorf("invalid id %q", idText)
		}
		return fmt.Sprintf("%s = %s", idAttr.Column, idText), nil
	}
}

// coerceValue converts a decoded JSON value to the attribute's Go
// type. Association values are supplied as the related row's identity.
func (h *ExplorerHandler) coerceValue(ctx context.Context, sess store.Session, a *metamodel.Attribute, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if a.IsAssociation() {
		target, err := h.registry.Target(a)
		if err != nil {
			return nil, err
		}
		idText := fmt.Sprintf("%v", raw)
		if m, ok := raw.(map[string]any); ok {
			idText = fmt.Sprintf("%v", m["id"])
		}
		related, err := h.fetchByID(ctx, sess, target, idText)
		if err != nil {
			return nil, err
		}
		if related == nil {
			return nil, fmt.Errorf("no %s with id %q", target.Name, idText)
		}
		return related, nil
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
