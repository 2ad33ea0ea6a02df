// Package nav orchestrates the view tree: the entity catalog landing,
// one listing per entity type and a stack of editors for drill-in
// editing. Each top-level view owns its own persistence session,
// created at view construction and released exactly once at teardown.
package nav

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/editor"
	"github.com/mkoski/entityscope/internal/form"
	"github.com/mkoski/entityscope/internal/grid"
	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/notice"
	"github.com/mkoski/entityscope/internal/pretty"
	"github.com/mkoski/entityscope/internal/store"
)

// StateKind names the orchestrator's states.
type StateKind int

const (
	Landing StateKind = iota
	Listing
	Editing
)

func (s StateKind) String() string {
	switch s {
	case Landing:
		return "landing"
	case Listing:
		return "listing"
	case Editing:
		return "editing"
	default:
		return "unknown"
	}
}

// View is one entry in the active view tree. Its session is a plain
// field owned by the view and closed exactly once on teardown.
type View struct {
	Kind StateKind
	Desc *metamodel.Entity
	List *grid.List
	Form *form.Form

	sess   store.Session
	closed bool
}

// teardown releases the view's session. Idempotent per view; the
// session itself rejects a second close.
func (v *View) teardown() {
	if v.closed {
		return
	}
	v.closed = true
	if v.sess == nil {
		return
	}
	if err := v.sess.Close(); err != nil {
		log.Warn().Err(err).Msg("nav: closing view session")
	}
}

// Orchestrator drives one user session's view tree. It reacts to one
// action at a time; all mutations complete before the triggering call
// returns.
type Orchestrator struct {
	registry *metamodel.Registry
	provider store.Provider
	notifier notice.Notifier
	resolver *editor.Resolver
	enc      *pretty.Encoder

	stack []*View
	title string
}

// New creates an orchestrator in the Landing state.
func New(reg *metamodel.Registry, provider store.Provider, notifier notice.Notifier) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		provider: provider,
		notifier: notifier,
		resolver: editor.NewResolver(),
		enc:      pretty.NewEncoder(),
		title:    "Entity Explorer",
	}
}

// WithResolver replaces the editor resolver for this rendering context.
func (o *Orchestrator) WithResolver(r *editor.Resolver) *Orchestrator {
	o.resolver = r
	return o
}

// State returns the current state kind.
func (o *Orchestrator) State() StateKind {
	if len(o.stack) == 0 {
		return Landing
	}
	return o.stack[len(o.stack)-1].Kind
}

// Current returns the active view, or nil on the landing state.
func (o *Orchestrator) Current() *View {
	if len(o.stack) == 0 {
		return nil
	}
	return o.stack[len(o.stack)-1]
}

// Title returns the shared view-title label.
func (o *Orchestrator) Title() string { return o.title }

// EntityNames returns the side-navigation entries: every known entity
// name, sorted alphabetically.
func (o *Orchestrator) EntityNames() []string {
	return o.registry.EntityNames()
}

// Navigate resolves a URL path to a view: the empty path is the catalog
// landing, a single segment is the listing for that entity name. An
// unknown name fails the navigation with the catalog's NotFound.
func (o *Orchestrator) Navigate(ctx context.Context, path string) error {
	path = strings.Trim(path, "/")
	if path == "" {
		o.Close()
		o.title = "Entity Explorer"
		return nil
	}
	return o.OpenList(ctx, path)
}

// OpenList shows the listing for the named entity. Re-entering the
// listing already on top for the same descriptor is a no-op.
func (o *Orchestrator) OpenList(ctx context.Context, name string) error {
	desc, err := o.registry.Entity(name)
	if err != nil {
		return err
	}
	if cur := o.Current(); cur != nil && cur.Kind == Listing && cur.Desc == desc {
		return nil
	}
	sess, err := o.provider.OpenSession()
	if err != nil {
		return err
	}
	list := grid.Build(desc, sess, o.notifier)
	if err := list.Fetch(ctx, 0, grid.DefaultPageSize); err != nil {
		if cerr := sess.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("nav: closing session after failed listing")
		}
		return err
	}
	o.Close()
	o.stack = []*View{{Kind: Listing, Desc: desc, List: list, sess: sess}}
	o.title = "Entity Explorer: " + desc.Name
	return nil
}

// EditRow opens the editor for a listed row's instance.
func (o *Orchestrator) EditRow(ctx context.Context, instance any) error {
	desc, err := o.registry.EntityOf(instance)
	if err != nil {
		return err
	}
	return o.pushEditor(ctx, desc, instance)
}

// NewEntity constructs a default instance of the listed entity and
// opens it in the editor. Construction failure is reported as a
// transient notice; the listing stays usable.
func (o *Orchestrator) NewEntity(ctx context.Context) error {
	cur := o.Current()
	if cur == nil || cur.Desc == nil {
		return fmt.Errorf("nav: no entity type selected")
	}
	instance, err := cur.Desc.New()
	if err != nil {
		o.notifier.Notify("Failed to create new entity: " + err.Error())
		return err
	}
	return o.pushEditor(ctx, cur.Desc, instance)
}

// DrillIn opens a nested editor for a related entity instance,
// returning to the current editor on its save or back.
func (o *Orchestrator) DrillIn(ctx context.Context, related any) error {
	if o.State() != Editing {
		return fmt.Errorf("nav: drill-in requires an open editor")
	}
	desc, err := o.registry.EntityOf(related)
	if err != nil {
		return err
	}
	return o.pushEditor(ctx, desc, related)
}

func (o *Orchestrator) pushEditor(ctx context.Context, desc *metamodel.Entity, instance any) error {
	sess, err := o.provider.OpenSession()
	if err != nil {
		return err
	}
	f, err := form.Build(desc, instance, sess, o.resolver, o.notifier, o.enc)
	if err != nil {
		if cerr := sess.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("nav: closing session after failed form build")
		}
		return err
	}
	o.stack = append(o.stack, &View{Kind: Editing, Desc: desc, Form: f, sess: sess})
	o.title = "Editing " + desc.Name
	return nil
}

// Save commits the top editor. On success the editor is torn down and
// control returns to the view below, re-querying a listing. On failure
// the editor stays as-is with its edits preserved.
func (o *Orchestrator) Save(ctx context.Context) error {
	cur := o.Current()
	if cur == nil || cur.Kind != Editing {
		return fmt.Errorf("nav: nothing to save")
	}
	if err := cur.Form.Save(ctx); err != nil {
		return err
	}
	o.pop(ctx)
	return nil
}

// Back abandons the top editor and returns to the view below.
func (o *Orchestrator) Back(ctx context.Context) {
	if o.State() != Editing {
		return
	}
	o.pop(ctx)
}

func (o *Orchestrator) pop(ctx context.Context) {
	cur := o.Current()
	cur.teardown()
	o.stack = o.stack[:len(o.stack)-1]
	next := o.Current()
	switch {
	case next == nil:
		o.title = "Entity Explorer"
	case next.Kind == Listing:
		o.title = "Entity Explorer: " + next.Desc.Name
		if err := next.List.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("nav: refresh after returning to listing")
		}
	case next.Kind == Editing:
		o.title = "Editing " + next.Desc.Name
	}
}

// OpenPicker builds the candidate list for a to-one attribute of the
// top editor: the related type's listing with the row-action column
// suppressed, sharing the editor's session.
func (o *Orchestrator) OpenPicker(ctx context.Context, property string) (*grid.List, error) {
	cur := o.Current()
	if cur == nil || cur.Kind != Editing {
		return nil, fmt.Errorf("nav: picker requires an open editor")
	}
	a, err := cur.Desc.Attribute(property)
	if err != nil {
		return nil, err
	}
	target, err := o.registry.Target(a)
	if err != nil {
		return nil, err
	}
	list := grid.Build(target, cur.sess, o.notifier)
	list.SuppressActions()
	if err := list.Fetch(ctx, 0, grid.DefaultPageSize); err != nil {
		return nil, err
	}
	return list, nil
}

// PickerSelect applies a picker selection: the chosen row becomes the
// in-memory value of the property and the picker closes. Nothing is
// persisted until the editor saves.
func (o *Orchestrator) PickerSelect(property string, chosen any) error {
	cur := o.Current()
	if cur == nil || cur.Kind != Editing {
		return fmt.Errorf("nav: picker requires an open editor")
	}
	return cur.Form.SetValue(property, chosen)
}

// Close tears down the whole view tree, releasing every view's session
// exactly once.
func (o *Orchestrator) Close() {
	for i := len(o.stack) - 1; i >= 0; i-- {
		o.stack[i].teardown()
	}
	o.stack = nil
}
