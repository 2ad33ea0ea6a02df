package form

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoski/entityscope/internal/editor"
	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/notice"
	"github.com/mkoski/entityscope/internal/pretty"
	"github.com/mkoski/entityscope/internal/store"
)

type team struct {
	ID   string
	Name string
}

type player struct {
	ID         string
	Name       string `db:"full_name" validate:"required"`
	Number     int
	Team       *team
	Agent      *team `admin:"mapsid"`
	Card       *team `admin:"o2o"`
	Squad      []*player
	LastUpdate time.Time
}

type fixture struct {
	reg     *metamodel.Registry
	mem     *store.MemStore
	sess    store.Session
	notices *notice.Collector
	desc    *metamodel.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := metamodel.NewRegistry()
	reg.MustRegister(team{})
	desc := reg.MustRegister(player{})
	mem := store.NewMem(reg)
	sess, err := mem.OpenSession()
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return &fixture{reg: reg, mem: mem, sess: sess, notices: notice.NewCollector(), desc: desc}
}

func (fx *fixture) build(t *testing.T, p *player) *Form {
	t.Helper()
	f, err := Build(fx.desc, p, fx.sess, editor.NewResolver(), fx.notices, pretty.NewEncoder())
	require.NoError(t, err)
	return f
}

func TestBuild_BoundPropertiesInMetamodelOrder(t *testing.T) {
	fx := newFixture(t)
	f := fx.build(t, &player{Name: "Kaisa"})

	// Collections decline to render; everything else binds in order.
	assert.Equal(t, []string{"id", "full_name", "number", "team", "agent", "card", "lastUpdate"},
		f.BoundProperties())
	assert.Nil(t, f.Editor("squad"))
}

func TestBuild_FirstEditorFocused(t *testing.T) {
	fx := newFixture(t)
	f := fx.build(t, &player{})

	first, ok := f.Editor("id").(editor.Focusable)
	require.True(t, ok)
	assert.True(t, first.Focused())

	second, ok := f.Editor("full_name").(editor.Focusable)
	require.True(t, ok)
	assert.False(t, second.Focused())
}

func TestBuild_WidgetKinds(t *testing.T) {
	fx := newFixture(t)
	f := fx.build(t, &player{})

	assert.IsType(t, &editor.TextField{}, f.Editor("full_name"))
	assert.IsType(t, &editor.NumberField{}, f.Editor("number"))
	assert.IsType(t, &editor.TimeField{}, f.Editor("lastUpdate"))
	assert.IsType(t, &editor.PickerField{}, f.Editor("team"))
	assert.IsType(t, &editor.PickerField{}, f.Editor("agent"))
	assert.IsType(t, &editor.InlineSummaryField{}, f.Editor("card"))
}

func TestSetValue_UpdatesInstanceAndWidget(t *testing.T) {
	fx := newFixture(t)
	p := &player{Name: "Old"}
	f := fx.build(t, p)

	require.NoError(t, f.SetValue("full_name", "New"))
	assert.Equal(t, "New", p.Name)
	assert.Equal(t, "New", f.Editor("full_name").Value())
	assert.True(t, f.Dirty("full_name"))
	assert.False(t, f.Dirty("number"))
}

func TestSetValue_RejectsUnbound(t *testing.T) {
	fx := newFixture(t)
	f := fx.build(t, &player{})
	assert.Error(t, f.SetValue("squad", nil))
	assert.Error(t, f.SetValue("nosuch", 1))
}

func TestSetValue_RejectsReadOnlySharedKey(t *testing.T) {
	fx := newFixture(t)
	p := &player{}
	f := fx.build(t, p)

	err := f.SetValue("agent", &team{Name: "X"})
	require.Error(t, err)
	assert.Nil(t, p.Agent)
	assert.False(t, f.Dirty("agent"))
}

func TestSetValue_RejectsInlineSummary(t *testing.T) {
	fx := newFixture(t)
	p := &player{}
	f := fx.build(t, p)
	assert.Error(t, f.SetValue("card", &team{Name: "X"}))
	assert.Nil(t, p.Card)
}

func TestSave_CommitsAndMarksForm(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	p := &player{Name: "Mira"}
	f := fx.build(t, p)

	require.NoError(t, f.SetValue("number", 7))
	require.NoError(t, f.Save(ctx))
	assert.True(t, f.Saved())
	assert.False(t, f.Dirty("number"))
	assert.NotEmpty(t, p.ID, "save should stamp the identity")
	assert.Empty(t, fx.notices.Peek())

	// The committed row is queryable by a fresh session.
	other, err := fx.mem.OpenSession()
	require.NoError(t, err)
	defer other.Close()
	rows, err := other.Query(ctx, fx.desc, "number = 7", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Mira", rows[0].(*player).Name)
}

func TestSave_FailurePreservesEditsAndNotifies(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// A session that is already closed fails every transactional step.
	closed, err := fx.mem.OpenSession()
	require.NoError(t, err)
	require.NoError(t, closed.Close())

	p := &player{Name: "Nils"}
	f, err := Build(fx.desc, p, closed, editor.NewResolver(), fx.notices, pretty.NewEncoder())
	require.NoError(t, err)

	require.NoError(t, f.SetValue("full_name", "Edited"))
	err = f.Save(ctx)
	require.Error(t, err)
	assert.False(t, f.Saved())
	assert.True(t, f.Dirty("full_name"), "edits survive a failed save")
	assert.Equal(t, "Edited", p.Name)

	msgs := fx.notices.Drain()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "Error occured while saving:"), msgs[0])
}

func TestShowPropertyMetadata(t *testing.T) {
	fx := newFixture(t)
	f := fx.build(t, &player{})
	f.ShowPropertyMetadata()

	name, ok := f.Editor("full_name").(editor.HelpSettable)
	require.True(t, ok)
	help := name.Help()
	assert.Contains(t, help, "full_name string")
	assert.Contains(t, help, `db="full_name"`)
	assert.Contains(t, help, `validate="required"`)

	number, _ := f.Editor("number").(editor.HelpSettable)
	assert.Equal(t, "number int", number.Help(), "untagged fields show name and type only")
}

func TestParseTagPairs(t *testing.T) {
	pairs := parseTagPairs(`db:"col" admin:"enum=a|b"`)
	require.Len(t, pairs, 2)
	assert.Equal(t, tagPair{key: "db", value: "col"}, pairs[0])
	assert.Equal(t, tagPair{key: "admin", value: "enum=a|b"}, pairs[1])

	assert.Empty(t, parseTagPairs(""))
	assert.Empty(t, parseTagPairs("not a tag"))
}

func TestRenderTagValue_ListEncoding(t *testing.T) {
	fx := newFixture(t)
	f := fx.build(t, &player{})
	assert.Equal(t, `"plain"`, f.renderTagValue("plain"))
	assert.Equal(t, `["a","b"]`, f.renderTagValue("a|b"))
	assert.Equal(t, `["x","y","z"]`, f.renderTagValue("x,y,z"))
}
