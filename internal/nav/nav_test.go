package nav

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/notice"
	"github.com/mkoski/entityscope/internal/store"
)

type label struct {
	ID   string
	Name string
}

type track struct {
	ID         string
	Title      string
	Seconds    int
	Label      *label
	LastUpdate time.Time
}

type navFixture struct {
	reg     *metamodel.Registry
	mem     *store.MemStore
	notices *notice.Collector
	orch    *Orchestrator
}

func newNavFixture(t *testing.T) *navFixture {
	t.Helper()
	reg := metamodel.NewRegistry()
	reg.MustRegister(label{})
	reg.MustRegister(track{})
	mem := store.NewMem(reg)
	notices := notice.NewCollector()
	fx := &navFixture{reg: reg, mem: mem, notices: notices, orch: New(reg, mem, notices)}
	t.Cleanup(fx.orch.Close)
	return fx
}

func (fx *navFixture) seed(t *testing.T, instances ...any) {
	t.Helper()
	sess, err := fx.mem.OpenSession()
	require.NoError(t, err)
	defer sess.Close()
	for _, in := range instances {
		_, err := sess.Merge(context.Background(), in)
		require.NoError(t, err)
	}
}

func TestOrchestrator_StartsOnLanding(t *testing.T) {
	fx := newNavFixture(t)
	assert.Equal(t, Landing, fx.orch.State())
	assert.Nil(t, fx.orch.Current())
	assert.Equal(t, "Entity Explorer", fx.orch.Title())
	assert.Equal(t, []string{"label", "track"}, fx.orch.EntityNames())
}

func TestOpenList(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	fx.seed(t, &track{Title: "Aja"})

	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	assert.Equal(t, Listing, fx.orch.State())
	assert.Equal(t, "Entity Explorer: track", fx.orch.Title())
	require.NotNil(t, fx.orch.Current().List)
	assert.Len(t, fx.orch.Current().List.Rows(), 1)
}

func TestOpenList_UnknownEntity(t *testing.T) {
	fx := newNavFixture(t)
	err := fx.orch.OpenList(context.Background(), "nosuch")
	assert.ErrorIs(t, err, metamodel.ErrNotFound)
	assert.Equal(t, Landing, fx.orch.State())
}

func TestOpenList_SameListingIsNoOp(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	first := fx.orch.Current()
	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	assert.Same(t, first, fx.orch.Current())
}

func TestOpenList_SwitchingEntityReplacesListing(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	require.NoError(t, fx.orch.OpenList(ctx, "label"))
	assert.Equal(t, "label", fx.orch.Current().Desc.Name)
	assert.Equal(t, "Entity Explorer: label", fx.orch.Title())
}

func TestNavigate(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)

	require.NoError(t, fx.orch.Navigate(ctx, "/track/"))
	assert.Equal(t, Listing, fx.orch.State())

	require.NoError(t, fx.orch.Navigate(ctx, ""))
	assert.Equal(t, Landing, fx.orch.State())
	assert.Equal(t, "Entity Explorer", fx.orch.Title())

	assert.Error(t, fx.orch.Navigate(ctx, "bogus"))
}

func TestEditRowAndSave(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	fx.seed(t, &track{Title: "Peg"})

	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	row := fx.orch.Current().List.Rows()[0]
	require.NoError(t, fx.orch.EditRow(ctx, row))
	assert.Equal(t, Editing, fx.orch.State())
	assert.Equal(t, "Editing track", fx.orch.Title())

	require.NoError(t, fx.orch.Current().Form.SetValue("title", "Peg (remastered)"))
	require.NoError(t, fx.orch.Save(ctx))

	// Save pops back to the listing, which re-queries.
	assert.Equal(t, Listing, fx.orch.State())
	assert.Equal(t, "Entity Explorer: track", fx.orch.Title())
	require.Len(t, fx.orch.Current().List.Rows(), 1)
	assert.Equal(t, "Peg (remastered)", fx.orch.Current().List.Rows()[0].(*track).Title)
}

func TestSave_FailureKeepsEditorOpen(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	fx.seed(t, &track{Title: "Kid A"})

	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	row := fx.orch.Current().List.Rows()[0]
	require.NoError(t, fx.orch.EditRow(ctx, row))

	// Sabotage: close the editor's own session underneath it.
	fx.orch.Current().sess.Close()
	err := fx.orch.Save(ctx)
	require.Error(t, err)
	assert.Equal(t, Editing, fx.orch.State(), "failed save keeps the editor open")

	msgs := fx.notices.Drain()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "Error occured while saving:"), msgs[0])
}

func TestNewEntity(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	require.NoError(t, fx.orch.NewEntity(ctx))
	assert.Equal(t, Editing, fx.orch.State())

	require.NoError(t, fx.orch.Current().Form.SetValue("title", "Fresh"))
	require.NoError(t, fx.orch.Save(ctx))
	assert.Len(t, fx.orch.Current().List.Rows(), 1)
}

func TestNewEntity_ConstructionFailureIsTransient(t *testing.T) {
	ctx := context.Background()
	reg := metamodel.NewRegistry()
	reg.MustRegister(track{}, metamodel.WithConstructor(func() (any, error) {
		return nil, assert.AnError
	}))
	reg.MustRegister(label{})
	mem := store.NewMem(reg)
	notices := notice.NewCollector()
	orch := New(reg, mem, notices)
	defer orch.Close()

	require.NoError(t, orch.OpenList(ctx, "track"))
	err := orch.NewEntity(ctx)
	require.Error(t, err)
	// The listing stays usable.
	assert.Equal(t, Listing, orch.State())
	msgs := notices.Drain()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "Failed to create new entity: "), msgs[0])
}

func TestBack_AbandonsEditor(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	fx.seed(t, &track{Title: "Original"})

	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	row := fx.orch.Current().List.Rows()[0]
	require.NoError(t, fx.orch.EditRow(ctx, row))
	require.NoError(t, fx.orch.Current().Form.SetValue("title", "Abandoned"))
	fx.orch.Back(ctx)

	assert.Equal(t, Listing, fx.orch.State())
	// Nothing was committed; the re-query shows the stored value.
	assert.Equal(t, "Original", fx.orch.Current().List.Rows()[0].(*track).Title)
}

func TestDrillIn_RequiresEditor(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	assert.Error(t, fx.orch.DrillIn(ctx, &label{}))
}

func TestDrillIn_NestedEditorAndReturn(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	lbl := &label{Name: "ECM"}
	fx.seed(t, lbl, &track{Title: "Solstice", Label: lbl})

	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	row := fx.orch.Current().List.Rows()[0].(*track)
	require.NoError(t, fx.orch.EditRow(ctx, row))
	require.NoError(t, fx.orch.DrillIn(ctx, row.Label))
	assert.Equal(t, "Editing label", fx.orch.Title())

	fx.orch.Back(ctx)
	assert.Equal(t, Editing, fx.orch.State())
	assert.Equal(t, "Editing track", fx.orch.Title())
}

func TestOpenPicker(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	fx.seed(t, &label{Name: "Blue Note"}, &label{Name: "Verve"}, &track{Title: "Moanin'"})

	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	require.NoError(t, fx.orch.EditRow(ctx, fx.orch.Current().List.Rows()[0]))

	picker, err := fx.orch.OpenPicker(ctx, "label")
	require.NoError(t, err)
	assert.Equal(t, "label", picker.Descriptor().Name)
	assert.True(t, picker.ActionsSuppressed(), "picker listings never render row actions")
	assert.Len(t, picker.Rows(), 2)

	_, err = fx.orch.OpenPicker(ctx, "title")
	assert.Error(t, err, "scalar attributes have no picker")
}

func TestPickerSelect_InMemoryOnly(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	fx.seed(t, &label{Name: "Impulse"}, &track{Title: "Naima"})

	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	require.NoError(t, fx.orch.EditRow(ctx, fx.orch.Current().List.Rows()[0]))
	picker, err := fx.orch.OpenPicker(ctx, "label")
	require.NoError(t, err)
	chosen := picker.Rows()[0]

	require.NoError(t, fx.orch.PickerSelect("label", chosen))
	edited := fx.orch.Current().Form.Instance().(*track)
	require.NotNil(t, edited.Label)
	assert.Equal(t, "Impulse", edited.Label.Name)

	// Nothing persisted yet: a fresh query still shows no label.
	sess, err := fx.mem.OpenSession()
	require.NoError(t, err)
	defer sess.Close()
	desc, _ := fx.reg.Entity("track")
	rows, err := sess.Query(ctx, desc, "", 0, 1)
	require.NoError(t, err)
	assert.Nil(t, rows[0].(*track).Label)
}

func TestClose_Idempotent(t *testing.T) {
	ctx := context.Background()
	fx := newNavFixture(t)
	require.NoError(t, fx.orch.OpenList(ctx, "track"))
	require.NoError(t, fx.orch.NewEntity(ctx))

	fx.orch.Close()
	assert.Equal(t, Landing, fx.orch.State())
	// A second close releases nothing twice.
	fx.orch.Close()
}
