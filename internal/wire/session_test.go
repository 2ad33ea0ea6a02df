package wire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/store"
)

type city struct {
	ID   string
	Name string
	Pop  int
}

func wireFixture(t *testing.T) (*metamodel.Registry, *store.MemStore) {
	t.Helper()
	reg := metamodel.NewRegistry()
	reg.MustRegister(city{})
	return reg, store.NewMem(reg)
}

func TestSessionManager_CreateAndGet(t *testing.T) {
	reg, mem := wireFixture(t)
	m := NewSessionManager(reg, mem)

	s := m.Create()
	require.NotEmpty(t, s.ID)
	require.NotNil(t, s.Orchestrator)
	assert.Same(t, s, m.Get(s.ID))
	assert.Nil(t, m.Get("unknown"))
}

func TestSessionManager_RemoveTearsDown(t *testing.T) {
	reg, mem := wireFixture(t)
	m := NewSessionManager(reg, mem)

	s := m.Create()
	require.NoError(t, s.Orchestrator.OpenList(context.Background(), "city"))
	m.Remove(s.ID)
	assert.Nil(t, m.Get(s.ID))
	// The orchestrator's view tree was closed along with the session.
	assert.Nil(t, s.Orchestrator.Current())
}

func TestSessionManager_CleanupEvictsIdle(t *testing.T) {
	reg, mem := wireFixture(t)
	m := NewSessionManager(reg, mem)
	m.idleTimeout = time.Millisecond

	s := m.Create()
	s.LastActiveAt = time.Now().Add(-time.Minute)
	m.Cleanup()
	assert.Nil(t, m.Get(s.ID))
}

func TestSession_TouchDefersIdleEviction(t *testing.T) {
	reg, mem := wireFixture(t)
	m := NewSessionManager(reg, mem)

	s := m.Create()
	s.LastActiveAt = time.Now().Add(-time.Hour)
	require.True(t, s.IsIdle(defaultIdleTimeout))
	s.Touch()
	assert.False(t, s.IsIdle(defaultIdleTimeout))
}

func TestRenderView_Snapshots(t *testing.T) {
	ctx := context.Background()
	reg, mem := wireFixture(t)
	m := NewSessionManager(reg, mem)
	s := m.Create()

	v := renderView(s.Orchestrator)
	assert.Equal(t, "landing", v.State)

	sess, err := mem.OpenSession()
	require.NoError(t, err)
	_, err = sess.Merge(ctx, &city{Name: "Kuopio", Pop: 120000})
	require.NoError(t, err)
	sess.Close()

	require.NoError(t, s.Orchestrator.OpenList(ctx, "city"))
	v = renderView(s.Orchestrator)
	assert.Equal(t, "listing", v.State)
	assert.Equal(t, "city", v.Entity)
	require.Len(t, v.Rows, 1)
	assert.NotEmpty(t, v.Rows[0].ID)
	assert.Equal(t, "Kuopio", v.Rows[0].Cells["name"])

	require.NoError(t, s.Orchestrator.EditRow(ctx, s.Orchestrator.Current().List.Rows()[0]))
	v = renderView(s.Orchestrator)
	assert.Equal(t, "editing", v.State)
	require.NotEmpty(t, v.Editors)
	assert.Equal(t, "id", v.Editors[0].Property)
	assert.Equal(t, "text", v.Editors[0].Widget)
}

func TestFindRow(t *testing.T) {
	ctx := context.Background()
	reg, mem := wireFixture(t)
	sess, err := mem.OpenSession()
	require.NoError(t, err)
	defer sess.Close()

	c := &city{Name: "Vaasa"}
	_, err = sess.Merge(ctx, c)
	require.NoError(t, err)

	desc, _ := reg.Entity("city")
	rows, err := sess.Query(ctx, desc, "", 0, 10)
	require.NoError(t, err)

	assert.NotNil(t, findRow(desc, rows, c.ID))
	assert.Nil(t, findRow(desc, rows, "missing"))
}

func TestCoerceScalar(t *testing.T) {
	reg, _ := wireFixture(t)
	desc, _ := reg.Entity("city")
	pop, _ := desc.Attribute("pop")
	name, _ := desc.Attribute("name")

	v, err := coerceScalar(pop, float64(42))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = coerceScalar(name, "Espoo")
	require.NoError(t, err)
	assert.Equal(t, "Espoo", v)

	_, err = coerceScalar(pop, "lots")
	assert.Error(t, err)

	v, err = coerceScalar(name, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}
