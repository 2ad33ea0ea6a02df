package editor

import (
	"testing"
	"time"

	"github.com/mkoski/entityscope/internal/metamodel"
)

type org struct {
	ID   string
	Name string
}

type member struct {
	ID      string
	Name    string
	Age     int
	Joined  time.Time
	Level   string `admin:"enum=basic|gold"`
	Org     *org
	Key     *org `admin:"mapsid"`
	Profile *org `admin:"o2o"`
}

func memberEntity(t *testing.T) *metamodel.Entity {
	t.Helper()
	reg := metamodel.NewRegistry()
	reg.MustRegister(org{})
	return reg.MustRegister(member{})
}

func attr(t *testing.T, e *metamodel.Entity, name string) *metamodel.Attribute {
	t.Helper()
	a, err := e.Attribute(name)
	if err != nil {
		t.Fatalf("Attribute(%q): %v", name, err)
	}
	return a
}

func TestDefaultWidget_PerValueType(t *testing.T) {
	e := memberEntity(t)

	if _, ok := DefaultWidget(attr(t, e, "name"), "x").(*TextField); !ok {
		t.Error("string attribute should get a TextField")
	}
	if _, ok := DefaultWidget(attr(t, e, "age"), 1).(*NumberField); !ok {
		t.Error("int attribute should get a NumberField")
	}
	if _, ok := DefaultWidget(attr(t, e, "joined"), time.Now()).(*TimeField); !ok {
		t.Error("time attribute should get a TimeField")
	}
	sel, ok := DefaultWidget(attr(t, e, "level"), "basic").(*EnumSelect)
	if !ok {
		t.Fatal("enum attribute should get an EnumSelect")
	}
	if len(sel.Options) != 2 || sel.Options[1] != "gold" {
		t.Errorf("EnumSelect options = %v", sel.Options)
	}
	if w := DefaultWidget(attr(t, e, "org"), nil); w != nil {
		t.Error("entity-typed attribute has no default widget")
	}
}

func TestResolver_ToOneGetsPicker(t *testing.T) {
	e := memberEntity(t)
	r := NewResolver()

	w := r.Resolve(attr(t, e, "org"), &org{Name: "Initech"})
	p, ok := w.(*PickerField)
	if !ok {
		t.Fatalf("Resolve(to-one) = %T, want *PickerField", w)
	}
	if p.ReadOnly() {
		t.Error("plain to-one picker should be writable")
	}
}

func TestResolver_SharedKeyPickerReadOnly(t *testing.T) {
	e := memberEntity(t)
	r := NewResolver()

	w := r.Resolve(attr(t, e, "key"), &org{Name: "Initech"})
	p, ok := w.(*PickerField)
	if !ok {
		t.Fatalf("Resolve(shared key) = %T, want *PickerField", w)
	}
	if !p.ReadOnly() {
		t.Error("shared-key picker must be read-only")
	}
	// Read-only holds: SetValue is a no-op.
	before := p.Value()
	p.SetValue(&org{Name: "Other"})
	if p.Value() != before {
		t.Error("read-only picker accepted a value")
	}
}

func TestResolver_SharedKeyReadOnlySurvivesOverride(t *testing.T) {
	e := memberEntity(t)
	r := NewResolver().WithOverride(func(a *metamodel.Attribute, current any) Widget {
		p := NewPickerField(a, current)
		p.SetReadOnly(false)
		return p
	})

	w := r.Resolve(attr(t, e, "key"), nil)
	p := w.(*PickerField)
	if !p.ReadOnly() {
		t.Error("override must not defeat the shared-key read-only rule")
	}
}

func TestResolver_OverrideWinsForOtherKinds(t *testing.T) {
	e := memberEntity(t)
	custom := &TextField{}
	r := NewResolver().WithOverride(func(a *metamodel.Attribute, current any) Widget {
		if a.Name == "org" {
			return custom
		}
		return nil
	})

	if w := r.Resolve(attr(t, e, "org"), nil); w != custom {
		t.Errorf("Resolve = %T, want the override's widget", w)
	}
	// Falls through to policy when the override declines.
	if _, ok := r.Resolve(attr(t, e, "profile"), nil).(*InlineSummaryField); !ok {
		t.Error("declined override should fall through to the built-in policy")
	}
}

func TestResolver_OneToOneInlineSummary(t *testing.T) {
	e := memberEntity(t)
	r := NewResolver()

	w := r.Resolve(attr(t, e, "profile"), &org{Name: "Initech"})
	f, ok := w.(*InlineSummaryField)
	if !ok {
		t.Fatalf("Resolve(one-to-one) = %T, want *InlineSummaryField", w)
	}
	// Never assignable: the model value is always nil.
	if f.Value() != nil {
		t.Error("inline summary yielded a value")
	}
	if f.EditTarget() == nil {
		t.Error("drill-in target missing")
	}
}

func TestInlineSummaryField_NullRendering(t *testing.T) {
	e := memberEntity(t)
	f := NewInlineSummaryField(attr(t, e, "profile"), nil)
	if f.Summary() != "null" {
		t.Errorf("Summary = %q, want null", f.Summary())
	}
}

func TestResolver_ScalarsDefaultToNil(t *testing.T) {
	e := memberEntity(t)
	r := NewResolver()
	if w := r.Resolve(attr(t, e, "name"), "x"); w != nil {
		t.Errorf("Resolve(scalar) = %T, want nil", w)
	}
}

func TestPickerField_SummaryRefreshOnSetValue(t *testing.T) {
	e := memberEntity(t)
	p := NewPickerField(attr(t, e, "org"), nil)
	first := p.Summary()
	p.SetValue(&org{Name: "Globex"})
	if p.Summary() == first {
		t.Error("summary did not refresh after SetValue")
	}
}
