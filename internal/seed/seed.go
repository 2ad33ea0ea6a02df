// Package seed provides the demo schema and data for the explorer.
// The entity types here are deliberately plain structs: the engine
// knows nothing about them beyond what the registry reflects.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/store"
)

// Company is an example entity with a self-referential to-one.
type Company struct {
	ID         string
	Name       string
	Industry   string `admin:"enum=software|finance|retail|logistics"`
	Founded    time.Time
	Parent     *Company
	LastUpdate time.Time
}

// Passport demonstrates a one-to-one owned by Person.
type Passport struct {
	ID         string
	Number     string
	Country    string
	Expires    time.Time
	LastUpdate time.Time
}

// Person is the main demo entity: scalars, a to-one, a one-to-one and
// a same-type manager relation.
type Person struct {
	ID         string
	Name       string
	Email      string
	Age        int
	Active     bool
	Employer   *Company
	Manager    *Person
	Passport   *Passport `admin:"o2o"`
	LastUpdate time.Time
}

// Register adds the demo entity types to the registry.
func Register(reg *metamodel.Registry) error {
	for _, v := range []any{Company{}, Passport{}, Person{}} {
		if _, err := reg.Register(v); err != nil {
			return err
		}
	}
	return nil
}

// Apply inserts the demo rows. If people already exist the seeding is
// skipped, so restarts are idempotent.
func Apply(ctx context.Context, reg *metamodel.Registry, provider store.Provider) error {
	sess, err := provider.OpenSession()
	if err != nil {
		return fmt.Errorf("seed: opening session: %w", err)
	}
	defer sess.Close()

	person, err := reg.Entity("Person")
	if err != nil {
		return err
	}
	existing, err := sess.Query(ctx, person, "", 0, 1)
	if err != nil {
		return fmt.Errorf("seed: checking people: %w", err)
	}
	if len(existing) > 0 {
		log.Info().Msg("seed: demo data already present, skipping")
		return nil
	}

	if err := sess.Begin(ctx); err != nil {
		return err
	}

	acme := &Company{Name: "Acme Logistics", Industry: "logistics",
		Founded: time.Date(1987, 4, 2, 0, 0, 0, 0, time.UTC)}
	initech := &Company{Name: "Initech", Industry: "software",
		Founded: time.Date(1999, 2, 19, 0, 0, 0, 0, time.UTC), Parent: acme}
	for _, c := range []*Company{acme, initech} {
		if _, err := sess.Merge(ctx, c); err != nil {
			rollback(sess)
			return fmt.Errorf("seed: company %s: %w", c.Name, err)
		}
	}

	passport := &Passport{Number: "X1234567", Country: "FI",
		Expires: time.Date(2031, 6, 30, 0, 0, 0, 0, time.UTC)}
	if _, err := sess.Merge(ctx, passport); err != nil {
		rollback(sess)
		return fmt.Errorf("seed: passport: %w", err)
	}

	vera := &Person{Name: "Vera Okafor", Email: "vera@acme.example",
		Age: 44, Active: true, Employer: acme}
	if _, err := sess.Merge(ctx, vera); err != nil {
		rollback(sess)
		return fmt.Errorf("seed: person: %w", err)
	}
	people := []*Person{
		{Name: "Matti Virtanen", Email: "matti@initech.example", Age: 31,
			Active: true, Employer: initech, Manager: vera, Passport: passport},
		{Name: "Iris Lindqvist", Email: "iris@initech.example", Age: 27,
			Active: true, Employer: initech, Manager: vera},
		{Name: "Sam Delgado", Email: "sam@acme.example", Age: 52,
			Active: false, Employer: acme},
	}
	for _, p := range people {
		if _, err := sess.Merge(ctx, p); err != nil {
			rollback(sess)
			return fmt.Errorf("seed: person %s: %w", p.Name, err)
		}
	}

	if err := sess.Commit(); err != nil {
		rollback(sess)
		return fmt.Errorf("seed: commit: %w", err)
	}
	log.Info().Int("people", len(people)+1).Int("companies", 2).Msg("seed: demo data inserted")
	return nil
}

func rollback(sess store.Session) {
	if err := sess.Rollback(); err != nil {
		log.Warn().Err(err).Msg("seed: rollback")
	}
}
