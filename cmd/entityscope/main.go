package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/config"
	"github.com/mkoski/entityscope/internal/eventbus"
	"github.com/mkoski/entityscope/internal/logger"
	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/metrics"
	"github.com/mkoski/entityscope/internal/seed"
	"github.com/mkoski/entityscope/internal/server"
	"github.com/mkoski/entityscope/internal/store"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	configFile := flag.String("config", "", "optional config file path")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Setup(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	reg := metamodel.NewRegistry()
	if err := seed.Register(reg); err != nil {
		log.Fatal().Err(err).Msg("registering demo entities")
	}

	var dialectName, driverName string
	switch cfg.Database.Driver {
	case "postgres":
		dialectName, driverName = dialect.Postgres, "postgres"
	default:
		dialectName, driverName = dialect.SQLite, "sqlite"
	}

	db, err := sql.Open(driverName, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("opening database")
	}
	if dialectName == dialect.SQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			log.Fatal().Err(err).Msg("enabling foreign keys")
		}
	}

	st := store.WrapDB(dialectName, db, reg)
	defer st.Close()

	if err := store.CreateTables(ctx, entsql.OpenDB(dialectName, db), reg); err != nil {
		log.Fatal().Err(err).Msg("creating tables")
	}
	if err := seed.Apply(ctx, reg, st); err != nil {
		log.Fatal().Err(err).Msg("seeding demo data")
	}

	bus := eventbus.New(256)
	bus.Subscribe("log", eventbus.NewLogConsumer())
	recent := eventbus.NewRecentConsumer(100)
	bus.Subscribe("recent", recent)
	bus.Start(ctx)
	defer bus.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	err = server.Run(ctx, server.Config{
		Addr:      addr,
		Registry:  reg,
		Provider:  st,
		Collector: metrics.NewCollector(),
		Bus:       bus,
		Recent:    recent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
