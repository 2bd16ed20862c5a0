package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/lymar/actionkit"
	"github.com/lymar/actionkit/internal/log"
	"github.com/lymar/actionkit/journal"
)

type config struct {
	DB        string `env:"ACTIONKIT_DB" envDefault:"dev.db"`
	Script    string `env:"ACTIONKIT_SCRIPT" envDefault:"script.yaml"`
	Backup    string `env:"ACTIONKIT_BACKUP" envDefault:"dev.backup"`
	ZstdLevel int    `env:"ACTIONKIT_ZSTD_LEVEL" envDefault:"5"`
	LogLevel  string `env:"ACTIONKIT_LOG_LEVEL" envDefault:"debug"`
}

func dispatchAndJournal(cfg config, codec *actionkit.Codec) {
	reducer := counterReducer()

	s, err := loadScript(cfg.Script)
	if err != nil {
		panic(err)
	}
	actions := s.actions()

	state := reducer.InitialState()
	var journaled []actionkit.Action
	for _, a := range actions {
		state = reducer.Reduce(state, a)
		slog.Debug("dispatched", "type", a.Type, "state", state)
		if codec.Has(a.Type) {
			journaled = append(journaled, a)
		}
	}

	j, err := journal.Open(cfg.DB, codec)
	if err != nil {
		panic(err)
	}
	defer j.Close()

	last, err := j.Append(journaled...)
	if err != nil {
		panic(err)
	}
	slog.Info("journaled", "count", len(journaled), "last_id", last)

	replayed, err := journal.Replay(j, reducer.Func(), reducer.InitialState())
	if err != nil {
		panic(err)
	}
	projected, err := journal.Project(j, "counter", "v1", reducer.Func(), reducer.InitialState())
	if err != nil {
		panic(err)
	}
	slog.Info("counter", "this_run", state, "replayed", replayed, "projected", projected)

	f, err := os.Create(cfg.Backup)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	if err := j.BackupTo(context.Background(), cfg.ZstdLevel, f); err != nil {
		panic(err)
	}
}

func restoreAndRead(cfg config, codec *actionkit.Codec) {
	dbName := cfg.DB + ".restored"
	if err := os.Remove(dbName); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	backup, err := os.Open(cfg.Backup)
	if err != nil {
		panic(err)
	}
	defer backup.Close()

	if err := journal.Restore(context.Background(), dbName, backup); err != nil {
		panic(err)
	}

	j, err := journal.Open(dbName, codec)
	if err != nil {
		panic(err)
	}
	defer j.Close()

	for e, err := range j.Entries(1) {
		if err != nil {
			panic(err)
		}
		slog.Debug("restored entry", "id", e.ID, "type", e.Action.Type,
			"session", e.Session, "at", e.ReadTimestamp())
	}

	reducer := counterReducer()
	projected, err := journal.Project(j, "counter", "v1", reducer.Func(), reducer.InitialState())
	if err != nil {
		panic(err)
	}
	slog.Info("restored counter", "projected", projected)
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	log.InitDevLog(log.ParseLevel(cfg.LogLevel))

	codec, err := actionkit.NewCodec(addAction, incrementAction, decrementAction, resetAction)
	if err != nil {
		panic(err)
	}

	dispatchAndJournal(cfg, codec)
	restoreAndRead(cfg, codec)
}
