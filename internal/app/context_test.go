package app_test

import (
	"testing"

	"bitacora/internal/app"
	"bitacora/internal/config"
	"bitacora/internal/domain"
)

func configWithActor(id, name, sector string) *config.Config {
	cfg := config.Default()
	cfg.Actor.ID = id
	cfg.Actor.Name = name
	cfg.Actor.Sector = sector
	return cfg
}

func TestResolveActorFromConfig(t *testing.T) {
	actor, err := app.ResolveActor(configWithActor("alice", "Alice", "taller"), "", "", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if actor.ID != "alice" || actor.Name != "Alice" || actor.Sector != domain.SectorTaller {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestResolveActorFlagsWin(t *testing.T) {
	cfg := configWithActor("alice", "Alice", "TALLER")
	actor, err := app.ResolveActor(cfg, "bob", "", "tecnica")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if actor.ID != "bob" || actor.Sector != domain.SectorTecnica {
		t.Fatalf("flags should override config: %+v", actor)
	}
	actor, err = app.ResolveActor(cfg, "bob", "Bob", "tecnica")
	if err != nil {
		t.Fatalf("resolve with name: %v", err)
	}
	if actor.Name != "Bob" {
		t.Fatalf("name flag should win, got %q", actor.Name)
	}
}

func TestResolveActorNameDefaultsToID(t *testing.T) {
	actor, err := app.ResolveActor(config.Default(), "carol", "", "COMPRAS")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if actor.Name != "carol" {
		t.Fatalf("name should default to the id, got %q", actor.Name)
	}
}

func TestResolveActorErrors(t *testing.T) {
	if _, err := app.ResolveActor(config.Default(), "", "", "TALLER"); err == nil {
		t.Fatalf("missing id must fail")
	}
	if _, err := app.ResolveActor(config.Default(), "alice", "", ""); err == nil {
		t.Fatalf("missing sector must fail")
	}
	if _, err := app.ResolveActor(config.Default(), "alice", "", "VENTAS"); err == nil {
		t.Fatalf("unknown sector must fail")
	}
}
