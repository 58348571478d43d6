package app

import (
	"fmt"
	"strings"

	"bitacora/internal/config"
	"bitacora/internal/domain"
)

// ResolveActor builds the acting identity from flag overrides and the
// workspace config, flags winning. The core trusts this declared identity;
// real authentication lives in the collaborators that call it.
func ResolveActor(cfg *config.Config, idOverride, nameOverride, sectorOverride string) (domain.Actor, error) {
	a := domain.Actor{}
	if cfg != nil {
		a.ID = cfg.Actor.ID
		a.Name = cfg.Actor.Name
		if cfg.Actor.Sector != "" {
			if s, ok := domain.ParseSector(cfg.Actor.Sector); ok {
				a.Sector = s
			}
		}
	}
	if strings.TrimSpace(idOverride) != "" {
		a.ID = strings.TrimSpace(idOverride)
	}
	if strings.TrimSpace(nameOverride) != "" {
		a.Name = strings.TrimSpace(nameOverride)
	}
	if strings.TrimSpace(sectorOverride) != "" {
		s, ok := domain.ParseSector(sectorOverride)
		if !ok {
			return domain.Actor{}, fmt.Errorf("unknown sector %q (expected one of %s)", sectorOverride, sectorList())
		}
		a.Sector = s
	}
	if a.ID == "" {
		return domain.Actor{}, fmt.Errorf("actor id not set; use --actor-id or bitacora.yml")
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	if !a.Sector.Valid() {
		return domain.Actor{}, fmt.Errorf("actor sector not set; use --actor-sector or bitacora.yml (one of %s)", sectorList())
	}
	return a, nil
}

func sectorList() string {
	names := make([]string, 0, len(domain.AllSectors))
	for _, s := range domain.AllSectors {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
