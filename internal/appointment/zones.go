package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ZoneResolver supplies the time zone a practitioner's calendar day is cut in.
type ZoneResolver interface {
	Location(ctx context.Context, practitionerID uuid.UUID) (*time.Location, error)
}

type StaticZones struct {
	Default   *time.Location
	Overrides map[uuid.UUID]*time.Location
}

func (z StaticZones) Location(_ context.Context, practitionerID uuid.UUID) (*time.Location, error) {
	if loc, ok := z.Overrides[practitionerID]; ok {
		return loc, nil
	}
	if z.Default == nil {
		return time.UTC, nil
	}
	return z.Default, nil
}

// ParseZones builds StaticZones from a default zone name and a list of
// "practitioner-uuid=Zone/Name" pairs separated by commas.
func ParseZones(defaultZone, overrides string) (StaticZones, error) {
	zones := StaticZones{Default: time.UTC, Overrides: map[uuid.UUID]*time.Location{}}

	if defaultZone != "" {
		loc, err := time.LoadLocation(defaultZone)
		if err != nil {
			return StaticZones{}, fmt.Errorf("default zone %q: %w", defaultZone, err)
		}
		zones.Default = loc
	}

	for _, pair := range strings.Split(overrides, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idStr, zone, ok := strings.Cut(pair, "=")
		if !ok {
			return StaticZones{}, fmt.Errorf("zone override %q: want uuid=Zone", pair)
		}
		id, err := uuid.Parse(strings.TrimSpace(idStr))
		if err != nil {
			return StaticZones{}, fmt.Errorf("zone override %q: %w", pair, err)
		}
		loc, err := time.LoadLocation(strings.TrimSpace(zone))
		if err != nil {
			return StaticZones{}, fmt.Errorf("zone override %q: %w", pair, err)
		}
		zones.Overrides[id] = loc
	}

	return zones, nil
}
