package clock

import (
	"errors"
	"fmt"
	"strings"
	"survey-scheduler/pkg/cache"
	"survey-scheduler/pkg/common"
	"time"
)

var (
	// ErrUnknownZone means the named IANA zone does not exist. This is a
	// per-schedule configuration error, not a scheduler failure.
	ErrUnknownZone = errors.New("unknown time zone")

	// ErrZoneUnavailable means the zone database itself could not be read.
	// The scheduler must halt rather than apply transitions against an
	// unverifiable clock.
	ErrZoneUnavailable = errors.New("time zone database unavailable")
)

// Clock supplies the current instant and the mapping from IANA zone names to
// locations. It exists so everything above it is deterministic under test.
type Clock interface {
	Now() time.Time
	Location(name string) (*time.Location, error)
}

// SystemClock reads the wall clock and the system zone database, caching
// resolved locations.
type SystemClock struct {
	zones cache.Cache
}

func NewSystemClock(zones cache.Cache) *SystemClock {
	return &SystemClock{zones: zones}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

func (c *SystemClock) Location(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty zone name", ErrUnknownZone)
	}

	key := fmt.Sprintf(common.KEY_ZONE_LOCATION, name)
	if cached, ok := c.zones.Get(key); ok {
		if loc, ok := cached.(*time.Location); ok {
			return loc, nil
		}
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		// LoadLocation reports a missing entry as "unknown time zone";
		// anything else means the zone database could not be opened.
		if strings.Contains(err.Error(), "unknown time zone") {
			return nil, fmt.Errorf("%w: %q", ErrUnknownZone, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrZoneUnavailable, err)
	}

	c.zones.Set(key, loc, cache.NoExpiration)
	return loc, nil
}
