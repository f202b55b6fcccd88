package area

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"disgb/internal/logger"
	"disgb/internal/spatial"
)

// Options configure a Manager
type Options struct {
	LookupCacheSize int
}

// Option mutates Options
type Option func(*Options)

// WithLookupCache caches owner-of-location lookups. A size <= 0 disables the cache.
func WithLookupCache(size int) Option {
	return func(opts *Options) {
		opts.LookupCacheSize = size
	}
}

type ownerLookup struct {
	broker BrokerInfo
	found  bool
}

// Manager is the area index of one broker: exactly one own area and the areas of every other
// broker in descriptor order.
//
// The other areas never change after Load. The own area is an immutable snapshot replaced
// atomically by SetOwnArea, so readers on any goroutine see either the old or the new area.
type Manager struct {
	ownBrokerID string
	own         atomic.Pointer[BrokerArea]
	others      []BrokerArea
	cache       *lru.Cache[spatial.Location, ownerLookup]
	logger      zerolog.Logger
}

// Load builds a Manager from descriptor entries. The entry whose broker id equals ownBrokerID
// becomes the own area; a descriptor without such an entry is valid and reported by
// HasOwnArea.
func Load(entries []DescriptorEntry, ownBrokerID string, opts ...Option) (*Manager, error) {
	if ownBrokerID == "" {
		return nil, &ConfigError{Index: -1, Reason: "own broker id is required"}
	}

	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	m := &Manager{
		ownBrokerID: ownBrokerID,
		others:      make([]BrokerArea, 0, len(entries)),
		logger:      logger.GetLogger("area"),
	}

	seen := make(map[string]int, len(entries))
	for i, entry := range entries {
		area, err := entry.BrokerArea()
		if err != nil {
			return nil, &ConfigError{Index: i, Reason: "invalid broker area", Err: err}
		}

		id := area.ResponsibleBroker.BrokerID
		if first, dup := seen[id]; dup {
			return nil, &ConfigError{Index: i, Reason: fmt.Sprintf("broker %s already defined by entry %d", id, first)}
		}
		seen[id] = i

		if area.HasResponsibleBroker(ownBrokerID) {
			m.own.Store(&area)
			continue
		}
		m.others = append(m.others, area)
	}

	if options.LookupCacheSize > 0 {
		cache, err := lru.New[spatial.Location, ownerLookup](options.LookupCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create lookup cache: %w", err)
		}
		m.cache = cache
	}

	event := m.logger.Info().
		Str("own_broker", ownBrokerID).
		Int("other_areas", len(m.others))
	if !m.HasOwnArea() {
		event = m.logger.Warn().
			Str("own_broker", ownBrokerID).
			Int("other_areas", len(m.others))
	}
	event.Bool("own_area", m.HasOwnArea()).Msg("Broker areas loaded")

	return m, nil
}

// OwnBrokerID returns the id this index was loaded for
func (m *Manager) OwnBrokerID() string {
	return m.ownBrokerID
}

// HasOwnArea reports whether the own area is set
func (m *Manager) HasOwnArea() bool {
	return m.own.Load() != nil
}

// OwnArea returns the current own area snapshot
func (m *Manager) OwnArea() (BrokerArea, bool) {
	own := m.own.Load()
	if own == nil {
		return BrokerArea{}, false
	}
	return *own, true
}

// OwnBrokerInfo returns the responsible broker of the own area
func (m *Manager) OwnBrokerInfo() (BrokerInfo, bool) {
	own, ok := m.OwnArea()
	return own.ResponsibleBroker, ok
}

// SetOwnArea replaces the own area wholesale. The new area must belong to this broker.
func (m *Manager) SetOwnArea(area BrokerArea) error {
	if !area.HasResponsibleBroker(m.ownBrokerID) {
		return fmt.Errorf("area belongs to broker %s, expected %s",
			area.ResponsibleBroker.BrokerID, m.ownBrokerID)
	}
	if err := area.ResponsibleBroker.Validate(); err != nil {
		return err
	}

	m.own.Store(&area)
	m.logger.Info().
		Str("own_broker", m.ownBrokerID).
		Str("covered_area", area.CoveredArea.String()).
		Msg("Own broker area replaced")
	return nil
}

// OwnContains reports whether the own area contains loc. False when no own area is set.
func (m *Manager) OwnContains(loc spatial.Location) bool {
	own := m.own.Load()
	return own != nil && own.ContainsLocation(loc)
}

// OwnIntersects reports whether the own area overlaps fence. False when no own area is set.
func (m *Manager) OwnIntersects(fence spatial.Geofence) bool {
	own := m.own.Load()
	return own != nil && own.IntersectsGeofence(fence)
}

// FindOwnerOfLocation returns the first other broker, in descriptor order, whose area contains
// loc. Overlapping areas are not disambiguated any further.
func (m *Manager) FindOwnerOfLocation(loc spatial.Location) (BrokerInfo, bool) {
	if m.cache != nil {
		if hit, ok := m.cache.Get(loc); ok {
			return hit.broker, hit.found
		}
	}

	result := ownerLookup{}
	for _, a := range m.others {
		if a.ContainsLocation(loc) {
			result = ownerLookup{broker: a.ResponsibleBroker, found: true}
			break
		}
	}

	if m.cache != nil {
		m.cache.Add(loc, result)
	}
	return result.broker, result.found
}

// FindBrokersIntersecting returns every other broker whose area overlaps fence, in descriptor
// order
func (m *Manager) FindBrokersIntersecting(fence spatial.Geofence) []BrokerInfo {
	brokers := make([]BrokerInfo, 0)
	for _, a := range m.others {
		if a.IntersectsGeofence(fence) {
			brokers = append(brokers, a.ResponsibleBroker)
		}
	}
	return brokers
}

// OtherAreas returns a copy of the other areas in descriptor order
func (m *Manager) OtherAreas() []BrokerArea {
	out := make([]BrokerArea, len(m.others))
	copy(out, m.others)
	return out
}

// OtherBrokers returns the known peers in descriptor order
func (m *Manager) OtherBrokers() []BrokerInfo {
	out := make([]BrokerInfo, len(m.others))
	for i, a := range m.others {
		out[i] = a.ResponsibleBroker
	}
	return out
}
