package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/ranchhand/ranchhand/pkg/devices"
	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/metrics"
	"github.com/ranchhand/ranchhand/pkg/storage"
	"github.com/ranchhand/ranchhand/pkg/types"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// CatalogGroupID is the refresh group for the Square catalog.
const CatalogGroupID = "square"

// GroupState is the cached result of the last poll of one vendor group. When
// a poll fails the previous Devices are kept and Stale is set, so the
// dashboard can keep showing the last known values.
type GroupState struct {
	GroupID    string              `json:"groupID"`
	Vendor     types.Vendor        `json:"vendor"`
	Configured bool                `json:"configured"`
	Devices    []types.DeviceState `json:"devices"`
	UpdatedAt  time.Time           `json:"updatedAt,omitzero"`
	Stale      bool                `json:"stale"`
	ErrorKind  string              `json:"errorKind,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// CatalogState is the cached Square catalog with the same staleness semantics
// as GroupState.
type CatalogState struct {
	Configured bool                `json:"configured"`
	Items      []types.CatalogItem `json:"items"`
	UpdatedAt  time.Time           `json:"updatedAt,omitzero"`
	Stale      bool                `json:"stale"`
	ErrorKind  string              `json:"errorKind,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Poller periodically polls the vendor APIs, keeps the latest states in
// memory, and writes bucketed history rows to storage.
type Poller struct {
	db storage.Database

	interval        time.Duration
	catalogInterval time.Duration
	timeout         time.Duration

	// yolink is persistent so the access token survives between polls
	yolink *devices.YoLink

	// buildSources is swapped out in tests
	buildSources func(ctx context.Context) []source
	pollCatalog  func(ctx context.Context) ([]types.CatalogItem, error)

	cron *cron.Cron
	sf   singleflight.Group

	mu      sync.Mutex
	groups  map[string]*GroupState
	catalog CatalogState
}

// New returns a Poller with the given intervals. Most callers should use
// Configured instead.
func New(db storage.Database, interval, catalogInterval, timeout time.Duration) *Poller {
	p := &Poller{
		db:              db,
		interval:        interval,
		catalogInterval: catalogInterval,
		timeout:         timeout,
		groups:          make(map[string]*GroupState),
	}
	p.yolink = devices.NewYoLink(timeout)
	p.buildSources = p.vendorSources
	p.pollCatalog = p.squareCatalog
	return p
}

// Configured sets up the Poller based on flags.
func Configured(db storage.Database) *Poller {
	interval := lflag.Duration("poll-interval", time.Minute, "How often to poll vendor APIs for device state")
	catalogInterval := lflag.Duration("catalog-interval", 15*time.Minute, "How often to refresh the Square catalog")
	timeout := lflag.Duration("vendor-timeout", 15*time.Second, "Per-request timeout for vendor APIs")

	p := &Poller{
		db:     db,
		groups: make(map[string]*GroupState),
	}
	p.buildSources = p.vendorSources
	p.pollCatalog = p.squareCatalog

	lflag.Do(func() {
		p.interval = *interval
		p.catalogInterval = *catalogInterval
		p.timeout = *timeout
		p.yolink = devices.NewYoLink(p.timeout)
	})

	return p
}

// Run starts the poll schedule and blocks until ctx is canceled. A poll error
// never stops the schedule; it only marks the affected group stale.
func (p *Poller) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		p.scheduledRefresh(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule device polls: %w", err)
	}
	_, err = c.AddFunc(fmt.Sprintf("@every %s", p.catalogInterval), func() {
		p.scheduledCatalogRefresh(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule catalog polls: %w", err)
	}
	p.cron = c

	// poll immediately so the dashboard isn't empty until the first tick
	p.scheduledRefresh(ctx)
	p.scheduledCatalogRefresh(ctx)

	c.Start()
	log.Ctx(ctx).InfoContext(ctx, "poller started",
		slog.Duration("interval", p.interval),
		slog.Duration("catalogInterval", p.catalogInterval))

	<-ctx.Done()
	stopCtx := c.Stop()
	// wait for any in-flight poll funcs to finish
	<-stopCtx.Done()
	log.Ctx(ctx).InfoContext(ctx, "poller stopped")
	return nil
}

// paused reports whether scheduled polling is paused in settings. Manual
// refreshes ignore this.
func (p *Poller) paused(ctx context.Context) bool {
	settings, _, err := p.db.GetSettings(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load settings, continuing unpaused", slog.Any("error", err))
		return false
	}
	return settings.Pause
}

func (p *Poller) scheduledRefresh(ctx context.Context) {
	if p.paused(ctx) {
		log.Ctx(ctx).DebugContext(ctx, "polling paused, skipping scheduled refresh")
		return
	}
	p.RefreshAll(ctx)
}

func (p *Poller) scheduledCatalogRefresh(ctx context.Context) {
	if p.paused(ctx) {
		return
	}
	p.RefreshCatalog(ctx)
}

// RefreshAll polls every configured vendor group. Groups poll concurrently,
// so one slow vendor never delays another group's cadence; the per-group
// single-flight still prevents duplicate calls to the same vendor. Groups
// whose configs were removed are dropped from the cache.
func (p *Poller) RefreshAll(ctx context.Context) {
	sources := p.buildSources(ctx)

	current := make(map[string]bool, len(sources))
	var wg sync.WaitGroup
	for _, s := range sources {
		current[s.groupID()] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.refreshSource(ctx, s)
		}()
	}
	wg.Wait()

	p.mu.Lock()
	for id := range p.groups {
		if !current[id] {
			delete(p.groups, id)
		}
	}
	p.mu.Unlock()
}

// TriggerRefresh immediately polls a single group, bypassing the pause
// setting. The group CatalogGroupID refreshes the Square catalog. Concurrent
// refreshes of the same group share one poll.
func (p *Poller) TriggerRefresh(ctx context.Context, groupID string) (GroupState, error) {
	if groupID == CatalogGroupID {
		p.RefreshCatalog(ctx)
		cat := p.Catalog()
		return GroupState{
			GroupID:    CatalogGroupID,
			Configured: cat.Configured,
			UpdatedAt:  cat.UpdatedAt,
			Stale:      cat.Stale,
			ErrorKind:  cat.ErrorKind,
			Error:      cat.Error,
		}, nil
	}

	for _, s := range p.buildSources(ctx) {
		if s.groupID() == groupID {
			return p.refreshSource(ctx, s), nil
		}
	}
	return GroupState{}, fmt.Errorf("unknown group: %s", groupID)
}

// refreshSource polls one group, single-flighted by group ID.
func (p *Poller) refreshSource(ctx context.Context, s source) GroupState {
	v, _, _ := p.sf.Do(s.groupID(), func() (interface{}, error) {
		return p.pollSource(ctx, s), nil
	})
	return v.(GroupState)
}

func (p *Poller) pollSource(ctx context.Context, s source) GroupState {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	states, err := s.poll(pollCtx)
	duration := time.Since(start)

	if err != nil {
		kind := devices.ErrorKind(err)
		metrics.ObservePoll(s.groupID(), kind, duration)
		log.Ctx(ctx).WarnContext(ctx, "poll failed",
			slog.String("group", s.groupID()),
			slog.String("kind", kind),
			slog.Any("error", err))

		p.mu.Lock()
		defer p.mu.Unlock()
		gs := p.groupLocked(s)
		// keep the previous devices so the dashboard can show stale data
		gs.Stale = !gs.UpdatedAt.IsZero()
		gs.Configured = kind != devices.KindNotConfigured
		gs.ErrorKind = kind
		gs.Error = err.Error()
		return *gs
	}

	// swap the fresh snapshot in and release the lock before touching
	// storage, so a slow history write never blocks readers or other groups
	p.mu.Lock()
	gs := p.groupLocked(s)
	gs.Devices = states
	gs.UpdatedAt = time.Now().UTC()
	gs.Stale = false
	gs.Configured = true
	gs.ErrorKind = ""
	gs.Error = ""
	snapshot := *gs
	p.mu.Unlock()

	// a storage failure must not invalidate the fresh in-memory state, it
	// only surfaces as an error on the group
	storeCtx, storeCancel := context.WithTimeout(ctx, p.timeout)
	defer storeCancel()
	if err := p.storeHistory(storeCtx, s.vendor(), states); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to store history",
			slog.String("group", s.groupID()),
			slog.Any("error", err))
		metrics.ObservePoll(s.groupID(), devices.KindStorageError, duration)

		p.mu.Lock()
		gs := p.groupLocked(s)
		gs.ErrorKind = devices.KindStorageError
		gs.Error = err.Error()
		snapshot = *gs
		p.mu.Unlock()
		return snapshot
	}

	metrics.ObservePoll(s.groupID(), "ok", duration)
	return snapshot
}

// groupLocked returns the cached group for s, creating it on first poll.
// Must be called with p.mu held.
func (p *Poller) groupLocked(s source) *GroupState {
	gs, ok := p.groups[s.groupID()]
	if !ok {
		gs = &GroupState{
			GroupID: s.groupID(),
			Vendor:  s.vendor(),
		}
		p.groups[s.groupID()] = gs
	}
	return gs
}

// storeHistory writes one bucketed row per device. A second poll in the same
// bucket overwrites the first, so the newest values in a bucket win.
func (p *Poller) storeHistory(ctx context.Context, vendor types.Vendor, states []types.DeviceState) error {
	bucket := types.BucketTime(time.Now())

	for _, ds := range states {
		switch {
		case vendor == types.VendorYoLink && ds.Type == types.DeviceTypeTHSensor:
			r := types.Reading{
				DeviceID:    ds.DeviceID,
				Name:        ds.Name,
				Type:        ds.Type,
				Timestamp:   bucket,
				Temperature: ds.Temperature,
				Humidity:    ds.Humidity,
				Battery:     ds.Battery,
				SignalDBM:   ds.SignalDBM,
				Online:      ds.Online,
			}
			if err := p.db.UpsertReading(ctx, r, types.CurrentReadingVersion); err != nil {
				return err
			}
			metrics.ReadingStored("sensor")
		case vendor == types.VendorEcoFlow:
			if err := p.db.UpsertPowerReading(ctx, powerReadingFromState(ds, bucket), types.CurrentPowerReadingVersion); err != nil {
				return err
			}
			metrics.ReadingStored("power")
		}
	}
	return nil
}

func powerReadingFromState(ds types.DeviceState, ts time.Time) types.PowerReading {
	pr := types.PowerReading{
		SerialNumber: ds.DeviceID,
		Name:         ds.Name,
		Timestamp:    ts,
	}
	if ds.Battery != nil {
		pr.BatterySOC = *ds.Battery
	}
	if ds.WattsIn != nil {
		pr.WattsIn = *ds.WattsIn
	}
	if ds.WattsOut != nil {
		pr.WattsOut = *ds.WattsOut
	}
	if ds.ACOutWatts != nil {
		pr.ACOutWatts = *ds.ACOutWatts
	}
	if ds.ACEnabled != nil {
		pr.ACEnabled = *ds.ACEnabled
	}
	if ds.SolarWatts != nil {
		pr.SolarWatts = *ds.SolarWatts
	}
	if ds.RemainingMinutes != nil {
		pr.RemainingMinutes = *ds.RemainingMinutes
	}
	if ds.BatteryTempC != nil {
		pr.BatteryTempC = *ds.BatteryTempC
	}
	return pr
}

// RefreshCatalog refreshes the Square catalog cache, single-flighted.
func (p *Poller) RefreshCatalog(ctx context.Context) {
	p.sf.Do(CatalogGroupID, func() (interface{}, error) {
		pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		start := time.Now()
		items, err := p.pollCatalog(pollCtx)
		duration := time.Since(start)

		p.mu.Lock()
		defer p.mu.Unlock()

		if err != nil {
			kind := devices.ErrorKind(err)
			metrics.ObservePoll(CatalogGroupID, kind, duration)
			log.Ctx(ctx).WarnContext(ctx, "catalog poll failed",
				slog.String("kind", kind),
				slog.Any("error", err))
			p.catalog.Stale = !p.catalog.UpdatedAt.IsZero()
			p.catalog.Configured = kind != devices.KindNotConfigured
			p.catalog.ErrorKind = kind
			p.catalog.Error = err.Error()
			return nil, nil
		}

		metrics.ObservePoll(CatalogGroupID, "ok", duration)
		p.catalog = CatalogState{
			Configured: true,
			Items:      items,
			UpdatedAt:  time.Now().UTC(),
		}
		return nil, nil
	})
}

// GroupStates returns a snapshot of all cached groups sorted by group ID.
func (p *Poller) GroupStates() []GroupState {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make([]GroupState, 0, len(p.groups))
	for _, gs := range p.groups {
		states = append(states, *gs)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].GroupID < states[j].GroupID
	})
	return states
}

// GroupState returns the cached state for one group.
func (p *Poller) GroupState(groupID string) (GroupState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gs, ok := p.groups[groupID]
	if !ok {
		return GroupState{}, false
	}
	return *gs, true
}

// Catalog returns the cached Square catalog.
func (p *Poller) Catalog() CatalogState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.catalog
}

// SetACEnabled toggles AC output on the power station with the given serial
// and refreshes its group so the cache reflects the change.
func (p *Poller) SetACEnabled(ctx context.Context, serialNumber string, enabled, xboost bool) error {
	configs, err := p.db.ListEcoFlowConfigs(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", devices.ErrUnavailable, err)
	}

	var cfg types.EcoFlowConfig
	for _, c := range configs {
		if c.SerialNumber == serialNumber {
			cfg = c
			break
		}
	}
	if cfg.Empty() {
		return devices.ErrNotConfigured
	}

	toInt := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	ctrlCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = devices.NewEcoFlow(cfg, p.timeout).SetQuota(ctrlCtx, 3, "acOutCfg", map[string]interface{}{
		"enabled":     toInt(enabled),
		"xboost":      toInt(xboost),
		"out_voltage": 4294967295,
		"out_freq":    2,
	})
	if err != nil {
		return err
	}

	if _, err := p.TriggerRefresh(ctx, ecoflowGroupID(serialNumber)); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to refresh after ac toggle", slog.Any("error", err))
	}
	return nil
}
