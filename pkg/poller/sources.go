package poller

import (
	"context"
	"log/slog"

	"github.com/ranchhand/ranchhand/pkg/devices"
	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/types"
)

// YoLinkGroupID is the refresh group for all YoLink devices. YoLink is
// polled as one group because the device list comes from a single home.
const YoLinkGroupID = "yolink"

func ecoflowGroupID(serialNumber string) string {
	return "ecoflow:" + serialNumber
}

// source polls one vendor group.
type source interface {
	groupID() string
	vendor() types.Vendor
	poll(ctx context.Context) ([]types.DeviceState, error)
}

// vendorSources builds the current set of sources from stored configs. It is
// rebuilt every refresh so config changes take effect on the next poll.
func (p *Poller) vendorSources(ctx context.Context) []source {
	sources := []source{&yolinkSource{p: p}}

	configs, err := p.db.ListEcoFlowConfigs(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list ecoflow configs", slog.Any("error", err))
	}
	for _, cfg := range configs {
		sources = append(sources, &ecoflowSource{p: p, cfg: cfg})
	}
	return sources
}

type yolinkSource struct {
	p *Poller
}

func (s *yolinkSource) groupID() string      { return YoLinkGroupID }
func (s *yolinkSource) vendor() types.Vendor { return types.VendorYoLink }

func (s *yolinkSource) poll(ctx context.Context) ([]types.DeviceState, error) {
	cfg, err := s.p.db.GetYoLinkConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Empty() {
		return nil, devices.ErrNotConfigured
	}

	// keep the cached token when the credentials haven't changed
	cached := s.p.yolink.Config()
	if cfg.UAID != cached.UAID || cfg.SecretKey != cached.SecretKey {
		s.p.yolink.SetConfig(cfg)
	}

	states, tokenChanged, err := s.p.yolink.ListDeviceStates(ctx)
	if tokenChanged {
		// persist the refreshed token so a restart doesn't need to
		// re-exchange credentials
		if serr := s.p.db.SetYoLinkConfig(ctx, s.p.yolink.Config()); serr != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist refreshed yolink token", slog.Any("error", serr))
		}
	}
	return states, err
}

type ecoflowSource struct {
	p   *Poller
	cfg types.EcoFlowConfig
}

func (s *ecoflowSource) groupID() string      { return ecoflowGroupID(s.cfg.SerialNumber) }
func (s *ecoflowSource) vendor() types.Vendor { return types.VendorEcoFlow }

func (s *ecoflowSource) poll(ctx context.Context) ([]types.DeviceState, error) {
	ds, err := devices.NewEcoFlow(s.cfg, s.p.timeout).GetDeviceState(ctx)
	if err != nil {
		return nil, err
	}
	return []types.DeviceState{ds}, nil
}

// squareCatalog fetches the catalog with the stored Square credentials.
func (p *Poller) squareCatalog(ctx context.Context) ([]types.CatalogItem, error) {
	cfg, err := p.db.GetSquareConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Empty() {
		return nil, devices.ErrNotConfigured
	}
	return devices.NewSquare(cfg, p.timeout).ListCatalog(ctx)
}
