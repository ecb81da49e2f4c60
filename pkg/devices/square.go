package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ranchhand/ranchhand/pkg/common"
	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/types"
)

const squareAPIVersion = "2024-01-18"

// Square lists the merchant catalog via the Square Connect API.
type Square struct {
	client  *http.Client
	baseURL string
	cfg     types.SquareConfig
}

// NewSquare returns a client against the environment named in cfg
// (production by default, sandbox when configured).
func NewSquare(cfg types.SquareConfig, timeout time.Duration) *Square {
	baseURL := "https://connect.squareup.com/v2"
	if cfg.Environment == types.SquareEnvironmentSandbox {
		baseURL = "https://connect.squareupsandbox.com/v2"
	}
	return &Square{
		client:  common.HTTPClient(timeout),
		baseURL: baseURL,
		cfg:     cfg,
	}
}

type squareCatalogObject struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	ItemData struct {
		Name       string                `json:"name"`
		Variations []squareCatalogObject `json:"variations"`
	} `json:"item_data"`
	ItemVariationData struct {
		Name       string `json:"name"`
		PriceMoney struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"price_money"`
	} `json:"item_variation_data"`
}

type squareCatalogListResult struct {
	Objects []squareCatalogObject `json:"objects"`
	Cursor  string                `json:"cursor"`
	Errors  []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
	} `json:"errors"`
}

// ListCatalog fetches every catalog item, following pagination cursors.
func (s *Square) ListCatalog(ctx context.Context) ([]types.CatalogItem, error) {
	if s.cfg.Empty() {
		return nil, ErrNotConfigured
	}

	var items []types.CatalogItem
	cursor := ""
	for {
		params := url.Values{}
		params.Set("types", "ITEM")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/catalog/list?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
		req.Header.Set("Square-Version", squareAPIVersion)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		var res squareCatalogListResult
		err = json.NewDecoder(resp.Body).Decode(&res)
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: square returned status %d", ErrUnauthorized, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: square returned status %d", ErrUnavailable, resp.StatusCode)
		}
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode square response", slog.Any("error", err))
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if len(res.Errors) > 0 {
			e := res.Errors[0]
			log.Ctx(ctx).WarnContext(ctx, "square api error", slog.String("code", e.Code), slog.String("detail", e.Detail))
			return nil, fmt.Errorf("%w: square error %s: %s", ErrUnavailable, e.Code, e.Detail)
		}

		for _, obj := range res.Objects {
			if obj.Type != "ITEM" {
				continue
			}
			item := types.CatalogItem{
				ID:   obj.ID,
				Name: obj.ItemData.Name,
			}
			for _, v := range obj.ItemData.Variations {
				item.Variations = append(item.Variations, types.CatalogVariation{
					ID:         v.ID,
					Name:       v.ItemVariationData.Name,
					PriceCents: v.ItemVariationData.PriceMoney.Amount,
					Currency:   v.ItemVariationData.PriceMoney.Currency,
				})
			}
			items = append(items, item)
		}

		if res.Cursor == "" {
			break
		}
		cursor = res.Cursor
	}

	log.Ctx(ctx).DebugContext(ctx, "listed square catalog", slog.Int("items", len(items)))
	return items, nil
}
