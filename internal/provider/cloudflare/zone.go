package cloudflare

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cloudflare/cloudflare-go"
	"github.com/evanofslack/cf-ddns-sync/internal/config"
	"github.com/evanofslack/cf-ddns-sync/internal/metrics"
)

// ZoneIDByName looks up the id of a zone by its name, for configs that give
// zone_name instead of zone_id.
func ZoneIDByName(cfg *config.Config, client *http.Client, metrics *metrics.Metrics, name string) (string, error) {
	api, err := cloudflare.NewWithAPIToken(cfg.AuthKey,
		cloudflare.BaseURL(strings.TrimSuffix(cfg.APIURL, "/")),
		cloudflare.HTTPClient(client),
		cloudflare.Headers(http.Header{"X-Auth-Email": []string{cfg.AuthEmail}}),
		cloudflare.UsingRetryPolicy(0, 0, 0),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create Cloudflare client: %w", err)
	}

	id, err := api.ZoneIDByName(name)
	if err != nil {
		metrics.IncDNSRequest("zone", name, false)
		return "", fmt.Errorf("failed to get zone ID for %s: %w", name, err)
	}
	metrics.IncDNSRequest("zone", name, true)
	slog.Debug("Resolved zone", "name", name, "id", id)
	return id, nil
}
