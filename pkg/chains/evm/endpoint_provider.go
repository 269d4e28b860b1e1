package evm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sigweihq/purchasegate/pkg/constants"
	"github.com/sigweihq/purchasegate/pkg/utils"
)

// EndpointSource supplies the RPC endpoints of a network in failover order
type EndpointSource interface {
	GetEndpoints(network string) []string
}

// HealthChecker probes a single RPC endpoint
type HealthChecker interface {
	IsHealthy(ctx context.Context, endpoint string) bool
}

// StaticEndpoints serves the same endpoint list for every network
type StaticEndpoints []string

func (s StaticEndpoints) GetEndpoints(string) []string {
	return s
}

// EndpointProvider holds the configured RPC endpoints per network and
// performs health checks to prioritize reliable endpoints
type EndpointProvider struct {
	configured map[int64][]string // chainID -> configured rpc urls
	endpoints  map[int64][]string // chainID -> prioritized rpc urls
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewEndpointProvider validates the configured endpoints of each network.
// Networks without configured endpoints fall back to the official ones.
func NewEndpointProvider(configured map[string][]string, logger *slog.Logger) (*EndpointProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &EndpointProvider{
		configured: make(map[int64][]string),
		endpoints:  make(map[int64][]string),
		logger:     logger,
	}

	for network, endpoints := range configured {
		chainID, ok := constants.NetworkToChainID[network]
		if !ok {
			return nil, &UnsupportedNetworkError{Network: network}
		}
		for _, endpoint := range endpoints {
			if err := utils.ValidateRPCURL(endpoint); err != nil {
				return nil, fmt.Errorf("network %s: %w", network, err)
			}
		}
		p.configured[chainID] = append([]string(nil), endpoints...)
		p.endpoints[chainID] = append([]string(nil), endpoints...)
	}

	return p, nil
}

// GetEndpoints implements EndpointSource
func (p *EndpointProvider) GetEndpoints(network string) []string {
	chainID, ok := constants.NetworkToChainID[network]
	if !ok {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	endpoints := p.endpoints[chainID]
	if len(endpoints) == 0 {
		// Fallback to official endpoints if none were configured
		return constants.OfficialRPCEndpoints[network]
	}

	return endpoints
}

// RefreshEndpoints health-checks every configured endpoint and moves healthy
// ones to the front. Unhealthy endpoints stay as backup.
func (p *EndpointProvider) RefreshEndpoints(ctx context.Context, checker HealthChecker) {
	p.mu.RLock()
	snapshot := make(map[int64][]string, len(p.configured))
	for chainID, endpoints := range p.configured {
		snapshot[chainID] = endpoints
	}
	p.mu.RUnlock()

	// Probe without holding the lock so lookups are never blocked on the network.
	prioritized := make(map[int64][]string, len(snapshot))
	for chainID, endpoints := range snapshot {
		if len(endpoints) == 0 {
			continue
		}

		var healthyEndpoints, unhealthyEndpoints []string
		for _, endpoint := range endpoints {
			if ctx.Err() != nil {
				return
			}
			if checker.IsHealthy(ctx, endpoint) {
				healthyEndpoints = append(healthyEndpoints, endpoint)
			} else {
				unhealthyEndpoints = append(unhealthyEndpoints, endpoint)
			}
		}

		prioritized[chainID] = append(healthyEndpoints, unhealthyEndpoints...)

		p.logger.Debug("health check complete",
			"chainID", chainID,
			"healthy", len(healthyEndpoints),
			"unhealthy", len(unhealthyEndpoints))
		if len(healthyEndpoints) == 0 {
			p.logger.Warn("no healthy RPC endpoints", "chainID", chainID, "configured", len(endpoints))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for chainID, endpoints := range prioritized {
		p.endpoints[chainID] = endpoints
	}
}

// StartBackgroundRefresh runs an initial health check and then refreshes every
// interval until ctx is done
func (p *EndpointProvider) StartBackgroundRefresh(ctx context.Context, checker HealthChecker, interval time.Duration) {
	go func() {
		p.RefreshEndpoints(ctx, checker)
		if interval <= 0 {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RefreshEndpoints(ctx, checker)
			}
		}
	}()
}
