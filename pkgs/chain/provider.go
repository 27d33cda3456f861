package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"
)

// ProviderPool is an ordered list of RPC endpoints for read operations.
// Each call dials a fresh connection so wallet-bundled RPC caches cannot
// serve stale state; the first endpoint that answers wins.
type ProviderPool struct {
	urls []string
}

// NewProviderPool creates a pool from the given endpoint URLs, skipping blanks.
func NewProviderPool(urls ...string) *ProviderPool {
	pool := &ProviderPool{}
	for _, url := range urls {
		if url != "" {
			pool.urls = append(pool.urls, url)
		}
	}
	return pool
}

// URLs returns the configured endpoints in priority order.
func (p *ProviderPool) URLs() []string {
	return append([]string(nil), p.urls...)
}

// Do runs fn against each endpoint in order until one succeeds.
func (p *ProviderPool) Do(ctx context.Context, fn func(client *ethclient.Client) error) error {
	if len(p.urls) == 0 {
		return fmt.Errorf("no RPC endpoints configured")
	}

	var lastErr error
	for _, url := range p.urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			log.WithField("rpc", url).Debugf("Failed to dial RPC: %v", err)
			lastErr = err
			continue
		}

		err = fn(client)
		client.Close()
		if err == nil {
			return nil
		}

		log.WithField("rpc", url).Debugf("RPC call failed, trying next provider: %v", err)
		lastErr = err
	}

	return lastErr
}
