package mediacache

import (
	"context"
	"time"

	"github.com/blobworks/mediavault/internal/channel/client"
)

const defaultFetchTimeout = 30 * time.Second

// ChannelFetcher satisfies DataFetcher by pulling inline-tier bytes over the
// persistent channel. Completions are delivered back to the bound manager.
type ChannelFetcher struct {
	client  *client.Client
	manager *Manager
	timeout time.Duration
}

// NewChannelFetcher constructs a fetcher over an established channel client.
func NewChannelFetcher(c *client.Client, timeout time.Duration) *ChannelFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &ChannelFetcher{client: c, timeout: timeout}
}

// Bind attaches the manager that receives fetch completions. Must be called
// before the first RequestData.
func (f *ChannelFetcher) Bind(m *Manager) {
	f.manager = m
}

// RequestData issues the fetch on its own goroutine so the cache loop never
// blocks on the network.
func (f *ChannelFetcher) RequestData(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()

		payload, err := f.client.GetData(ctx, id)
		if err != nil {
			f.manager.HandleError(id, err)
			return
		}
		f.manager.HandleData(id, payload.Data, payload.Mime)
	}()
}
