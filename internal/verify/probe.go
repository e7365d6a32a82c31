package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Prober waits for an HTTP server to answer on addr.
type Prober interface {
	WaitReachable(ctx context.Context, addr string, timeout time.Duration) error
}

type httpProber struct {
	client   *http.Client
	interval time.Duration
}

// HTTPProber treats any HTTP response, including 404, as reachable.
func HTTPProber(client *http.Client) Prober {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return httpProber{client: client, interval: 250 * time.Millisecond}
}

func (p httpProber) WaitReachable(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	url := "http://" + addr + "/"
	var lastErr error
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := p.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s unreachable: %w", addr, lastErr)
		case <-time.After(p.interval):
		}
	}
}
