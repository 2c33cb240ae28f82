// Package discovery periodically re-scans the configured listener
// endpoints, decides which remote sessions are new, unchanged, or gone,
// and maintains the session registry accordingly.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Advertisement is one record from a listener endpoint's list reply.
type Advertisement struct {
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// listEndpoint fetches one endpoint's advertisement list. Any network
// error or malformed payload yields zero candidates; a flaky endpoint
// never fails the cycle.
func (r *Reconciler) listEndpoint(ctx context.Context, endpoint string) []Advertisement {
	url := endpoint
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/") + "/json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("bad listener endpoint")
		return nil
	}

	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("listener endpoint unreachable")
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("listener endpoint refused list")
		return nil
	}

	var ads []Advertisement
	if err := json.NewDecoder(resp.Body).Decode(&ads); err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("malformed advertisement list")
		return nil
	}
	return ads
}

// listCandidates queries all configured endpoints in parallel and filters
// the advertisements down to recognizable main windows.
func (r *Reconciler) listCandidates(ctx context.Context) []Advertisement {
	listCtx, cancel := context.WithTimeout(ctx, r.cfg.ListTimeout)
	defer cancel()

	var mu sync.Mutex
	var all []Advertisement
	var wg sync.WaitGroup
	for _, endpoint := range r.cfg.Endpoints {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			ads := r.listEndpoint(listCtx, endpoint)
			mu.Lock()
			all = append(all, ads...)
			mu.Unlock()
		}(endpoint)
	}
	wg.Wait()

	candidates := make([]Advertisement, 0, len(all))
	for _, ad := range all {
		if r.recognize(ad) {
			candidates = append(candidates, ad)
		}
	}
	return candidates
}

// recognize filters advertisements to the target application's main
// window by URL or title substring.
func (r *Reconciler) recognize(ad Advertisement) bool {
	if ad.WebSocketDebuggerURL == "" {
		return false
	}
	if len(r.cfg.Match) == 0 {
		return true
	}
	for _, m := range r.cfg.Match {
		if strings.Contains(ad.URL, m) || strings.Contains(ad.Title, m) {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer for log output.
func (a Advertisement) String() string {
	return fmt.Sprintf("%s (%s)", a.Title, a.URL)
}
