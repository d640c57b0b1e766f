package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/pkg/types"
)

// tabListTimeout bounds one endpoint query.
const tabListTimeout = 3 * time.Second

// debuggerTab is the JSON shape returned by a remote-debugging endpoint's
// /json listing.
type debuggerTab struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ListTabs queries each remote-debugging endpoint for its open page tabs.
// Endpoints that cannot be reached contribute a diagnostic note instead of
// failing the whole listing.
func ListTabs(ctx context.Context, endpoints []string) ([]types.Tab, []string) {
	client := &http.Client{Timeout: tabListTimeout}

	var tabs []types.Tab
	var notes []string
	for _, endpoint := range endpoints {
		listed, err := listEndpoint(ctx, client, endpoint)
		if err != nil {
			notes = append(notes, fmt.Sprintf("endpoint %s unavailable: %v", endpoint, err))
			continue
		}
		tabs = append(tabs, listed...)
	}
	return tabs, notes
}

func listEndpoint(ctx context.Context, client *http.Client, endpoint string) ([]types.Tab, error) {
	url := strings.TrimSuffix(endpoint, "/") + "/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var listed []debuggerTab
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		return nil, err
	}

	var tabs []types.Tab
	for _, dt := range listed {
		if dt.Type != "" && dt.Type != "page" {
			continue
		}
		tabs = append(tabs, types.Tab{
			ID:       dt.ID,
			Title:    dt.Title,
			URL:      dt.URL,
			WSURL:    dt.WebSocketDebuggerURL,
			Endpoint: endpoint,
			Source:   "debugger",
		})
	}
	return tabs, nil
}

// MergeTabs deduplicates tabs from independent discovery mechanisms,
// preferring entries that carry a websocket debugger URL.
func MergeTabs(lists ...[]types.Tab) []types.Tab {
	seen := make(map[string]int)
	var merged []types.Tab
	for _, list := range lists {
		for _, tab := range list {
			key := tab.URL
			if key == "" {
				key = tab.ID
			}
			if idx, ok := seen[key]; ok {
				if merged[idx].WSURL == "" && tab.WSURL != "" {
					merged[idx] = tab
				}
				continue
			}
			seen[key] = len(merged)
			merged = append(merged, tab)
		}
	}
	return merged
}
