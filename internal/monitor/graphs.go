package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MediaGroupLimit is the chat transport's cap on images per album.
const MediaGroupLimit = 10

// GraphFetcher pulls rendered service graphs from the site's web UI
// (ajax_graph_images.py returns a JSON array of base64 PNGs).
type GraphFetcher struct {
	httpClient *http.Client
	baseURL    string
	site       string
}

func NewGraphFetcher(httpClient *http.Client, baseURL, site string) (*GraphFetcher, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing web base url")
	}
	site = strings.TrimSpace(site)
	if site == "" {
		return nil, fmt.Errorf("missing site name")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GraphFetcher{httpClient: httpClient, baseURL: baseURL, site: site}, nil
}

func (f *GraphFetcher) FetchGraphs(ctx context.Context, host, service string) ([][]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("nil graph fetcher")
	}
	endpoint := fmt.Sprintf("%s/%s/check_mk/ajax_graph_images.py?host=%s&service=%s",
		f.baseURL, url.PathEscape(f.site),
		url.QueryEscape(host), url.QueryEscape(service))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("graph fetch http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var encoded []string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("graph fetch decode: %w", err)
	}
	images := make([][]byte, 0, len(encoded))
	for i, enc := range encoded {
		img, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("graph fetch image %d: %w", i, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// ChunkGraphs splits images into albums the transport will accept.
func ChunkGraphs(images [][]byte, limit int) [][][]byte {
	if limit <= 0 {
		limit = MediaGroupLimit
	}
	var chunks [][][]byte
	for len(images) > 0 {
		n := limit
		if len(images) < n {
			n = len(images)
		}
		chunks = append(chunks, images[:n])
		images = images[n:]
	}
	return chunks
}
