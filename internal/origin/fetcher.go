package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 1 << 20

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher sends one resolution request to one mirror. It returns a Response
// only for well-formed envelopes; every other failure is a transport error.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, payload Payload) (Response, error)
}

// Mode selects what the origin should extract.
type Mode int

const (
	ModeDefault Mode = iota
	ModeAudio
)

func (m Mode) String() string {
	if m == ModeAudio {
		return "audio"
	}
	return "auto"
}

// ParseMode maps a control value to a Mode. Unknown values map to ModeDefault.
func ParseMode(s string) Mode {
	if s == "audio" {
		return ModeAudio
	}
	return ModeDefault
}

// Payload is the request body sent to every mirror.
type Payload struct {
	URL             string `json:"url"`
	AudioBitrate    string `json:"audioBitrate"`
	TiktokFullAudio bool   `json:"tiktokFullAudio"`
	DisableMetadata bool   `json:"disableMetadata"`
	FilenameStyle   string `json:"filenameStyle"`
	DownloadMode    string `json:"downloadMode,omitempty"`
}

// NewPayload builds the request body for link in mode.
func NewPayload(link string, mode Mode) Payload {
	p := Payload{
		URL:             link,
		AudioBitrate:    "320",
		TiktokFullAudio: true,
		FilenameStyle:   "nerdy",
	}
	if mode == ModeAudio {
		p.DownloadMode = "audio"
	}
	return p
}

// NewHTTPClient returns a client whose transport is traced.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// HTTPFetcher posts JSON payloads to mirror endpoints.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client uses NewHTTPClient.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = NewHTTPClient()
	}
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher. The HTTP status code is ignored: origins answer
// refusals with 4xx and a well-formed error envelope.
func (f *HTTPFetcher) Fetch(ctx context.Context, endpoint string, payload Payload) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Mirror: endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Mirror: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Mirror: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Mirror: endpoint, Err: err}
	}
	r, err := Decode(data)
	if err != nil {
		return nil, &TransportError{Mirror: endpoint, Err: fmt.Errorf("status %d: %w", resp.StatusCode, err)}
	}
	return r, nil
}
