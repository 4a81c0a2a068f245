package origin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/grabyard/internal/media"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Response
	}{
		{
			name: "error",
			body: `{"status":"error","error":{"code":"error.api.link.invalid","context":{"service":"x"}}}`,
			want: &ErrorResponse{Code: "error.api.link.invalid", Context: map[string]any{"service": "x"}},
		},
		{
			name: "error without code",
			body: `{"status":"error"}`,
			want: &ErrorResponse{Code: "unknown"},
		},
		{
			name: "tunnel",
			body: `{"status":"tunnel","url":"https://t/1","filename":"a.mp4"}`,
			want: &TunnelResponse{Asset{URL: "https://t/1", Filename: "a.mp4"}},
		},
		{
			name: "redirect with type",
			body: `{"status":"redirect","url":"https://r/1","type":"photo"}`,
			want: &RedirectResponse{Asset{URL: "https://r/1", Kind: media.KindPhoto}},
		},
		{
			name: "picker",
			body: `{"status":"picker","audio":"https://a","picker":[{"type":"photo","url":"https://p/1","thumb":"https://p/t"}]}`,
			want: &PickerResponse{Audio: "https://a", Items: []PickerItem{{Type: "photo", URL: "https://p/1", Thumb: "https://p/t"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"status":"stream"}`,
		`{"status":"tunnel"}`,
		``,
	} {
		_, err := Decode([]byte(body))
		assert.ErrorIs(t, err, errMalformed, "body %q", body)
	}
}

func TestHTTPFetcher_SendsPayload(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"status":"tunnel","url":"https://t/1"}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	resp, err := f.Fetch(context.Background(), srv.URL, NewPayload("https://example.com/v/1", ModeAudio))
	require.NoError(t, err)
	assert.IsType(t, &TunnelResponse{}, resp)

	assert.Equal(t, Payload{
		URL:             "https://example.com/v/1",
		AudioBitrate:    "320",
		TiktokFullAudio: true,
		FilenameStyle:   "nerdy",
		DownloadMode:    "audio",
	}, got)
}

func TestHTTPFetcher_ErrorStatusWithEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","error":{"code":"error.api.link.invalid"}}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPFetcher(srv.Client()).Fetch(context.Background(), srv.URL, NewPayload("x", ModeDefault))
	require.NoError(t, err)
	assert.Equal(t, &ErrorResponse{Code: "error.api.link.invalid"}, resp)
}

func TestHTTPFetcher_TransportErrors(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer bad.Close()

	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	f := NewHTTPFetcher(nil)
	for _, endpoint := range []string{bad.URL, closedURL} {
		_, err := f.Fetch(context.Background(), endpoint, NewPayload("x", ModeDefault))
		assert.True(t, IsTransport(err), "endpoint %s: %v", endpoint, err)
	}
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeAudio, ParseMode("audio"))
	assert.Equal(t, ModeDefault, ParseMode("auto"))
	assert.Equal(t, ModeDefault, ParseMode(""))
	assert.Equal(t, "audio", ModeAudio.String())
	assert.Equal(t, "auto", ModeDefault.String())
}
