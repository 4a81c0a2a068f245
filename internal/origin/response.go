package origin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zulandar/grabyard/internal/media"
)

// Response is the closed set of upstream envelope shapes. Only the types in
// this file implement it.
type Response interface {
	isResponse()
}

// ErrorResponse is an explicit, well-formed refusal from the origin.
type ErrorResponse struct {
	Code    string
	Context map[string]any
}

// Asset is a single resolved locator as described by the origin.
type Asset struct {
	URL           string
	Filename      string
	Kind          media.Kind // empty when the origin gave no kind
	Audio         string
	AudioFilename string
}

// TunnelResponse is a single asset whose content the origin guarantees.
type TunnelResponse struct{ Asset }

// RedirectResponse is a single asset whose content must be probed.
type RedirectResponse struct{ Asset }

// PickerItem is one candidate in a picker response.
type PickerItem struct {
	Type  string // photo, video, gif
	URL   string
	Thumb string
}

// PickerResponse offers several candidates for one link.
type PickerResponse struct {
	Items         []PickerItem
	Audio         string
	AudioFilename string
}

func (*ErrorResponse) isResponse()    {}
func (*TunnelResponse) isResponse()   {}
func (*RedirectResponse) isResponse() {}
func (*PickerResponse) isResponse()   {}

// errMalformed marks bodies that do not decode into a known envelope.
var errMalformed = errors.New("malformed envelope")

type wireError struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context"`
}

type wirePickerItem struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Thumb string `json:"thumb"`
}

type wireResponse struct {
	Status        string           `json:"status"`
	URL           string           `json:"url"`
	Filename      string           `json:"filename"`
	Type          string           `json:"type"`
	Audio         string           `json:"audio"`
	AudioFilename string           `json:"audioFilename"`
	Picker        []wirePickerItem `json:"picker"`
	Error         *wireError       `json:"error"`
}

// Decode parses an upstream body into one of the Response shapes. Unknown
// statuses and shape violations are reported as malformed.
func Decode(data []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	switch w.Status {
	case "error":
		r := &ErrorResponse{Code: "unknown"}
		if w.Error != nil {
			if w.Error.Code != "" {
				r.Code = w.Error.Code
			}
			r.Context = w.Error.Context
		}
		return r, nil

	case "tunnel", "redirect":
		if w.URL == "" && w.Audio == "" {
			return nil, fmt.Errorf("%w: %s without url", errMalformed, w.Status)
		}
		a := Asset{
			URL:           w.URL,
			Filename:      w.Filename,
			Audio:         w.Audio,
			AudioFilename: w.AudioFilename,
		}
		if k := media.Kind(w.Type); k.Valid() {
			a.Kind = k
		}
		if w.Status == "tunnel" {
			return &TunnelResponse{Asset: a}, nil
		}
		return &RedirectResponse{Asset: a}, nil

	case "picker":
		r := &PickerResponse{Audio: w.Audio, AudioFilename: w.AudioFilename}
		for _, it := range w.Picker {
			r.Items = append(r.Items, PickerItem{Type: it.Type, URL: it.URL, Thumb: it.Thumb})
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: unknown status %q", errMalformed, w.Status)
}
