package media

import "testing"

func TestInferKind(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"clip.mp4", KindVideo},
		{"CLIP.MKV", KindVideo},
		{"pic.jpeg", KindPhoto},
		{"pic.webp", KindPhoto},
		{"loop.gif", KindGIF},
		{"song.flac", KindAudio},
		{"archive.zip", KindFile},
		{"file", KindFile},
		{"", KindFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferKind(tt.name); got != tt.want {
				t.Errorf("InferKind(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://cdn.example.com/a/b/video.mp4?sig=1", "video.mp4"},
		{"https://cdn.example.com/a/b/stream", "file"},
		{"https://cdn.example.com/", "file"},
		{"://bad", "file"},
	}
	for _, tt := range tests {
		if got := FilenameFromURL(tt.raw); got != tt.want {
			t.Errorf("FilenameFromURL(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestResolvedCounters(t *testing.T) {
	r := Resolved{Items: make([]Descriptor, 3), Attempted: 5, Failed: 2}
	if r.Succeeded() != 3 {
		t.Errorf("Succeeded = %d, want 3", r.Succeeded())
	}
	if !r.OK() {
		t.Error("expected OK")
	}
	if !r.Partial() {
		t.Error("expected Partial")
	}

	empty := Resolved{Attempted: 2, Failed: 2}
	if empty.OK() || empty.Partial() {
		t.Error("all-failed result must be neither OK nor Partial")
	}

	full := Resolved{Items: make([]Descriptor, 1), Attempted: 1}
	if !full.OK() || full.Partial() {
		t.Error("single success must be OK and not Partial")
	}
}
