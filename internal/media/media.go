// Package media defines the uniform media descriptors produced by the
// resolution pipeline and consumed by delivery.
package media

import (
	"net/url"
	"path"
	"strings"
)

// Kind is the declared kind of a resolved asset.
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
	KindGIF   Kind = "gif" // animated image
	KindAudio Kind = "audio"
	KindFile  Kind = "file" // generic file
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPhoto, KindVideo, KindGIF, KindAudio, KindFile:
		return true
	}
	return false
}

// Descriptor is a single resolved asset.
type Descriptor struct {
	URL       string // source locator
	Thumbnail string // optional thumbnail locator
	Kind      Kind
	Filename  string
}

// Resolved is the normalized result of resolving one link.
//
// Attempted counts candidate items; Failed counts items rejected by
// validation or processing. Items holds only the survivors, in upstream order.
type Resolved struct {
	Items     []Descriptor
	Attempted int
	Failed    int
}

// Succeeded is Attempted - Failed.
func (r Resolved) Succeeded() int {
	return r.Attempted - r.Failed
}

// OK reports whether at least one item survived.
func (r Resolved) OK() bool {
	return r.Succeeded() > 0
}

// Partial reports whether some, but not all, items survived.
func (r Resolved) Partial() bool {
	return r.Succeeded() > 0 && r.Failed > 0
}

// Extension tables used for kind inference. Order matters only in that
// video is checked before images and images before audio.
var (
	videoExts = []string{".mp4", ".mov", ".avi", ".webm", ".mkv", ".flv"}
	imageExts = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp", ".tiff"}
	audioExts = []string{".mp3", ".m4a", ".ogg", ".wav", ".flac", ".aac"}
)

// InferKind classifies a filename by extension. Unrecognized or missing
// extensions classify as KindFile.
func InferKind(filename string) Kind {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return KindFile
	}
	switch {
	case contains(videoExts, ext):
		return KindVideo
	case ext == ".gif":
		return KindGIF
	case contains(imageExts, ext):
		return KindPhoto
	case contains(audioExts, ext):
		return KindAudio
	}
	return KindFile
}

// FilenameFromURL returns the last path segment of raw when it carries an
// extension, otherwise "file".
func FilenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "file"
	}
	seg := path.Base(u.Path)
	if seg == "." || seg == "/" || !strings.Contains(seg, ".") {
		return "file"
	}
	return seg
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
