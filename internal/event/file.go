package event

import (
	"encoding/base64"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// FileDescriptor describes one downloaded file in the registry.
type FileDescriptor struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RelativePath string    `json:"relativePath"`
	SectionPath  string    `json:"sectionPath"`
	SizeBytes    int64     `json:"sizeBytes"`
	SizeHuman    string    `json:"sizeHuman"`
	Extension    string    `json:"extension"`
	MIME         string    `json:"mime"`
	Previewable  bool      `json:"previewable"`
	ResourceName string    `json:"resourceName,omitempty"`
	SourceURL    string    `json:"url,omitempty"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// FileInput is the raw download payload emitted by the worker. Path is the
// only required field; everything else is derived when absent.
type FileInput struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	RelativePath string `json:"relativePath"`
	SectionPath  string `json:"sectionPath"`
	SizeBytes    int64  `json:"sizeBytes"`
	SizeHuman    string `json:"sizeHuman"`
	Extension    string `json:"extension"`
	MIME         string `json:"mime"`
	ResourceName string `json:"resourceName"`
	SourceURL    string `json:"url"`
	DownloadedAt string `json:"downloadedAt"`
}

// MIME types rendered inline by the dashboard in addition to images and PDFs.
var textPreviewMIMEs = map[string]struct{}{
	"text/plain":       {},
	"text/markdown":    {},
	"text/csv":         {},
	"application/json": {},
	"application/xml":  {},
}

var previewExtensions = map[string]struct{}{
	"pdf": {}, "txt": {}, "md": {}, "json": {}, "csv": {},
}

// FileID derives the opaque registry identifier for a file path. It is a pure
// function of the path, so re-registering a path yields the same id.
func FileID(path string) string {
	return base64.URLEncoding.EncodeToString([]byte(path))
}

// NewFileDescriptor builds a FileDescriptor from a worker payload, filling
// gaps from the filesystem: missing sizes are stat'ed (0 when that fails),
// missing MIME types are guessed from the extension with a content sniff as
// last resort, and previewability follows the MIME/extension whitelists.
func NewFileDescriptor(in FileInput, baseDir string, now time.Time) FileDescriptor {
	size := in.SizeBytes
	if size <= 0 {
		if info, err := os.Stat(in.Path); err == nil {
			size = info.Size()
		} else {
			size = 0
		}
	}

	rel := in.RelativePath
	if rel == "" {
		if r, err := filepath.Rel(baseDir, in.Path); err == nil {
			rel = r
		} else {
			rel = in.Path
		}
	}
	rel = filepath.ToSlash(rel)
	section := filepath.ToSlash(in.SectionPath)

	ext := strings.ToLower(in.Extension)
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(in.Path), "."))
	}

	mimeType := in.MIME
	if mimeType == "" {
		mimeType = guessMIME(in.Path, ext)
	}

	previewable := false
	switch {
	case mimeType != "":
		_, textLike := textPreviewMIMEs[mimeType]
		previewable = strings.HasPrefix(mimeType, "image/") || mimeType == "application/pdf" || textLike
	case ext != "":
		_, previewable = previewExtensions[ext]
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	name := in.Name
	if name == "" {
		name = filepath.Base(in.Path)
	}

	downloadedAt := now
	if in.DownloadedAt != "" {
		if ts, err := time.Parse(time.RFC3339, in.DownloadedAt); err == nil {
			downloadedAt = ts
		}
	}

	sizeHuman := in.SizeHuman
	if sizeHuman == "" {
		sizeHuman = humanize.IBytes(uint64(size))
	}

	return FileDescriptor{
		ID:           FileID(in.Path),
		Name:         name,
		RelativePath: rel,
		SectionPath:  section,
		SizeBytes:    size,
		SizeHuman:    sizeHuman,
		Extension:    ext,
		MIME:         mimeType,
		Previewable:  previewable,
		ResourceName: in.ResourceName,
		SourceURL:    in.SourceURL,
		DownloadedAt: downloadedAt,
	}
}

func guessMIME(path, ext string) string {
	if ext == "md" {
		return "text/markdown"
	}
	if ext != "" {
		if byExt := mime.TypeByExtension("." + ext); byExt != "" {
			return stripParams(byExt)
		}
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		return stripParams(mt.String())
	}
	return ""
}

func stripParams(mimeType string) string {
	media, _, _ := strings.Cut(mimeType, ";")
	return strings.TrimSpace(media)
}
