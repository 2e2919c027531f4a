package supervisor

import "strconv"

// RunRequest carries the recognized run options. Unknown fields submitted by
// clients are ignored at decode time.
type RunRequest struct {
	OutputDir              string `json:"outputDir"`
	DownloadMode           string `json:"downloadMode"`
	MaxConcurrentDownloads int    `json:"maxConcurrentDownloads"`
	KeepBrowserOpen        bool   `json:"keepBrowserOpen"`
	EnableNotifications    bool   `json:"enableNotifications"`
	ManualDownload         bool   `json:"manualDownload"`
	CourseURL              string `json:"courseUrl"`
}

// BuildArgs translates a run request into the worker's command-line flags.
func BuildArgs(req RunRequest) []string {
	var args []string
	if req.OutputDir != "" {
		args = append(args, "--outputDir", req.OutputDir)
	}
	if req.DownloadMode != "" {
		args = append(args, "--downloadMode", req.DownloadMode)
	}
	if req.MaxConcurrentDownloads > 0 {
		args = append(args, "--maxConcurrentDownloads", strconv.Itoa(req.MaxConcurrentDownloads))
	}
	if req.KeepBrowserOpen {
		args = append(args, "--keepBrowserOpen")
	}
	if req.EnableNotifications {
		args = append(args, "--enableNotifications")
	}
	if req.ManualDownload {
		args = append(args, "--manualDownload")
	}
	if req.CourseURL != "" {
		args = append(args, "--courseUrl", req.CourseURL)
	}
	return args
}
