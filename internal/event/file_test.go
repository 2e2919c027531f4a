package event

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFileIDDeterministic verifies the id is a pure function of the path.
func TestFileIDDeterministic(t *testing.T) {
	t.Parallel()

	require.Equal(t, FileID("/tmp/a.pdf"), FileID("/tmp/a.pdf"))
	require.NotEqual(t, FileID("/tmp/a.pdf"), FileID("/tmp/b.pdf"))
}

// TestDescriptorMarkdownDefaults covers the md special case: no declared
// MIME yields text/markdown and the file is previewable.
func TestDescriptorMarkdownDefaults(t *testing.T) {
	t.Parallel()

	now := time.Now()
	desc := NewFileDescriptor(FileInput{Path: "/tmp/x.md"}, "/tmp", now)
	require.Equal(t, "text/markdown", desc.MIME)
	require.True(t, desc.Previewable)
	require.Equal(t, "md", desc.Extension)
	require.Equal(t, "x.md", desc.Name)
	require.Equal(t, FileID("/tmp/x.md"), desc.ID)
	require.Equal(t, now, desc.DownloadedAt)
}

// TestDescriptorStatFallback fills a missing size from the filesystem, and 0
// when the file does not exist.
func TestDescriptorStatFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	desc := NewFileDescriptor(FileInput{Path: path}, dir, time.Now())
	require.Equal(t, int64(11), desc.SizeBytes)
	require.NotEmpty(t, desc.SizeHuman)
	require.Equal(t, "notes.txt", desc.RelativePath)

	missing := NewFileDescriptor(FileInput{Path: filepath.Join(dir, "gone.bin")}, dir, time.Now())
	require.Equal(t, int64(0), missing.SizeBytes)
}

// TestDescriptorDeclaredFieldsWin verifies worker-declared attributes are
// passed through untouched.
func TestDescriptorDeclaredFieldsWin(t *testing.T) {
	t.Parallel()

	desc := NewFileDescriptor(FileInput{
		Path:         "/data/section 1/slides.pdf",
		Name:         "Slides",
		RelativePath: "section 1/slides.pdf",
		SectionPath:  "Section 1",
		SizeBytes:    2048,
		SizeHuman:    "2 KB",
		MIME:         "application/pdf",
		ResourceName: "Lecture slides",
		SourceURL:    "https://example.test/slides",
	}, "/data", time.Now())

	require.Equal(t, "Slides", desc.Name)
	require.Equal(t, int64(2048), desc.SizeBytes)
	require.Equal(t, "2 KB", desc.SizeHuman)
	require.Equal(t, "application/pdf", desc.MIME)
	require.True(t, desc.Previewable)
	require.Equal(t, "Lecture slides", desc.ResourceName)
	require.Equal(t, "https://example.test/slides", desc.SourceURL)
}

// TestDescriptorPreviewability exercises the MIME and extension whitelists.
func TestDescriptorPreviewability(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		in          FileInput
		previewable bool
	}{
		{"image", FileInput{Path: "/d/p.png", MIME: "image/png"}, true},
		{"json", FileInput{Path: "/d/p.json", MIME: "application/json"}, true},
		{"csv", FileInput{Path: "/d/p.csv", MIME: "text/csv"}, true},
		{"zip", FileInput{Path: "/d/p.zip", MIME: "application/zip"}, false},
		{"unknown mime txt ext", FileInput{Path: "/d/p.weird", Extension: "txt"}, true},
		{"unknown everything", FileInput{Path: "/d/p.weird", Extension: "weird"}, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			desc := NewFileDescriptor(tc.in, "/d", time.Now())
			require.Equal(t, tc.previewable, desc.Previewable)
		})
	}
}

// TestDescriptorUnknownTypeDefaultsToBinary checks the generic fallback MIME.
func TestDescriptorUnknownTypeDefaultsToBinary(t *testing.T) {
	t.Parallel()

	desc := NewFileDescriptor(FileInput{Path: "/d/p.weird", Extension: "weird"}, "/d", time.Now())
	require.Equal(t, "application/octet-stream", desc.MIME)
}
