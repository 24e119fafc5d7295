package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func drain(ch <-chan Result) []Result {
	var out []Result
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestCrawl_ClassifiesNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jpg", "fake-jpeg-bytes")
	writeFile(t, dir, "notes.txt", "not a photo")

	c, err := New()
	require.NoError(t, err)

	results := drain(c.Crawl(context.Background(), Options{Roots: []string{dir}}))

	var photoResults []Result
	for _, r := range results {
		if r.Err == nil && filepath.Ext(r.Path) == ".jpg" {
			photoResults = append(photoResults, r)
		}
	}
	require.Len(t, photoResults, 1)
	require.Equal(t, ClassificationNew, photoResults[0].Classification)
	require.NotEmpty(t, photoResults[0].SHA1)
}

func TestCrawl_IgnoresNonAllowedExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readme.md", "hello")

	c, err := New()
	require.NoError(t, err)
	results := drain(c.Crawl(context.Background(), Options{Roots: []string{dir}}))
	require.Empty(t, results)
}

func TestCrawl_ClassifiesUnchangedWhenSizeAndMtimeMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.png", "stable-content")
	info, err := os.Stat(path)
	require.NoError(t, err)

	known := map[string]KnownPhoto{
		path: {ModifiedAtUnix: info.ModTime().Unix(), SizeBytes: info.Size()},
	}

	c, err := New()
	require.NoError(t, err)
	results := drain(c.Crawl(context.Background(), Options{Roots: []string{dir}, Known: known}))

	require.Len(t, results, 1)
	require.Equal(t, ClassificationUnchanged, results[0].Classification)
	require.Empty(t, results[0].SHA1, "unchanged files should skip re-hashing")
}

func TestCrawl_ClassifiesModifiedWhenSizeDiffers(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.png", "short")

	known := map[string]KnownPhoto{
		path: {ModifiedAtUnix: time.Now().Add(-time.Hour).Unix(), SizeBytes: 999999},
	}

	c, err := New()
	require.NoError(t, err)
	results := drain(c.Crawl(context.Background(), Options{Roots: []string{dir}, Known: known}))

	require.Len(t, results, 1)
	require.Equal(t, ClassificationModified, results[0].Classification)
}

func TestCrawl_EmitsDeletedForVanishedKnownPaths(t *testing.T) {
	dir := t.TempDir()
	vanished := filepath.Join(dir, "gone.jpg")

	known := map[string]KnownPhoto{vanished: {ModifiedAtUnix: 1, SizeBytes: 1}}

	c, err := New()
	require.NoError(t, err)
	results := drain(c.Crawl(context.Background(), Options{Roots: []string{dir}, Known: known}))

	require.Len(t, results, 1)
	require.Equal(t, ClassificationDeleted, results[0].Classification)
	require.Equal(t, vanished, results[0].Path)
}

func TestCrawl_AccumulatesErrorsWithoutAborting(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	results := drain(c.Crawl(context.Background(), Options{Roots: []string{"/nonexistent-root-xyz"}}))

	require.NotEmpty(t, results)
	require.Error(t, results[0].Err)
}
