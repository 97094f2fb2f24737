package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/folio/internal/pipeline"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	api.DisableConfigDir()
	os.Exit(m.Run())
}

func TestRootCommandWritesPDF(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "01.png"))
	writeTestPNG(t, filepath.Join(dir, "02.PNG"))
	out := filepath.Join(t.TempDir(), "book.pdf")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{dir, out, "--quiet"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "PDF created: "+out)

	pages, err := api.PageCountFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestRootCommandEmptyFolder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "book.pdf")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{t.TempDir(), out})

	err := cmd.Execute()
	require.ErrorIs(t, err, pipeline.ErrNoImagesFound)
	assert.Contains(t, stderr.String(), "no images found in the folder")
	assert.NotContains(t, stdout.String(), "PDF created")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRootCommandErrorStartsOnFreshLine(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "01.png"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02.png"), []byte("not a png"), 0o644))
	out := filepath.Join(t.TempDir(), "book.pdf")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{dir, out})

	require.Error(t, cmd.Execute())
	assert.Regexp(t, `(?m)^Error: `, stderr.String())
	assert.NotContains(t, stdout.String(), "PDF created")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPageProgressAbortEndsLine(t *testing.T) {
	var buf bytes.Buffer
	p := newPageProgress(&buf)
	p.Abort()
	assert.Empty(t, buf.String(), "nothing to end before the first page")

	p.PageDecoded(1, 3, "a.png")
	p.Abort()
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestRootCommandRequiresTwoArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"only-one"})
	assert.Error(t, cmd.Execute())
}

func TestPageProgressRendersToWriter(t *testing.T) {
	var buf bytes.Buffer
	p := newPageProgress(&buf)
	p.PageDecoded(1, 2, "a.png")
	p.PageDecoded(2, 2, "b.png")
	p.Finish()
	assert.NotEmpty(t, buf.String())
}

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 24, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(x * 10), B: uint8(y * 10), A: 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}
