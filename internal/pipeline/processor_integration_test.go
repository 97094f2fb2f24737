package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func TestMain(m *testing.M) {
	api.DisableConfigDir()
	os.Exit(m.Run())
}

func TestConvertMixedFolder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.jpg", encodeJPEG(t, opaqueRGBA(20, 40)))
	writeFile(t, dir, "a.png", encodePNG(t, translucentNRGBA(40, 20)))
	writeFile(t, dir, "notes.txt", []byte("not an image"))
	out := filepath.Join(t.TempDir(), "output 1.pdf")

	result, err := Convert(dir, out)
	require.NoError(t, err)
	require.Len(t, result.Pages, 2)
	assert.Equal(t, "a.png", result.Pages[0].Name)
	assert.Equal(t, "b.jpg", result.Pages[1].Name)
	assert.Equal(t, out, result.Location)

	count, err := api.PageCountFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	dims, err := api.PageDimsFile(out)
	require.NoError(t, err)
	require.Len(t, dims, 2)
	assert.Greater(t, dims[0].Width, dims[0].Height, "page 1 comes from the landscape a.png")
	assert.Greater(t, dims[1].Height, dims[1].Width, "page 2 comes from the portrait b.jpg")
	assert.InDelta(t, 40*0.24, dims[0].Width, 0.01)
	assert.InDelta(t, 20*0.24, dims[0].Height, 0.01)
	assert.InDelta(t, 20*0.24, dims[1].Width, 0.01)
	assert.InDelta(t, 40*0.24, dims[1].Height, 0.01)
}

func TestConvertSizesPagesAtPageDPI(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wide.png", encodePNG(t, opaqueRGBA(600, 300)))
	out := filepath.Join(t.TempDir(), "wide.pdf")

	_, err := Convert(dir, out)
	require.NoError(t, err)

	dims, err := api.PageDimsFile(out)
	require.NoError(t, err)
	require.Len(t, dims, 1)
	assert.InDelta(t, 144.0, dims[0].Width, 0.01)
	assert.InDelta(t, 72.0, dims[0].Height, 0.01)
}

func TestConvertEmptyFolderLeavesOutputUntouched(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.pdf")

	_, err := Convert(t.TempDir(), out)
	require.ErrorIs(t, err, ErrNoImagesFound)

	_, statErr := os.Stat(out)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "output must not be created")
}

func TestConvertNoCandidatesKeepsExistingOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", []byte("hello"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))

	out := filepath.Join(t.TempDir(), "out.pdf")
	require.NoError(t, os.WriteFile(out, []byte("previous"), 0o644))

	_, err := Convert(dir, out)
	require.ErrorIs(t, err, ErrNoImagesFound)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("previous"), data)
}

func TestConvertUppercaseAlphaImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "logo.PNG", encodePNG(t, translucentNRGBA(16, 16)))
	out := filepath.Join(t.TempDir(), "logo.pdf")

	result, err := Convert(dir, out)
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	assert.True(t, result.Pages[0].Normalized)

	count, err := api.PageCountFile(out)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	ctx, err := api.ReadContextFile(out)
	require.NoError(t, err)
	assertOpaqueRGBPages(t, ctx)
}

type fixedDecoder struct {
	img image.Image
}

func (d fixedDecoder) Decode(_ []byte) (image.Image, string, error) {
	return d.img, "webp", nil
}

func TestProcessFlattensYCbCrAlphaIntoOpaqueRGBPage(t *testing.T) {
	img := image.NewNYCbCrA(image.Rect(0, 0, 30, 60), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = 180
	}
	for i := range img.Cb {
		img.Cb[i] = 100
		img.Cr[i] = 150
	}
	for i := range img.A {
		img.A[i] = 0x40
	}

	sink := &captureSink{}
	p, err := NewProcessor(memorySource{
		files: map[string][]byte{"frame.webp": []byte("webp")},
		order: []string{"frame.webp"},
	}, sink)
	require.NoError(t, err)
	p.decoder = fixedDecoder{img: img}

	result, err := p.Process(context.Background(), Request{OutputPath: "frame.pdf"})
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	assert.True(t, result.Pages[0].Normalized)

	ctx, err := api.ReadContext(bytes.NewReader(sink.data), model.NewDefaultConfiguration())
	require.NoError(t, err)
	assertOpaqueRGBPages(t, ctx)

	dims, err := api.PageDims(bytes.NewReader(sink.data), nil)
	require.NoError(t, err)
	require.Len(t, dims, 1)
	assert.InDelta(t, 30*0.24, dims[0].Width, 0.01)
	assert.InDelta(t, 60*0.24, dims[0].Height, 0.01)
}

// assertOpaqueRGBPages checks that every page image is a three-channel
// DeviceRGB stream without a soft mask.
func assertOpaqueRGBPages(t *testing.T, ctx *model.Context) {
	t.Helper()
	require.NoError(t, ctx.EnsurePageCount())
	require.Positive(t, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageDict, _, _, err := ctx.PageDict(pageNr, false)
		require.NoError(t, err)
		require.NotNil(t, pageDict)

		resources, err := ctx.DereferenceDict(pageDict["Resources"])
		require.NoError(t, err)
		xobjects, err := ctx.DereferenceDict(resources["XObject"])
		require.NoError(t, err)
		require.NotEmpty(t, xobjects)

		for name, ref := range xobjects {
			sd, _, err := ctx.DereferenceStreamDict(ref)
			require.NoError(t, err)
			require.NotNil(t, sd, "xobject %s", name)

			_, hasMask := sd.Find("SMask")
			assert.False(t, hasMask, "page %d image %s carries a soft mask", pageNr, name)
			cs, ok := sd.Find("ColorSpace")
			require.True(t, ok, "page %d image %s has no color space", pageNr, name)
			assert.Equal(t, types.Name("DeviceRGB"), cs)
		}
	}
}

func TestConvertDecodesEveryFormatWithAnEncoder(t *testing.T) {
	dir := t.TempDir()

	var bmpBuf, tiffBuf bytes.Buffer
	require.NoError(t, bmp.Encode(&bmpBuf, opaqueRGBA(8, 8)))
	require.NoError(t, tiff.Encode(&tiffBuf, opaqueRGBA(8, 8), nil))
	writeFile(t, dir, "1.bmp", bmpBuf.Bytes())
	writeFile(t, dir, "2.tiff", tiffBuf.Bytes())
	writeFile(t, dir, "3.jpeg", encodeJPEG(t, image.NewGray(image.Rect(0, 0, 8, 8))))
	out := filepath.Join(t.TempDir(), "formats.pdf")

	result, err := Convert(dir, out)
	require.NoError(t, err)
	require.Len(t, result.Pages, 3)
	assert.Equal(t, "bmp", result.Pages[0].Format)
	assert.Equal(t, "tiff", result.Pages[1].Format)
	assert.Equal(t, "jpeg", result.Pages[2].Format)
	assert.False(t, result.Pages[2].Normalized)

	count, err := api.PageCountFile(out)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestConvertOverwritesPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", encodePNG(t, opaqueRGBA(10, 10)))
	out := filepath.Join(t.TempDir(), "out.pdf")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	for i := 0; i < 2; i++ {
		_, err := Convert(dir, out)
		require.NoError(t, err)

		count, err := api.PageCountFile(out)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
}

func TestConvertCorruptImageAbortsRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", encodePNG(t, opaqueRGBA(10, 10)))
	writeFile(t, dir, "b.png", []byte("garbage"))
	out := filepath.Join(t.TempDir(), "out.pdf")

	_, err := Convert(dir, out)
	require.Error(t, err)

	_, statErr := os.Stat(out)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestConvertMissingInputDir(t *testing.T) {
	_, err := Convert(filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "out.pdf"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoImagesFound))
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}
