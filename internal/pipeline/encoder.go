package pipeline

import (
	"bytes"
	"fmt"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PageDPI is the resolution every page is laid out at: a page measures the
// image's pixel size at this density.
const PageDPI = 300

type Encoder interface {
	Encode(w io.Writer, pages []Page) error
}

type pdfcpuEncoder struct {
	dpi int
}

func newPDFEncoder() pdfcpuEncoder {
	return pdfcpuEncoder{dpi: PageDPI}
}

func (e pdfcpuEncoder) Encode(w io.Writer, pages []Page) error {
	if len(pages) == 0 {
		return ErrNoImagesFound
	}

	conf := model.NewDefaultConfiguration()
	conf.Cmd = model.IMPORTIMAGES

	ctx, err := pdfcpu.CreateContextWithXRefTable(conf, e.pageDim(pages[0]))
	if err != nil {
		return fmt.Errorf("create pdf context: %w", err)
	}

	pagesIndRef, err := ctx.Pages()
	if err != nil {
		return fmt.Errorf("locate page tree: %w", err)
	}
	pagesDict, err := ctx.DereferenceDict(*pagesIndRef)
	if err != nil {
		return fmt.Errorf("locate page tree: %w", err)
	}

	for _, page := range pages {
		data, err := pageBytes(page)
		if err != nil {
			return fmt.Errorf("prepare page %s: %w", page.Name, err)
		}

		indRef, err := pdfcpu.NewPageForImage(ctx.XRefTable, bytes.NewReader(data), pagesIndRef, e.pageImport(page))
		if err != nil {
			return fmt.Errorf("add page %s: %w", page.Name, err)
		}
		if err := ctx.SetValid(*indRef); err != nil {
			return fmt.Errorf("add page %s: %w", page.Name, err)
		}
		if err := model.AppendPageTree(indRef, 1, pagesDict); err != nil {
			return fmt.Errorf("add page %s: %w", page.Name, err)
		}
		ctx.PageCount++
	}

	if err := api.Write(ctx, w, conf); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// pageDim is the image's pixel size expressed in points at e.dpi.
func (e pdfcpuEncoder) pageDim(page Page) *types.Dim {
	b := page.Image.Bounds()
	return &types.Dim{
		Width:  float64(b.Dx()) * 72 / float64(e.dpi),
		Height: float64(b.Dy()) * 72 / float64(e.dpi),
	}
}

// pageImport anchors the image at the origin of a page cut to its own size.
// pdfcpu's full-page mode ignores DPI, so the page box is set explicitly.
func (e pdfcpuEncoder) pageImport(page Page) *pdfcpu.Import {
	imp := pdfcpu.DefaultImportConfig()
	imp.PageDim = e.pageDim(page)
	imp.PageSize = ""
	imp.Pos = types.BottomLeft
	imp.DPI = e.dpi
	imp.Scale = 1
	imp.ScaleAbs = true
	return imp
}

// pageBytes hands JPEG sources over untouched so they embed without
// recompression; everything else is re-encoded losslessly.
func pageBytes(page Page) ([]byte, error) {
	if len(page.raw) > 0 {
		return page.raw, nil
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, page.Image); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
