package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/dunamismax/folio/internal/domain"
)

var (
	ErrNoImagesFound         = errors.New("no images found in the folder")
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
)

type Request struct {
	JobID      string
	SourceType string
	InputPath  string
	OutputPath string
}

// Page is one decoded image on its way into the document.
type Page struct {
	Name       string
	Format     string
	Image      image.Image
	Normalized bool

	raw []byte
}

type PageInfo struct {
	Name       string `json:"name"`
	Format     string `json:"format"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Normalized bool   `json:"normalized"`
}

type Result struct {
	Location    string     `json:"location"`
	Pages       []PageInfo `json:"pages"`
	SourceBytes int        `json:"source_bytes"`
	OutputBytes int        `json:"output_bytes"`
}

type Source interface {
	List(ctx context.Context, req Request) ([]string, error)
	Open(ctx context.Context, req Request, name string) (io.ReadCloser, error)
}

type Sink interface {
	Write(ctx context.Context, req Request, document []byte) (location string, err error)
}

// Observer is told about each page as soon as it has been decoded.
type Observer interface {
	PageDecoded(index, total int, name string)
}

type Processor struct {
	source   Source
	decoder  Decoder
	encoder  Encoder
	sink     Sink
	observer Observer
}

func NewProcessor(source Source, sink Sink) (*Processor, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	return &Processor{
		source:  source,
		decoder: newDecoder(),
		encoder: newPDFEncoder(),
		sink:    sink,
	}, nil
}

func NewLocalProcessor() (*Processor, error) {
	return NewProcessor(LocalDirSource{}, LocalFileSink{})
}

// NewConfinedLocalProcessor reads only below inputRoot and writes only below
// outputRoot. An empty root leaves that side unrestricted.
func NewConfinedLocalProcessor(inputRoot, outputRoot string) (*Processor, error) {
	return NewProcessor(LocalDirSource{Root: inputRoot}, LocalFileSink{Root: outputRoot})
}

// WithObserver returns a copy of p reporting progress to o.
func (p *Processor) WithObserver(o Observer) *Processor {
	cp := *p
	cp.observer = o
	return &cp
}

// Convert binds the images directly inside inputDir into one PDF at
// outputPath. It fails with ErrNoImagesFound, leaving outputPath untouched,
// when the directory holds no candidate image.
func Convert(inputDir, outputPath string) (Result, error) {
	p, err := NewLocalProcessor()
	if err != nil {
		return Result{}, err
	}
	return p.Process(context.Background(), Request{
		SourceType: domain.SourceTypeLocalDir,
		InputPath:  inputDir,
		OutputPath: outputPath,
	})
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.OutputPath) == "" {
		return Result{}, errors.New("output path is required")
	}

	names, err := p.source.List(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("list stage: %w", err)
	}

	files := SelectCandidates(names)
	if len(files) == 0 {
		return Result{}, ErrNoImagesFound
	}

	var (
		pages       = make([]Page, 0, len(files))
		sourceBytes int
	)
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		page, n, err := p.decodePage(ctx, req, name)
		if err != nil {
			return Result{}, fmt.Errorf("decode stage file=%s: %w", name, err)
		}
		sourceBytes += n
		pages = append(pages, page)

		if p.observer != nil {
			p.observer.PageDecoded(i+1, len(files), name)
		}
	}

	var doc bytes.Buffer
	if err := p.encoder.Encode(&doc, pages); err != nil {
		return Result{}, fmt.Errorf("encode stage: %w", err)
	}

	location, err := p.sink.Write(ctx, req, doc.Bytes())
	if err != nil {
		return Result{}, fmt.Errorf("write stage: %w", err)
	}

	infos := make([]PageInfo, 0, len(pages))
	for _, page := range pages {
		bounds := page.Image.Bounds()
		infos = append(infos, PageInfo{
			Name:       page.Name,
			Format:     page.Format,
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
			Normalized: page.Normalized,
		})
	}

	return Result{
		Location:    location,
		Pages:       infos,
		SourceBytes: sourceBytes,
		OutputBytes: doc.Len(),
	}, nil
}

func (p *Processor) decodePage(ctx context.Context, req Request, name string) (Page, int, error) {
	rc, err := p.source.Open(ctx, req, name)
	if err != nil {
		return Page{}, 0, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return Page{}, 0, fmt.Errorf("read %s: %w", name, err)
	}

	img, format, err := p.decoder.Decode(data)
	if err != nil {
		return Page{}, 0, err
	}

	normalized, changed := Normalize(img)
	page := Page{
		Name:       name,
		Format:     format,
		Image:      normalized,
		Normalized: changed,
	}
	if format == "jpeg" && !changed {
		page.raw = data
	}
	return page, len(data), nil
}
