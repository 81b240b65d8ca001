package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

const (
	HTMLName = "report.html"
	PDFName  = "report.pdf"
)

// Renderer converts an HTML page to PDF bytes using the run's browser.
type Renderer interface {
	RenderPDF(ctx context.Context, b webclient.Browser, html []byte) ([]byte, error)
}

// Store is the subset of the artifact store the compiler writes through.
type Store interface {
	Write(ns, name string, data []byte) error
	ResolveURL(ns, name string) string
	Path(ns, name string) (string, error)
}

// Artifact locates the compiled report.
type Artifact struct {
	ViewURL string `json:"viewUrl"`
	PDFURL  string `json:"pdfUrl"`
	PDFPath string `json:"-"`
}

// Compiler writes report.html and report.pdf into a run's namespace.
type Compiler struct {
	store    Store
	renderer Renderer
	logger   logging.Logger
}

func NewCompiler(store Store, renderer Renderer, logger logging.Logger) (*Compiler, error) {
	if store == nil {
		return nil, errors.New("report: store is nil")
	}
	if renderer == nil {
		return nil, errors.New("report: renderer is nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Compiler{store: store, renderer: renderer, logger: logger.With(logging.F("component", "report"))}, nil
}

// Compile renders doc and stores both forms under ns.
func (c *Compiler) Compile(ctx context.Context, b webclient.Browser, ns string, doc *Document) (*Artifact, error) {
	if doc == nil {
		return nil, errors.New("report: document is nil")
	}
	html, err := doc.HTML()
	if err != nil {
		return nil, err
	}
	if err := c.store.Write(ns, HTMLName, html); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	start := time.Now()
	pdf, err := c.renderer.RenderPDF(ctx, b, html)
	if err != nil {
		return nil, fmt.Errorf("report: render pdf: %w", err)
	}
	if err := c.store.Write(ns, PDFName, pdf); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	path, err := c.store.Path(ns, PDFName)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	c.logger.Info("report compiled",
		logging.F("namespace", ns),
		logging.F("sections", len(doc.Sections)),
		logging.F("pdf_bytes", len(pdf)),
		logging.F("render_ms", time.Since(start).Milliseconds()))

	return &Artifact{
		ViewURL: c.store.ResolveURL(ns, HTMLName),
		PDFURL:  c.store.ResolveURL(ns, PDFName),
		PDFPath: path,
	}, nil
}

// ChromeRenderer prints pages to PDF in a fresh tab of the run's browser.
type ChromeRenderer struct {
	Timeout         time.Duration
	PrintBackground bool
}

func NewChromeRenderer(timeout time.Duration) *ChromeRenderer {
	return &ChromeRenderer{Timeout: timeout, PrintBackground: true}
}

func (r *ChromeRenderer) RenderPDF(ctx context.Context, b webclient.Browser, html []byte) ([]byte, error) {
	if b == nil {
		return nil, errors.New("no browser")
	}
	tabCtx, closeTab, err := b.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	defer closeTab()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(tabCtx, r.Timeout)
		defer cancel()
	}

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		webclient.SetContent(string(html)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(r.PrintBackground).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}
