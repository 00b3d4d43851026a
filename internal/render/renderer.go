package render

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/certamo/pkg/metrics"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

var (
	ErrEngineBusy    = errors.New("render engine pool exhausted")
	ErrMalformedSVG  = errors.New("asset is not valid SVG")
	ErrRenderTimeout = errors.New("render timed out")
)

// printFunc rasterizes the HTML file at path into PDF bytes. Swappable in
// tests so the pool and cleanup behavior can be exercised without Chromium.
type printFunc func(ctx context.Context, htmlPath string, landscape bool) ([]byte, error)

// Renderer converts SVG assets to PDF through headless Chromium. Renders
// are far more expensive than an HTTP worker slot, so concurrency is capped
// by a fixed pool independent of the server's own limits; requests beyond
// the cap fail fast instead of queueing.
type Renderer struct {
	slots     chan struct{}
	timeout   time.Duration
	landscape bool
	print     printFunc
	logger    *zap.Logger
	metrics   *metrics.MetricsCollector
}

func NewRenderer(
	poolSize int,
	timeout time.Duration,
	landscape bool,
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
) *Renderer {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Renderer{
		slots:     make(chan struct{}, poolSize),
		timeout:   timeout,
		landscape: landscape,
		print:     chromiumPrint,
		logger:    logger.With(zap.String("component", "renderer")),
		metrics:   collector,
	}
}

// PDF renders svg into a single-page PDF. Temporary files are removed on
// every exit path, including render faults and caller cancellation.
func (r *Renderer) PDF(ctx context.Context, svg []byte) ([]byte, error) {
	if err := checkSVG(svg); err != nil {
		return nil, err
	}

	select {
	case r.slots <- struct{}{}:
	default:
		r.metrics.IncrementCounter("render_rejected_busy", nil)
		return nil, ErrEngineBusy
	}
	defer func() { <-r.slots }()

	htmlPath, err := writeWrapperHTML(svg)
	if err != nil {
		return nil, fmt.Errorf("failed to stage render input: %w", err)
	}
	defer os.Remove(htmlPath)

	renderCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	pdf, err := r.print(renderCtx, htmlPath, r.landscape)
	elapsed := time.Since(start)

	if err != nil {
		r.metrics.IncrementCounter("render_failed", nil)
		r.logger.Error("PDF render failed",
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) || renderCtx.Err() != nil {
			return nil, ErrRenderTimeout
		}
		return nil, fmt.Errorf("render engine failure: %w", err)
	}

	r.metrics.ObserveLatency("render", elapsed)
	r.metrics.ObserveSize("render_pdf_bytes", float64(len(pdf)))
	return pdf, nil
}

// checkSVG verifies the payload parses as XML with an svg root element
// before a browser ever sees it.
func checkSVG(svg []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(svg))
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return ErrMalformedSVG
		}
		if err != nil {
			return ErrMalformedSVG
		}
		if start, ok := tok.(xml.StartElement); ok {
			if strings.EqualFold(start.Name.Local, "svg") {
				break
			}
			return ErrMalformedSVG
		}
	}

	// a parseable prefix is not enough, the whole document must close
	decoder = xml.NewDecoder(bytes.NewReader(svg))
	for {
		_, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return ErrMalformedSVG
		}
	}
}

func writeWrapperHTML(svg []byte) (string, error) {
	tmp, err := os.CreateTemp("", "certamo-render-*.html")
	if err != nil {
		return "", err
	}

	var doc bytes.Buffer
	doc.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
html, body { width: 100%; height: 100%; }
body { display: flex; justify-content: center; align-items: center; background: white; }
svg { max-width: 100%; max-height: 100%; width: auto; height: auto; }
</style>
</head>
<body>
`)
	doc.Write(svg)
	doc.WriteString("\n</body>\n</html>\n")

	if _, err := tmp.Write(doc.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// chromiumPrint loads the wrapper page in a fresh headless tab and prints
// it as a zero-margin A4 page.
func chromiumPrint(ctx context.Context, htmlPath string, landscape bool) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-web-security", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var pdf []byte
	err := chromedp.Run(tabCtx,
		chromedp.Navigate("file://"+htmlPath),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithLandscape(landscape).
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithMarginRight(0).
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
