// Package renderer adapts a headless Chrome (driven via Rod) to the capture
// contract the comparison engine and pipeline consume: given a URL, a
// viewport and an optional CSS selector, produce a bitmap of the page or of
// the selected region.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/sitemirror/sitemirror/internal/fault"
)

// Viewport is the browser window size for a capture.
type Viewport struct {
	Width  int
	Height int
}

// Config configures the renderer.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome.
	RemoteURL string

	// CaptureTimeout bounds a single navigation + capture. Default: 30s.
	CaptureTimeout time.Duration

	Logger zerolog.Logger
}

// Renderer owns one browser connection and hands out capture operations.
// Safe for concurrent use; each capture runs in its own page.
type Renderer struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// New creates a Renderer. Call Start before capturing.
func New(cfg Config) *Renderer {
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 30 * time.Second
	}
	return &Renderer{cfg: cfg}
}

// Start launches Chrome or connects to the configured remote instance.
func (r *Renderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("%w: launch chrome: %v", fault.ErrExternalUnavailable, err)
		}
		wsURL = u
		r.lnch = l
		r.cfg.Logger.Info().Str("url", wsURL).Msg("renderer: launched local chrome")
	} else {
		r.cfg.Logger.Info().Str("url", wsURL).Msg("renderer: connecting to remote chrome")
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		r.cleanupLocked()
		return fmt.Errorf("%w: connect chrome: %v", fault.ErrExternalUnavailable, err)
	}
	r.browser = b
	return nil
}

// Close shuts down the browser and, for local launches, the Chrome process.
// No orphaned browser survives a clean Close.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked()
	return nil
}

func (r *Renderer) cleanupLocked() {
	if r.browser != nil {
		_ = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
}

// CaptureSection navigates to url at the given viewport and screenshots the
// element matched by selector. An empty selector, or a selector that matches
// nothing, captures the full page instead. The whole operation is bounded by
// the configured capture timeout.
func (r *Renderer) CaptureSection(ctx context.Context, url string, vp Viewport, selector string) (image.Image, error) {
	r.mu.Lock()
	b := r.browser
	r.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("%w: renderer not started", fault.ErrExternalUnavailable)
	}

	capCtx, cancel := context.WithTimeout(ctx, r.cfg.CaptureTimeout)
	defer cancel()

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("%w: create page: %v", fault.ErrExternalUnavailable, err)
	}
	defer page.Close()
	page = page.Context(capCtx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("%w: navigate %s: %v", fault.ErrExternalUnavailable, url, err)
	}
	if err := page.WaitLoad(); err != nil {
		r.cfg.Logger.Warn().Str("url", url).Err(err).Msg("renderer: wait load timeout")
	}

	var data []byte
	if selector != "" {
		if el, err := elementIfPresent(page, selector); err == nil && el != nil {
			data, err = el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
			if err != nil {
				return nil, fmt.Errorf("screenshot %s %q: %w", url, selector, err)
			}
		}
	}
	if data == nil {
		data, err = page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if err != nil {
			return nil, fmt.Errorf("screenshot %s: %w", url, err)
		}
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// elementIfPresent resolves a selector without blocking on Rod's default
// wait-for-element behavior when the page lacks the element.
func elementIfPresent(page *rod.Page, selector string) (*rod.Element, error) {
	has, el, err := page.Has(selector)
	if err != nil || !has {
		return nil, err
	}
	return el, nil
}
