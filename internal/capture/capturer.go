// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package capture drives a headless browser against live previews:
// per-breakpoint screenshots and a horizontal-overflow scan of the
// rendered DOM.
package capture

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/errors"
)

// Screenshot is one captured viewport image on disk.
type Screenshot struct {
	BreakpointID string `json:"breakpointId"`
	Path         string `json:"path"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// Capturer takes screenshots of a preview at every breakpoint. Each
// breakpoint gets a fresh browser context so viewport emulation from a
// previous capture cannot bleed over.
type Capturer struct {
	// ArtifactsRoot is the project's artifact directory; images land
	// under snapshots/<runID>/.
	ArtifactsRoot string

	// SettleDelay is the pause after network idle before capturing,
	// letting CSS transitions finish.
	SettleDelay time.Duration

	// Timeout bounds a single breakpoint's capture.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewCapturer creates a capturer with the default settle delay and
// timeout.
func NewCapturer(artifactsRoot string, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{
		ArtifactsRoot: artifactsRoot,
		SettleDelay:   500 * time.Millisecond,
		Timeout:       30 * time.Second,
		Logger:        logger,
	}
}

// ScreenshotPath returns where a breakpoint's image is stored.
func (c *Capturer) ScreenshotPath(runID, breakpointID string) string {
	return filepath.Join(c.ArtifactsRoot, "snapshots", runID, breakpointID+".png")
}

// Capture screenshots the preview URL at every breakpoint in parallel.
// Individual breakpoint failures are tolerated; the call errors only
// when no breakpoint produced an image.
func (c *Capturer) Capture(ctx context.Context, runID, previewURL string, breakpoints []design.Breakpoint) ([]Screenshot, error) {
	if err := os.MkdirAll(filepath.Join(c.ArtifactsRoot, "snapshots", runID), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating screenshot directory")
	}

	var (
		mu    sync.Mutex
		shots []Screenshot
		errs  []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, bp := range breakpoints {
		bp := bp
		g.Go(func() error {
			dest := c.ScreenshotPath(runID, bp.BreakpointID)
			err := c.captureOne(gctx, previewURL, bp, dest)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.Logger.Warn("breakpoint capture failed",
					"breakpoint", bp.BreakpointID, "url", previewURL, "error", err)
				errs = append(errs, &errors.CaptureError{
					Breakpoint: bp.BreakpointID,
					URL:        previewURL,
					Cause:      err,
				})
				// Swallowed here so the group keeps capturing the
				// remaining breakpoints.
				return nil
			}
			shots = append(shots, Screenshot{
				BreakpointID: bp.BreakpointID,
				Path:         dest,
				Width:        bp.Width,
				Height:       bp.Height,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(shots) == 0 {
		if len(errs) > 0 {
			return nil, errs[0]
		}
		return nil, &errors.CaptureError{URL: previewURL, Cause: context.Canceled}
	}
	return shots, nil
}

func (c *Capturer) captureOne(ctx context.Context, url string, bp design.Breakpoint, dest string) error {
	browserCtx, cancel, err := c.newBrowserContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	scale := bp.DeviceScaleFactor
	if scale == 0 {
		scale = 1
	}

	var buf []byte
	err = chromedp.Run(browserCtx,
		chromedp.EmulateViewport(int64(bp.Width), int64(bp.Height), chromedp.EmulateScale(scale)),
		navigateAndAwaitIdle(url),
		chromedp.Sleep(c.SettleDelay),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return err
	}
	return renameio.WriteFile(dest, buf, 0o644)
}

// newBrowserContext allocates a fresh headless browser bounded by the
// capturer's timeout. The returned cancel releases everything.
func (c *Capturer) newBrowserContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	timedCtx, cancelTimeout := context.WithTimeout(browserCtx, c.Timeout)

	cancel := func() {
		cancelTimeout()
		cancelBrowser()
		cancelAlloc()
	}
	return timedCtx, cancel, nil
}

// navigateAndAwaitIdle navigates and blocks until the page reports the
// networkIdle lifecycle event. The listener attaches before navigation
// so the event cannot be missed.
func navigateAndAwaitIdle(url string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		idle := make(chan struct{}, 1)
		listenCtx, stopListening := context.WithCancel(ctx)
		defer stopListening()

		chromedp.ListenTarget(listenCtx, func(ev interface{}) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		})

		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}
		if _, _, _, err := page.Navigate(url).Do(ctx); err != nil {
			return err
		}

		select {
		case <-idle:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
