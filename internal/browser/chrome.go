// Package browser implements vmsession views on top of a Chromium instance
// driven over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/vmsession"
)

// bindingName is the page function the clipboard hook calls.
const bindingName = "kolbehClipboard"

// ChromeFactory starts one browser process per view, each with its own
// profile directory.
type ChromeFactory struct {
	// ExecPath overrides browser discovery.
	ExecPath string
	Headless bool
	Log      *zap.Logger
}

// NewChromeFactory returns a factory for visible browser windows.
func NewChromeFactory(execPath string, log *zap.Logger) *ChromeFactory {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChromeFactory{ExecPath: execPath, Log: log}
}

// Open starts a browser bound to opts.StorageDir. The browser outlives ctx;
// it ends with Close or when its window is closed.
func (f *ChromeFactory) Open(ctx context.Context, opts vmsession.ViewOptions) (vmsession.View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(opts.StorageDir),
		chromedp.Flag("headless", f.Headless),
		chromedp.Flag("window-name", opts.Title),
		chromedp.Flag("disable-features", "Translate"),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if f.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(f.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	v := &chromeView{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		events:      make(chan vmsession.Event, 16),
		log:         log,
	}
	chromedp.ListenTarget(tabCtx, v.onTargetEvent)

	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := runtime.AddBinding(bindingName).Do(ctx); err != nil {
			return fmt.Errorf("add binding: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(vmsession.ClipboardHookScript(bindingName)).Do(ctx); err != nil {
			return fmt.Errorf("install clipboard hook: %w", err)
		}
		return nil
	}))
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	go func() {
		<-tabCtx.Done()
		v.finish()
	}()
	return v, nil
}

type chromeView struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	log         *zap.Logger

	mu     sync.Mutex
	gone   bool
	events chan vmsession.Event

	closeOnce sync.Once
	closeErr  error
}

func (v *chromeView) Load(ctx context.Context, url string) error {
	runCtx, cancel := v.bound(ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Navigate(url))
}

func (v *chromeView) Eval(ctx context.Context, script string) (string, error) {
	runCtx, cancel := v.bound(ctx)
	defer cancel()
	var res string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &res)); err != nil {
		return "", err
	}
	return res, nil
}

func (v *chromeView) Events() <-chan vmsession.Event {
	return v.events
}

// Close shuts the tab down gracefully, then stops the browser process.
func (v *chromeView) Close() error {
	v.closeOnce.Do(func() {
		err := chromedp.Cancel(v.tabCtx)
		v.cancelTab()
		v.cancelAlloc()
		if err != nil && !errors.Is(err, context.Canceled) {
			v.closeErr = err
		}
		v.finish()
	})
	return v.closeErr
}

// bound derives an action context from the tab that also ends with ctx.
func (v *chromeView) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(v.tabCtx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (v *chromeView) onTargetEvent(ev any) {
	switch ev := ev.(type) {
	case *page.EventLoadEventFired:
		v.emit(vmsession.Event{Kind: vmsession.EventLoadFinished})
	case *runtime.EventBindingCalled:
		if ev.Name != bindingName {
			return
		}
		if kind, ok := bindingKind(ev.Payload); ok {
			v.emit(vmsession.Event{Kind: kind})
		}
	case *inspector.EventDetached:
		v.log.Info("browser target detached", zap.Stringer("reason", ev.Reason))
		v.emit(vmsession.Event{Kind: vmsession.EventClosed})
	}
}

func bindingKind(payload string) (vmsession.EventKind, bool) {
	switch payload {
	case "copy":
		return vmsession.EventCopy, true
	case "cut":
		return vmsession.EventCut, true
	case "paste":
		return vmsession.EventPaste, true
	default:
		return 0, false
	}
}

// emit never blocks the DevTools event goroutine.
func (v *chromeView) emit(ev vmsession.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gone {
		return
	}
	select {
	case v.events <- ev:
	default:
		v.log.Warn("view event dropped", zap.Stringer("kind", ev.Kind))
	}
}

func (v *chromeView) finish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gone {
		return
	}
	v.gone = true
	close(v.events)
}
