package webclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/perfsandbox/internal/logging"
)

// ErrBrowserClosed is returned by NewTab once the browser has been closed.
var ErrBrowserClosed = errors.New("browser closed")

// ChromeLauncher starts a Chrome process (or attaches to a remote one) per run.
type ChromeLauncher struct {
	cfg    Config
	logger logging.Logger
}

func NewChromeLauncher(cfg Config, logger logging.Logger) *ChromeLauncher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Viewport.Width == 0 || cfg.Viewport.Height == 0 {
		cfg.Viewport = DefaultViewport
	}
	return &ChromeLauncher{cfg: cfg, logger: logger.With(logging.Field{Key: "backend", Value: "chromedp"})}
}

// Launch starts the browser and waits until it accepts commands.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if l.cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), l.cfg.RemoteURL)
	} else {
		allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		allocOpts = append(allocOpts,
			chromedp.Flag("headless", opts.Headless),
			chromedp.WindowSize(int(l.cfg.Viewport.Width), int(l.cfg.Viewport.Height)),
		)
		if l.cfg.ChromePath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(l.cfg.ChromePath))
		}
		if l.cfg.NoSandbox {
			allocOpts = append(allocOpts, chromedp.NoSandbox)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser. Bound it by the caller's ctx
	// without tying the browser's lifetime to it.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", ctx.Err())
	}

	l.logger.Info("browser started",
		logging.Field{Key: "headless", Value: opts.Headless},
		logging.Field{Key: "remote", Value: l.cfg.RemoteURL != ""})

	return &ChromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		viewport:    l.cfg.Viewport,
		logger:      l.logger,
	}, nil
}

// ChromeBrowser is a live chromedp browser shared by the runners of one run.
type ChromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	viewport    Viewport
	logger      logging.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

func (b *ChromeBrowser) NewTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := b.Err(); err != nil {
		return nil, nil, err
	}
	tabCtx, cancelTab := chromedp.NewContext(b.ctx)
	stop := context.AfterFunc(ctx, cancelTab)
	cancel := func() {
		stop()
		cancelTab()
	}

	if err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(b.viewport.Width, b.viewport.Height, chromedp.EmulateScale(b.viewport.Scale)),
	); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open tab: %w", err)
	}
	return tabCtx, cancel, nil
}

func (b *ChromeBrowser) Err() error {
	if b.closed.Load() {
		return ErrBrowserClosed
	}
	if err := b.ctx.Err(); err != nil {
		return fmt.Errorf("browser context: %w", err)
	}
	return nil
}

func (b *ChromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		// Cancelling the browser context closes Chrome gracefully.
		b.cancel()
		b.allocCancel()
		b.logger.Info("browser closed")
	})
	return nil
}

// IsContextLost reports whether err means the shared browser itself is gone,
// as opposed to a failure scoped to one tab.
func IsContextLost(b Browser, err error) bool {
	if b != nil && b.Err() != nil {
		return true
	}
	if err == nil {
		return false
	}
	return errors.Is(err, ErrBrowserClosed) ||
		errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidContext)
}

// SetContent replaces the document of the tab's main frame with html.
func SetContent(html string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("get frame tree: %w", err)
		}
		return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
	})
}

// WaitNetworkIdle returns a channel that receives once no request has been
// in flight for idleAfter. The network domain must be enabled on ctx.
func WaitNetworkIdle(ctx context.Context, idleAfter time.Duration) <-chan struct{} {
	idleChan := make(chan struct{}, 1)
	var activeReqs int32
	var timer *time.Timer
	var timerMutex sync.Mutex
	var once sync.Once

	startTimer := func() {
		timerMutex.Lock()
		defer timerMutex.Unlock()

		if timer != nil {
			timer.Stop()
		}

		timer = time.AfterFunc(idleAfter, func() {
			if atomic.LoadInt32(&activeReqs) == 0 {
				once.Do(func() {
					idleChan <- struct{}{}
				})
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			atomic.AddInt32(&activeReqs, 1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&activeReqs, -1) <= 0 {
				atomic.StoreInt32(&activeReqs, 0)
				startTimer()
			}
		}
	})
	startTimer()

	return idleChan
}

// NavigateAndSettle navigates to url and waits for the network to go quiet,
// giving up on the quiet period after maxWait.
func NavigateAndSettle(url string, idleAfter, maxWait time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		idle := WaitNetworkIdle(ctx, idleAfter)
		if err := chromedp.Navigate(url).Do(ctx); err != nil {
			return fmt.Errorf("navigate %s: %w", url, err)
		}
		select {
		case <-idle:
		case <-time.After(maxWait):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}
