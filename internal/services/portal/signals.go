package portal

import (
	"context"
	"strings"
	"time"

	"atabat-scraper/internal/errcode"
)

// firstOf runs every waiter concurrently and returns the index of the first
// one to report true, or -1 when timeout passes first. Waiters must return
// once their context is done.
func firstOf(ctx context.Context, timeout time.Duration, waiters ...func(ctx context.Context) bool) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	won := make(chan int, len(waiters))
	for i, w := range waiters {
		go func(i int, w func(context.Context) bool) {
			if w(ctx) {
				won <- i
			}
		}(i, w)
	}
	select {
	case i := <-won:
		return i
	case <-ctx.Done():
		return -1
	}
}

// awaitResponse waits for an XHR whose URL contains fragment.
func awaitResponse(pg Page, fragment string) func(ctx context.Context) bool {
	fragment = strings.ToLower(fragment)
	return func(ctx context.Context) bool {
		for {
			select {
			case <-ctx.Done():
				return false
			case r := <-pg.Responses():
				if strings.Contains(strings.ToLower(r.URL), fragment) {
					return true
				}
			}
		}
	}
}

func (p *Portal) awaitRowsAbove(pg Page, sel string, baseline int) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return poll(ctx, p.waits.poll, func(ctx context.Context) bool {
			return pg.Count(ctx, sel) > baseline
		})
	}
}

func (p *Portal) awaitText(pg Page, sel string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return poll(ctx, p.waits.poll, func(ctx context.Context) bool {
			return pg.Text(ctx, sel) != ""
		})
	}
}

// awaitNewText waits for sel to show text other than stale.
func (p *Portal) awaitNewText(pg Page, sel, stale string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return poll(ctx, p.waits.poll, func(ctx context.Context) bool {
			t := pg.Text(ctx, sel)
			return t != "" && t != stale
		})
	}
}

// awaitFailureDialog waits for a dialog carrying a known failure phrase.
func (p *Portal) awaitFailureDialog(pg Page) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return poll(ctx, p.waits.poll, func(context.Context) bool {
			for _, msg := range pg.Dialogs() {
				if errcode.IsFailureText(msg) {
					return true
				}
			}
			return false
		})
	}
}
