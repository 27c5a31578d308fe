package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// DocumentCapture records the HTTP status of the last document response a
// page received, so a page that never rendered can be explained.
type DocumentCapture struct {
	mu         sync.RWMutex
	statusCode int
	url        string
}

// set stores the response data. Safe to call from listener goroutines.
func (dc *DocumentCapture) set(statusCode int, url string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.statusCode = statusCode
	dc.url = url
}

// StatusCode returns the captured status, or 0 when no document response
// has been seen.
func (dc *DocumentCapture) StatusCode() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.statusCode
}

// URL returns the URL of the captured response.
func (dc *DocumentCapture) URL() string {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.url
}

// CaptureDocument enables the Network domain on page and records document
// responses. Redirects overwrite earlier responses.
//
// Capture degrades to an empty DocumentCapture when the domain cannot be
// enabled. The returned cleanup MUST be called before the page is closed;
// it is safe to call more than once.
func CaptureDocument(ctx context.Context, page *rod.Page) (*DocumentCapture, func()) {
	capture := &DocumentCapture{}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		log.Debug().Err(err).Msg("Failed to enable Network domain for response capture")
		return capture, func() {}
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	wait := page.Context(listenerCtx).EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return
		}
		log.Debug().
			Int("status_code", e.Response.Status).
			Msg("Captured document response")
		capture.set(e.Response.Status, e.Response.URL)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Recovered from panic in network capture listener")
			}
		}()
		wait()
	}()

	var once sync.Once
	return capture, func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				log.Warn().Msg("Timeout waiting for network capture listener to stop")
			}
		})
	}
}
