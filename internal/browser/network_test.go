package browser

import (
	"sync"
	"testing"
)

func TestDocumentCaptureDefaults(t *testing.T) {
	var dc DocumentCapture
	if dc.StatusCode() != 0 || dc.URL() != "" {
		t.Errorf("Expected an empty capture, got %d %q", dc.StatusCode(), dc.URL())
	}
}

func TestDocumentCaptureLastResponseWins(t *testing.T) {
	var dc DocumentCapture
	dc.set(301, "https://9xbuddy.xyz/")
	dc.set(403, "https://9xbuddy.xyz/en-1cd")

	if dc.StatusCode() != 403 {
		t.Errorf("StatusCode() = %d, want 403", dc.StatusCode())
	}
	if dc.URL() != "https://9xbuddy.xyz/en-1cd" {
		t.Errorf("URL() = %q", dc.URL())
	}
}

func TestDocumentCaptureConcurrentAccess(t *testing.T) {
	var dc DocumentCapture
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(code int) {
			defer wg.Done()
			dc.set(code, "https://example.com")
		}(200 + i)
		go func() {
			defer wg.Done()
			_ = dc.StatusCode()
			_ = dc.URL()
		}()
	}
	wg.Wait()

	if code := dc.StatusCode(); code < 200 || code > 209 {
		t.Errorf("Unexpected status %d", code)
	}
}
