package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rorqualx/vidresolver-go/internal/types"
)

var benchRows = []types.ResultRow{
	{Format: "mp4", Resolution: "1920x1080", Link: "https://cdn.example.com/dl/1080.mp4?token=a1b2c3d4e5f6"},
	{Format: "mp4", Resolution: "1280x720", Link: "https://cdn.example.com/dl/720.mp4?token=a1b2c3d4e5f6"},
	{Format: "mp4", Resolution: "854x480", Link: "https://cdn.example.com/dl/480.mp4?token=a1b2c3d4e5f6"},
	{Format: "mp4", Resolution: "640x360", Link: "https://cdn.example.com/dl/360.mp4?token=a1b2c3d4e5f6"},
}

// BenchmarkJSONEncode benchmarks encoding rows without a pooled buffer.
func BenchmarkJSONEncode(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = json.Marshal(benchRows)
	}
}

// BenchmarkJSONEncodeWithPool benchmarks encoding rows into a pooled buffer.
func BenchmarkJSONEncodeWithPool(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := getResponseBuffer()
		_ = json.NewEncoder(buf).Encode(benchRows)
		putResponseBuffer(buf)
	}
}

// BenchmarkResponseBufferParallel measures pool contention.
func BenchmarkResponseBufferParallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := getResponseBuffer()
			_ = json.NewEncoder(buf).Encode(benchRows)
			putResponseBuffer(buf)
		}
	})
}

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, _ string) ([]types.ResultRow, error) {
	return benchRows, nil
}

// BenchmarkRouter measures routing and response writing without a browser.
func BenchmarkRouter(b *testing.B) {
	router := NewRouter(New(staticResolver{}, newChanPool(1), Options{}))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api?url=https://example.com/watch?v=1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
