package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// InterceptOptions selects what the page's Fetch domain handles.
// Both features share one Fetch.enable call since a second call would
// replace the first one's patterns.
type InterceptOptions struct {
	// BlockResources fails image, font and media requests.
	BlockResources bool

	// Credentials answered to proxy authentication challenges.
	ProxyUsername string
	ProxyPassword string
}

// Enabled reports whether any interception is needed.
func (o InterceptOptions) Enabled() bool {
	return o.BlockResources || o.ProxyUsername != ""
}

// blockedResourceTypes are never needed to read the results table.
var blockedResourceTypes = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeImage: true,
	proto.NetworkResourceTypeFont:  true,
	proto.NetworkResourceTypeMedia: true,
}

// Intercept enables request interception on page according to opts.
//
// Returns a cleanup function that MUST be called when the page is closed
// so the event listener goroutine exits. It is safe to call more than once.
func Intercept(ctx context.Context, page *rod.Page, opts InterceptOptions) (cleanup func(), err error) {
	if !opts.Enabled() {
		return func() {}, nil
	}

	log.Debug().
		Bool("block_resources", opts.BlockResources).
		Bool("proxy_auth", opts.ProxyUsername != "").
		Msg("Configuring request interception")

	err = proto.FetchEnable{
		Patterns:           buildPatterns(opts),
		HandleAuthRequests: opts.ProxyUsername != "",
	}.Call(page)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to enable request interception")
		return func() {}, err
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	wait := page.Context(listenerCtx).EachEvent(
		func(e *proto.FetchRequestPaused) {
			// Errors are ignored: the request may be gone with its page
			if opts.BlockResources && blockedResourceTypes[e.ResourceType] {
				_ = proto.FetchFailRequest{
					RequestID:   e.RequestID,
					ErrorReason: proto.NetworkErrorReasonBlockedByClient,
				}.Call(page)
				return
			}
			_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(page)
		},
		func(e *proto.FetchAuthRequired) {
			log.Debug().Msg("Proxy authentication required, providing credentials")
			_ = proto.FetchContinueWithAuth{
				RequestID: e.RequestID,
				AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
					Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
					Username: opts.ProxyUsername,
					Password: opts.ProxyPassword,
				},
			}.Call(page)
		},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				log.Warn().Msg("Timeout waiting for interception listener to stop")
			}
		})
	}, nil
}

// buildPatterns returns the Fetch patterns for opts. Proxy auth needs every
// request paused; blocking alone only pauses the resource types it drops.
func buildPatterns(opts InterceptOptions) []*proto.FetchRequestPattern {
	if opts.ProxyUsername != "" {
		return []*proto.FetchRequestPattern{{URLPattern: "*"}}
	}

	patterns := make([]*proto.FetchRequestPattern, 0, len(blockedResourceTypes))
	for _, rt := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeMedia,
	} {
		patterns = append(patterns, &proto.FetchRequestPattern{
			URLPattern:   "*",
			ResourceType: rt,
		})
	}
	return patterns
}
