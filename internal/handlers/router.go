package handlers

import (
	"net/http"
)

// Router dispatches the API paths. Every route is GET only; anything else
// gets a {"detail"} 405, and unknown paths a {"detail"} 404.
type Router struct {
	handler *Handler
	routes  map[string]http.HandlerFunc
}

// NewRouter creates the router for h.
func NewRouter(h *Handler) *Router {
	return &Router{
		handler: h,
		routes: map[string]http.HandlerFunc{
			"/api":    h.HandleResolve,
			"/scrape": h.HandleResolve,
			"/health": h.HandleHealth,
			"/stats":  h.HandleStats,
		},
	}
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := rt.routes[r.URL.Path]
	if !ok {
		rt.handler.HandleNotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		rt.handler.HandleMethodNotAllowed(w, r)
		return
	}
	route(w, r)
}
