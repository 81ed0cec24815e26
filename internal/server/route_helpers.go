package server

import (
	"net/http"

	"github.com/ternarybob/chantier/internal/handlers"
	"github.com/ternarybob/chantier/internal/interfaces"
)

// RouteHandler is a function type for HTTP handlers
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps HTTP methods to handlers
type MethodRouter map[string]RouteHandler

// RouteByMethod routes requests based on HTTP method with standardized error handling
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		handlers.WriteError(w, http.StatusMethodNotAllowed, interfaces.KindInvalidInput, "Method not allowed")
		return
	}
	handler(w, r)
}
