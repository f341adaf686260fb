// Package httpmiddleware contains the net/http middleware stack of the API
// server.
package httpmiddleware

import "net/http"

// Middleware wraps an http.Handler. It has the same shape as chi middleware,
// so every Middleware can be passed to chi.Router.Use.
type Middleware func(next http.Handler) http.Handler

// Wrap applies middlewares to h so that the first one listed is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
