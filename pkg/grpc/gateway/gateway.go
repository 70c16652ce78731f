// Package gateway wraps the grpc-gateway ServeMux with route groups and
// middleware so plain HTTP handlers can share the mux with gRPC routes.
package gateway

import (
	"fmt"
	"net/http"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// HTTPMiddlewareFunc wraps the whole mux
type HTTPMiddlewareFunc func(http.HandlerFunc) http.HandlerFunc

// Gateway ...
type Gateway struct {
	mux           *gwruntime.ServeMux
	premiddleware []HTTPMiddlewareFunc
	middleware    []HTTPMiddlewareFunc
}

// New ...
func New(opts ...gwruntime.ServeMuxOption) *Gateway {
	mux := gwruntime.NewServeMux(opts...)
	return &Gateway{mux: mux}
}

// Mux ...
func (gw *Gateway) Mux() *gwruntime.ServeMux {
	return gw.mux
}

func applyMiddleware(h http.HandlerFunc, middleware ...HTTPMiddlewareFunc) http.HandlerFunc {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// ServeHTTP ...
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := func(w http.ResponseWriter, r *http.Request) {
		gw.mux.ServeHTTP(w, r)
	}

	h = applyMiddleware(h, gw.middleware...)
	h = applyMiddleware(h, gw.premiddleware...)

	h(w, r)
}

// Use adds middleware to the chain which is run after router.
func (gw *Gateway) Use(middleware ...HTTPMiddlewareFunc) {
	gw.middleware = append(gw.middleware, middleware...)
}

// Pre adds middleware to the chain which is run before router.
func (gw *Gateway) Pre(middleware ...HTTPMiddlewareFunc) {
	gw.premiddleware = append(gw.premiddleware, middleware...)
}

// MiddlewareFunc wraps a single route
type MiddlewareFunc func(gwruntime.HandlerFunc) gwruntime.HandlerFunc

// Group ...
func (gw *Gateway) Group(prefix string, m ...MiddlewareFunc) (g *Group) {
	g = &Group{
		prefix: prefix,
		gw:     gw,
	}
	g.Use(m...)
	return
}

// Group registers routes under a common prefix
type Group struct {
	prefix     string
	gw         *Gateway
	middleware []MiddlewareFunc
}

// Mux ...
func (g *Group) Mux() *gwruntime.ServeMux {
	return g.gw.mux
}

// Use ...
func (g *Group) Use(middleware ...MiddlewareFunc) {
	g.middleware = append(g.middleware, middleware...)
}

// GET ...
func (g *Group) GET(path string, h gwruntime.HandlerFunc, m ...MiddlewareFunc) {
	g.add(http.MethodGet, path, h, m...)
}

// POST ...
func (g *Group) POST(path string, h gwruntime.HandlerFunc, m ...MiddlewareFunc) {
	g.add(http.MethodPost, path, h, m...)
}

// PUT ...
func (g *Group) PUT(path string, h gwruntime.HandlerFunc, m ...MiddlewareFunc) {
	g.add(http.MethodPut, path, h, m...)
}

// DELETE ...
func (g *Group) DELETE(path string, h gwruntime.HandlerFunc, m ...MiddlewareFunc) {
	g.add(http.MethodDelete, path, h, m...)
}

func (g *Group) add(method, path string, h gwruntime.HandlerFunc, m ...MiddlewareFunc) {
	middleware := make([]MiddlewareFunc, 0, len(g.middleware)+len(m))
	middleware = append(middleware, g.middleware...)
	middleware = append(middleware, m...)
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	if err := g.gw.mux.HandlePath(method, g.prefix+path, h); err != nil {
		panic(fmt.Sprintf("gateway: register %s %s: %v", method, g.prefix+path, err))
	}
}
