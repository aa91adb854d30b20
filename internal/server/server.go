package server

import (
	"net/http"
	"time"
)

func Handler(hub *Hub, deps Deps) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, deps)

	return mux
}

func New(addr string, hub *Hub, deps Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(hub, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
