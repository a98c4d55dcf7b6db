package main

import (
	"net/http"
	"sync/atomic"
)

// swappableHandler lets the server accept connections before the full
// router is built
type swappableHandler struct {
	h atomic.Pointer[http.Handler]
}

func (s *swappableHandler) Set(h http.Handler) { s.h.Store(&h) }

func (s *swappableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.h.Load()).ServeHTTP(w, r)
}
