// Package net serves the auction over HTTP/JSON and streams clearings over a
// websocket.
package net

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"

	"github.com/research-ag/icrc1-auction/internal/auction"
	. "github.com/research-ag/icrc1-auction/internal/common"
)

const (
	PrincipalHeader = "X-Principal"
	RequestIDHeader = "X-Request-Id"

	defaultReadTimeout     = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

type principalKey struct{}

type Server struct {
	address  string
	svc      *auction.Service
	feed     *Feed
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

func New(address string, svc *auction.Service, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	return &Server{
		address:  address,
		svc:      svc,
		feed:     NewFeed(log.With().Str("component", "feed").Logger()),
		gatherer: gatherer,
		log:      log,
	}
}

// Feed is the websocket reporter; register it with the service.
func (s *Server) Feed() *Feed {
	return s.feed
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", PrincipalHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/assets", s.handleAssets)
	r.Get("/settings", s.handleSettings)
	r.Get("/session", s.handleSession)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Handle("/ws", s.feed)

	r.Group(func(r chi.Router) {
		r.Use(requirePrincipal)

		r.Get("/deposit-account", s.handleDepositAccount)
		r.Post("/deposits/notify", s.handleNotify)
		r.Post("/withdrawals", s.handleWithdraw)

		r.Post("/bids", s.handlePlace(Bid))
		r.Post("/asks", s.handlePlace(Ask))
		r.Post("/orders/cancel", s.handleCancel)
		r.Post("/orders/cancel-all", s.handleCancelAll)
		r.Post("/orders/manage", s.handleManage)
		r.Post("/orders/{id}/replace", s.handleReplace)
		r.Post("/dark-books", s.handleDarkBooks)
		r.Post("/query", s.handleQuery)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/admins", s.handleListAdmins)
			r.Post("/admins", s.handleAddAdmin)
			r.Delete("/admins/{principal}", s.handleRemoveAdmin)
			r.Post("/assets", s.handleRegisterAsset)
			r.Put("/assets/{id}/min-order-volume", s.handleMinOrderVolume)
			r.Put("/quote-volume-minimum", s.handleQuoteVolumeMinimum)
		})
	})
	return r
}

// Run serves until t is dying.
func (s *Server) Run(t *tomb.Tomb) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(t.Context(nil), "tcp", s.address)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadTimeout,
	}

	t.Go(func() error {
		<-t.Dying()
		s.log.Info().Msg("server shutting down")
		s.feed.Close()
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	s.log.Info().Str("address", listener.Addr().String()).Msg("server running")
	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(started)).
			Msg("request")
	})
}

func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.Header.Get(PrincipalHeader)
		if p == "" {
			writeError(w, ErrMissingPrincipal)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, UserID(p))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principal(r *http.Request) UserID {
	p, _ := r.Context().Value(principalKey{}).(UserID)
	return p
}
