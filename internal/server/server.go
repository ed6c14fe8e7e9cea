// Package server wires the HTTP surface: JSON endpoints for the unary
// operations and a websocket upgrade for the subscribe stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sherzodv/tim/internal/gateway"
	"github.com/sherzodv/tim/internal/server/middleware"
	"github.com/sherzodv/tim/pkg/config"
	"github.com/sherzodv/tim/pkg/hub"
	"github.com/sherzodv/tim/pkg/transport"
	"github.com/sherzodv/tim/pkg/wire"
)

const defaultTimelinePageSize = 100

type App struct {
	logger  *slog.Logger
	gateway *gateway.Gateway
	hub     *hub.Hub
	config  *config.Config
	http    *http.Server

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, gw *gateway.Gateway, h *hub.Hub) *App {
	app := &App{
		logger:  logger,
		gateway: gw,
		hub:     h,
		config:  cfg,
		ctx:     rootCtx,
	}

	meta := middleware.RequestMetadataMiddleware()
	reqLog := middleware.NewRequestLogger(logger)
	auth := middleware.NewAuthMiddleware(logger, gw.Authorize)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/register",
		middleware.Chain(http.HandlerFunc(app.handleRegister), meta, reqLog))
	mux.Handle("POST /v1/connect",
		middleware.Chain(http.HandlerFunc(app.handleConnect), meta, reqLog))
	mux.Handle("POST /v1/send",
		middleware.Chain(http.HandlerFunc(app.handleSend), meta, reqLog, auth))
	mux.Handle("GET /v1/timeline",
		middleware.Chain(http.HandlerFunc(app.handleTimeline), meta, reqLog, auth))
	// The subscribe endpoint authenticates after the upgrade so the client
	// receives a close code instead of a failed handshake; see handleSubscribe.
	mux.Handle("GET /v1/subscribe",
		middleware.Chain(http.HandlerFunc(app.handleSubscribe), meta, reqLog))

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app
}

// Handler exposes the routing surface, mostly for tests running the app under
// httptest instead of a bound listener.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	g, gctx := errgroup.WithContext(a.ctx)

	g.Go(func() error {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		interval := a.config.Hub.SweepInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := a.hub.Sweep(); removed > 0 {
					a.logger.Debug("Swept dead subscribers", slog.Int("removed", removed))
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown runs the graceful shutdown sequence. Streaming connections are
// hijacked from the HTTP server, so they terminate through the base context
// cancellation rather than http.Server.Shutdown.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}

// --- Unary handlers ---

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeBadRequest(w, "malformed register request")
		return
	}
	sess, err := a.gateway.Register(req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, wire.SessionRes{Session: sess})
}

func (a *App) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req wire.ConnectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeBadRequest(w, "malformed connect request")
		return
	}
	sess, err := a.gateway.Connect(req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, wire.SessionRes{Session: sess})
}

func (a *App) handleSend(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || reqMeta.Session == nil {
		a.writeError(w, wire.ErrUnauthenticated)
		return
	}
	var req wire.SendMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeBadRequest(w, "malformed send request")
		return
	}
	if err := a.gateway.SendMessage(*reqMeta.Session, req.Space, req.Content); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleTimeline(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	space := query.Get("space")
	offset, _ := strconv.ParseUint(query.Get("offset"), 10, 64)
	size := uint64(defaultTimelinePageSize)
	if raw := query.Get("size"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			a.writeBadRequest(w, "malformed size parameter")
			return
		}
		size = parsed
	}

	res, err := a.gateway.Timeline(space, offset, uint32(size))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

// --- Subscribe handler ---

func (a *App) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())

	query := r.URL.Query()
	space := query.Get("space")
	receiveOwn := query.Get("receiveOwn") != "false"

	key := r.Header.Get(wire.SessionHeader)
	if key == "" {
		key = query.Get("session")
	}
	sess, authErr := a.gateway.Authorize(key)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	// Authentication failures are reported through a close code rather than a
	// failed handshake, so clients can distinguish a dead session from a dead
	// server.
	if authErr != nil {
		wsConn.Close(websocket.StatusCode(wire.CloseStatusUnauthenticated), "unauthenticated")
		return
	}

	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.Uint64("timiteID", sess.TimiteID),
	)

	if !a.allowSubscription(sess.TimiteID) {
		connLogger.Warn("Subscription limit reached")
		wsConn.Close(websocket.StatusPolicyViolation, "too many active subscriptions")
		return
	}

	sub := a.gateway.Subscribe(sess, space, receiveOwn)
	conn := transport.NewStreamConn(
		r.Context(),
		wsConn,
		sub,
		transport.StreamConfig{
			ReadTimeout:  a.config.Transport.ReadTimeout,
			WriteTimeout: a.config.Transport.WriteTimeout,
		},
		func(id uuid.UUID, err error) {
			connLogger.Info("Stream closed", slog.String("connID", id.String()))
		},
		connLogger,
	)

	connLogger.Info("Subscription fully established", slog.String("space", space))
	conn.Run()
	<-conn.Done()
	a.gateway.Unsubscribe(sess, space, sub)
}

// --- Response helpers ---

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("Failed to encode response", slog.Any("error", err))
	}
}

func (a *App) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wire.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, wire.ErrTimiteNotFound):
		status = http.StatusNotFound
	default:
		a.logger.Error("Request failed", slog.Any("error", err))
	}
	a.writeJSON(w, status, wire.ErrorRes{Code: wire.CodeFor(err), Message: err.Error()})
}

func (a *App) writeBadRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, wire.ErrorRes{Code: "bad_request", Message: msg})
}
