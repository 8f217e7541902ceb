package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/mcp-training/livefeedback/api"
	"github.com/wricardo/mcp-training/livefeedback/client"
	"github.com/wricardo/mcp-training/livefeedback/service"
	"github.com/wricardo/mcp-training/livefeedback/transport/mcp"
	"github.com/wricardo/mcp-training/livefeedback/transport/websocket"
)

// relay is the local surface over one guest session
type relay struct {
	handler http.Handler
	service service.FeedbackService
}

// newRelay wires hub, feedback service, REST API and the /mcp endpoint.
// mcpBaseURL is where the MCP proxy reaches the REST API. The hub stops
// when ctx is done; the caller closes the service.
func (a *app) newRelay(ctx context.Context, session *client.Session, mcpBaseURL string) *relay {
	hub := websocket.NewHub(websocket.HubConfig{
		Logger:  &a.logger,
		Metrics: a.metrics,
	})
	go hub.Run(ctx)

	feedbackService := service.NewFeedbackService(service.SessionBackend{Session: session}, service.Config{
		Buffer:      a.cfg.Buffer,
		Broadcaster: hub,
		Logger:      &a.logger,
	})

	apiServer := api.NewServer(feedbackService, hub, api.WithLogger(a.logger))

	// Create main router that combines API and MCP
	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.Handle("/mcp", mcpHandler(mcp.NewClient(mcpBaseURL)))

	return &relay{handler: mainRouter, service: feedbackService}
}

// mcpHandler serves MCP JSON-RPC messages over HTTP POST
func mcpHandler(mcpClient *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)
		if response == nil {
			// Notifications have no response
			w.WriteHeader(http.StatusAccepted)
			return
		}

		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(responseData)
	}
}

// runServe starts the HTTP relay and, when enabled, an ngrok tunnel serving
// the same router. It returns after a graceful shutdown once ctx is done.
func (a *app) runServe(ctx context.Context, cmd *cli.Command) error {
	if cmd.IsSet("port") {
		a.cfg.Port = cmd.Int("port")
	}
	if cmd.Bool("ngrok") {
		a.cfg.Ngrok.Enabled = true
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	session, err := a.login(ctx)
	if err != nil {
		return err
	}

	addr := a.cfg.Addr()
	r := a.newRelay(ctx, session, "http://"+addr)
	defer r.service.Close()

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		a.logger.Info().
			Str("addr", addr).
			Str("api", fmt.Sprintf("http://%s/api", addr)).
			Str("websocket", fmt.Sprintf("ws://%s/ws?room=<code>", addr)).
			Str("mcp", fmt.Sprintf("http://%s/mcp", addr)).
			Msg("relay listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if a.cfg.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runTunnel(ctx, r.handler)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutting down")
	case runErr = <-serveErr:
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	wg.Wait()
	a.logger.Info().Msg("relay stopped")
	return runErr
}

// runTunnel serves handler through ngrok until ctx is done. Failures are
// logged; the local listener keeps running.
func (a *app) runTunnel(ctx context.Context, handler http.Handler) {
	logger := a.logger.With().Str("module", "ngrok").Logger()

	var tunnel ngrokConfig.Tunnel
	if domain := a.cfg.Ngrok.Domain; domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		logger.Info().Str("domain", domain).Msg("using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	logger.Info().Msg("starting ngrok tunnel")
	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(a.cfg.Ngrok.AuthToken))
	if err != nil {
		logger.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}

	// http.Serve returns once the tunnel is closed
	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close ngrok tunnel")
		}
	}()

	ngrokURL := tun.URL()
	logger.Info().
		Str("url", ngrokURL).
		Str("api", ngrokURL+"/api").
		Str("mcp", ngrokURL+"/mcp").
		Msg("ngrok tunnel established")

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		logger.Error().Err(err).Msg("ngrok server error")
	}
	logger.Info().Msg("ngrok tunnel closed")
}

// runMCP runs an MCP stdio server. It reuses a relay already listening on
// the configured address, otherwise it starts an internal one bound to a
// random loopback port.
func (a *app) runMCP(ctx context.Context, cmd *cli.Command) error {
	externalURL := "http://" + a.cfg.Addr()

	baseURL, stop, err := a.mcpBackend(ctx, externalURL)
	if err != nil {
		return err
	}
	defer stop()

	mcpClient := mcp.NewClient(baseURL)
	a.logger.Info().Str("api", baseURL).Msg("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

// mcpBackend returns the REST API the stdio server proxies to and a func
// releasing whatever was started for it
func (a *app) mcpBackend(ctx context.Context, externalURL string) (string, func(), error) {
	a.logger.Debug().Str("url", externalURL).Msg("checking for a running relay")
	if relayAvailable(ctx, externalURL) {
		a.logger.Info().Str("url", externalURL).Msg("using running relay for MCP")
		return externalURL, func() {}, nil
	}

	session, err := a.login(ctx)
	if err != nil {
		return "", nil, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("failed to get available port: %w", err)
	}
	baseURL := "http://" + listener.Addr().String()

	relayCtx, cancel := context.WithCancel(ctx)
	r := a.newRelay(relayCtx, session, baseURL)
	httpServer := &http.Server{Handler: r.handler}

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("internal HTTP server error")
		}
	}()
	a.logger.Info().Str("addr", listener.Addr().String()).Msg("started internal relay for MCP stdio")

	stop := func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		r.service.Close()
		cancel()
	}
	return baseURL, stop, nil
}

// relayAvailable reports whether a relay answers the health check at baseURL
func relayAvailable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
