// File: internal/proxy/proxy.go

// Package proxy filters HTML pages in flight. It is a forward proxy that runs one full scan
// over every text/html response whose host is not whitelisted and serves the re-rendered
// document. Anything it cannot decode, parse or look up is passed through untouched.
package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/filter/gate"
	"github.com/xkilldash9x/shroud/internal/filter/scanner"
	"github.com/xkilldash9x/shroud/internal/network"
	"github.com/xkilldash9x/shroud/internal/page"
	"github.com/xkilldash9x/shroud/internal/page/memory"
	"github.com/xkilldash9x/shroud/internal/store"
)

// Server is the filtering proxy.
type Server struct {
	cfg     config.ProxyConfig
	proxy   *goproxy.ProxyHttpServer
	store   store.Store
	key     string
	scanner *scanner.Scanner
	logger  *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithKey overrides the whitelist storage key.
func WithKey(key string) Option {
	return func(s *Server) {
		if key != "" {
			s.key = key
		}
	}
}

// WithTransport replaces the upstream transport, which is mostly useful in tests.
func WithTransport(rt *http.Transport) Option { return func(s *Server) { s.proxy.Tr = rt } }

// New builds a proxy. When cfg.MITM is set the CA pair named by cfg is loaded and CONNECT
// tunnels are intercepted; otherwise HTTPS is tunnelled unfiltered.
func New(cfg config.ProxyConfig, st store.Store, sc *scanner.Scanner, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("proxy")

	gp := goproxy.NewProxyHttpServer()
	gp.Verbose = cfg.Verbose
	gp.Logger = zap.NewStdLog(log.Named("goproxy"))
	// Bodies are decoded by the response hook so the original bytes survive a pass-through.
	upstream := network.NewDefaultClientConfig()
	upstream.ResponseHeaderTimeout = cfg.Timeout
	upstream.DisableCompression = true
	upstream.ForceHTTP2 = false
	upstream.Logger = log
	gp.Tr = network.NewHTTPTransport(upstream)

	s := &Server{
		cfg:     cfg,
		proxy:   gp,
		store:   st,
		key:     gate.DefaultKey,
		scanner: sc,
		logger:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxBodySize <= 0 {
		s.cfg.MaxBodySize = 16 << 20
	}

	if cfg.MITM {
		action, err := loadMITM(cfg.CACert, cfg.CAKey)
		if err != nil {
			return nil, err
		}
		gp.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			return action, host
		}))
		log.Info("HTTPS interception enabled.", zap.String("ca_cert", cfg.CACert))
	} else {
		log.Info("HTTPS interception disabled, tunnelling CONNECT unfiltered.")
	}

	gp.OnRequest().DoFunc(s.handleRequest)
	gp.OnResponse().DoFunc(s.handleResponse)
	return s, nil
}

// Handler exposes the proxy as an http.Handler.
func (s *Server) Handler() http.Handler { return s.proxy }

// Run serves on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.proxy, ReadHeaderTimeout: 30 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Filtering proxy listening.", zap.String("address", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("proxy stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Hijacked CONNECT tunnels are not tracked by Shutdown; close what remains.
		_ = srv.Close()
	}
	<-errCh
	s.logger.Info("Filtering proxy stopped.")
	return nil
}

func (s *Server) handleRequest(r *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if r.Header.Get("Accept-Encoding") != "" {
		r.Header.Set("Accept-Encoding", acceptEncoding)
	}
	return r, nil
}

func (s *Server) handleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		return upstreamFailure(ctx)
	}
	if !filterable(resp) {
		return resp
	}

	href := resp.Request.URL.String()
	identity := page.HostOf(href)
	if identity == "" {
		return resp
	}
	log := s.logger.With(zap.String("request_id", uuid.NewString()), zap.String("identity", identity))

	lookupCtx := resp.Request.Context()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(lookupCtx, s.cfg.Timeout)
		defer cancel()
	}
	whitelisted, err := gate.IsWhitelisted(lookupCtx, s.store, s.key, identity)
	if err != nil {
		log.Warn("Whitelist lookup failed, passing response through.", zap.Error(err))
		return resp
	}
	if whitelisted {
		log.Debug("Whitelisted host, passing response through.")
		return resp
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodySize+1))
	if err != nil || int64(len(raw)) > s.cfg.MaxBodySize {
		log.Debug("Passing response through unfiltered.", zap.Error(err), zap.Int64("max_body_size", s.cfg.MaxBodySize))
		restoreBody(resp, raw)
		return resp
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))

	filtered, res, err := s.filter(raw, resp.Header, href)
	if err != nil {
		log.Debug("Passing response through unfiltered.", zap.Error(err))
		return resp
	}
	if res.Mutations() == 0 {
		return resp
	}

	resp.Body = io.NopCloser(bytes.NewReader(filtered))
	resp.ContentLength = int64(len(filtered))
	resp.Header.Set("Content-Length", strconv.Itoa(len(filtered)))
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("ETag")
	resp.Uncompressed = true

	log.Info("Filtered page.",
		zap.String("url", href),
		zap.Int("removed", res.Removed),
		zap.Int("redacted", res.Redacted),
		zap.Int("failures", res.Failures))
	return resp
}

// filter decodes, scans and re-renders one HTML body.
func (s *Server) filter(raw []byte, h http.Header, href string) ([]byte, scanner.Result, error) {
	decoded, err := decodeBody(raw, contentEncodings(h), s.cfg.MaxBodySize)
	if err != nil {
		return nil, scanner.Result{}, err
	}
	text, err := charset.NewReader(bytes.NewReader(decoded), h.Get("Content-Type"))
	if err != nil {
		return nil, scanner.Result{}, fmt.Errorf("charset: %w", err)
	}
	doc, err := memory.Parse(text, href)
	if err != nil {
		return nil, scanner.Result{}, err
	}
	defer doc.Close()

	doc.Lock()
	res := s.scanner.Scan(doc, doc.Body())
	doc.Unlock()
	if res.Mutations() == 0 {
		return nil, res, nil
	}

	var out bytes.Buffer
	if err := doc.Render(&out); err != nil {
		return nil, scanner.Result{}, fmt.Errorf("failed to render filtered page: %w", err)
	}
	return out.Bytes(), res, nil
}

// filterable reports whether resp carries a complete HTML document worth scanning.
func filterable(resp *http.Response) bool {
	if resp.Body == nil || resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	if resp.Request.Method == http.MethodHead || resp.StatusCode < 200 || resp.StatusCode >= 300 ||
		resp.StatusCode == http.StatusNoContent {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

// restoreBody puts the bytes already read back in front of whatever remains of the body.
func restoreBody(resp *http.Response, consumed []byte) {
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(consumed), resp.Body), resp.Body}
}

func upstreamFailure(ctx *goproxy.ProxyCtx) *http.Response {
	msg := "unknown error"
	if ctx.Error != nil {
		msg = ctx.Error.Error()
	}
	code := http.StatusBadGateway
	var netErr net.Error
	if errors.As(ctx.Error, &netErr) && netErr.Timeout() {
		code = http.StatusGatewayTimeout
	}
	if ctx.Req == nil {
		return &http.Response{
			StatusCode: code,
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewBufferString("Proxy error: " + msg)),
		}
	}
	return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, code, "Proxy error: upstream connection failed: "+msg)
}

// loadMITM reads the PEM CA pair and returns a CONNECT action that intercepts with it.
func loadMITM(certPath, keyPath string) (*goproxy.ConnectAction, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key: %w", err)
	}
	ca, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid CA certificate/key pair: %w", err)
	}
	if ca.Leaf, err = x509.ParseCertificate(ca.Certificate[0]); err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	base := goproxy.TLSConfigFromCA(&ca)
	return &goproxy.ConnectAction{
		Action: goproxy.ConnectMitm,
		TLSConfig: func(host string, ctx *goproxy.ProxyCtx) (*tls.Config, error) {
			cfg, err := base(host, ctx)
			if err != nil {
				return nil, err
			}
			if cfg.MinVersion < tls.VersionTLS12 {
				cfg.MinVersion = tls.VersionTLS12
			}
			return cfg, nil
		},
	}, nil
}
