// Package mitmproxy is C3: an HTTP proxy the browser is configured to
// use, which decrypts tunneled HTTPS for an allow-listed set of hosts
// and mirrors the provider's response onto the stream bus (spec §4.3).
package mitmproxy

import (
	"bufio"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/domain/service"
	"github.com/aistudioproxy/gateway/internal/infrastructure/certauthority"
	"github.com/aistudioproxy/gateway/pkg/safego"
)

// Config configures one Proxy instance.
type Config struct {
	ListenAddr    string
	UpstreamProxy string // optional chained HTTP proxy, host:port, reached via CONNECT; SOCKS proxies are not supported
}

// Proxy runs the accept loop and dispatches one goroutine per tunneled
// connection (spec §5: "MITM proxy owns its own net.Listener accept
// loop").
type Proxy struct {
	cfg    Config
	ca     *certauthority.Authority
	allow  atomic.Pointer[AllowList]
	bus    *service.StreamBus
	logger *zap.Logger

	ready chan struct{}
}

// New constructs a Proxy. allowHosts is the intercept allow-list
// (spec §4.3: "exact or leading-wildcard").
func New(cfg Config, ca *certauthority.Authority, allowHosts []string, bus *service.StreamBus, logger *zap.Logger) *Proxy {
	p := &Proxy{
		cfg:    cfg,
		ca:     ca,
		bus:    bus,
		logger: logger,
		ready:  make(chan struct{}),
	}
	p.allow.Store(NewAllowList(allowHosts))
	return p
}

// SetAllowHosts swaps the intercept allow-list in place, for config
// hot-reload (spec §6: the allow-list is one of the two fields safe to
// change without a restart). Safe to call concurrently with the accept
// loop.
func (p *Proxy) SetAllowHosts(allowHosts []string) {
	p.allow.Store(NewAllowList(allowHosts))
}

// Ready closes once the listener is accepting connections (spec §4.3,
// "Bootstrapping signal"): the orchestrator starts the browser only
// after this fires.
func (p *Proxy) Ready() <-chan struct{} {
	return p.ready
}

// ListenAndServe runs the accept loop until the listener is closed or
// stop fires. It never returns an error for a per-connection failure —
// only a listener-level failure (spec §4.3, "Failure semantics": "The
// proxy itself never terminates the process on per-connection errors").
func (p *Proxy) ListenAndServe(stop <-chan struct{}) error {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	close(p.ready)
	p.logger.Info("mitmproxy: listening", zap.String("addr", p.cfg.ListenAddr))

	go func() {
		<-stop
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				p.logger.Error("mitmproxy: accept failed", zap.Error(err))
				return err
			}
		}

		safego.Go(p.logger, "mitmproxy-conn", func() {
			defer conn.Close()
			p.handleConn(conn)
		})
	}
}

func (p *Proxy) handleConn(conn net.Conn) {
	reader := bufio.NewReader(conn)

	method, target, err := readRequestLine(reader)
	if err != nil {
		p.logger.Debug("mitmproxy: failed to read request line", zap.Error(err))
		return
	}

	if method != "CONNECT" {
		p.forwardPlain(conn, reader, method, target)
		return
	}

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}

	if err := drainHeaders(reader); err != nil {
		p.logger.Debug("mitmproxy: failed to drain CONNECT headers", zap.Error(err))
		return
	}

	if p.allow.Load().Allows(host) {
		p.handleIntercept(conn, reader, host, target)
		return
	}

	p.handleBlindTunnel(conn, target)
}
