package mitmproxy

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"net/url"

	"go.uber.org/zap"
)

// handleIntercept implements the DECIDE_INTERCEPT=yes branch: SEND 200
// Connection Established, START_TLS_AS_SERVER with a minted leaf,
// OPEN_UPSTREAM_TLS, then PUMP (spec §4.3).
func (p *Proxy) handleIntercept(client net.Conn, clientReader *bufio.Reader, host, target string) {
	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		p.logger.Debug("mitmproxy: failed to send 200", zap.String("host", host), zap.Error(err))
		return
	}

	leaf, err := p.ca.GetLeaf(host)
	if err != nil {
		p.logger.Error("mitmproxy: leaf mint failed", zap.String("host", host), zap.Error(err))
		p.publishError(502, "certificate mint failed: "+err.Error())
		return
	}

	tlsClient := tls.Server(&bufferedConn{Conn: client, r: clientReader}, &tls.Config{
		Certificates: []tls.Certificate{leaf},
	})
	if err := tlsClient.Handshake(); err != nil {
		p.logger.Debug("mitmproxy: client TLS handshake failed", zap.String("host", host), zap.Error(err))
		return
	}
	defer tlsClient.Close()

	upstream, err := p.dialUpstreamTLS(host, target)
	if err != nil {
		// spec §4.3 "Failure semantics": a TLS handshake error with the
		// upstream is reported as an error frame, the tunnel closes, the
		// process keeps running.
		p.logger.Warn("mitmproxy: upstream TLS dial/handshake failed", zap.String("host", host), zap.Error(err))
		p.publishError(502, "upstream TLS handshake failed: "+err.Error())
		return
	}
	defer upstream.Close()

	p.pumpIntercepted(tlsClient, upstream)
}

// handleBlindTunnel implements DECIDE_INTERCEPT=no: OPEN_UPSTREAM_TCP
// then BLIND_FORWARD, with no decode or parsing on either leg.
func (p *Proxy) handleBlindTunnel(client net.Conn, target string) {
	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	upstream, err := p.dialUpstream(target)
	if err != nil {
		p.logger.Debug("mitmproxy: blind tunnel dial failed", zap.String("target", target), zap.Error(err))
		return
	}
	defer upstream.Close()

	pumpBlind(client, upstream)
}

// forwardPlain handles a non-CONNECT request (spec §4.3: "non-CONNECT:
// forward verbatim"). It reconstructs the already-consumed request
// line (in origin form, as HTTP/1.1) and forwards it with the header
// block unchanged, then pumps the remainder of both directions raw.
func (p *Proxy) forwardPlain(client net.Conn, clientReader *bufio.Reader, method, target string) {
	headers, err := readHeaders(clientReader)
	if err != nil {
		return
	}

	requestLine := target
	host := target
	if u, parseErr := url.Parse(target); parseErr == nil && u.Host != "" {
		// Absolute-form request-URI (what a real HTTP proxy client
		// sends): rewrite to origin-form before forwarding, and dial the
		// host the URI names.
		host = u.Host
		requestLine = u.RequestURI()
	}
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "80")
	}

	upstream, err := p.dialUpstream(host)
	if err != nil {
		p.logger.Debug("mitmproxy: plain forward dial failed", zap.String("target", target), zap.Error(err))
		return
	}
	defer upstream.Close()

	if _, err := upstream.Write([]byte(method + " " + requestLine + " HTTP/1.1\r\n")); err != nil {
		return
	}
	if _, err := upstream.Write(headers); err != nil {
		return
	}

	pumpBlind(client, upstream)
}

// bufferedConn lets a bufio.Reader that has already consumed bytes
// past the request line participate in a tls.Server handshake as if
// it were the raw connection.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

var _ io.ReadWriteCloser = (*bufferedConn)(nil)
