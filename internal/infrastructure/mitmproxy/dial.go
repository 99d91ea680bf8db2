package mitmproxy

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
)

// dialUpstream opens a connection to target (host:port), transparently
// chaining through an external HTTP proxy when one is configured
// (spec §4.3, "Upstream proxy chaining").
func (p *Proxy) dialUpstream(target string) (net.Conn, error) {
	if p.cfg.UpstreamProxy == "" {
		return net.Dial("tcp", target)
	}
	return dialViaUpstreamProxy(p.cfg.UpstreamProxy, target)
}

// dialUpstreamTLS opens a TLS connection to target through dialUpstream,
// verifying the real provider certificate (this is the proxy's own
// outbound leg, not the client-facing MITM leg).
func (p *Proxy) dialUpstreamTLS(host, target string) (*tls.Conn, error) {
	raw, err := p.dialUpstream(target)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(raw, &tls.Config{ServerName: host})
	if err := tlsConn.Handshake(); err != nil {
		raw.Close()
		return nil, err
	}
	return tlsConn, nil
}

// dialViaUpstreamProxy issues a CONNECT through an external HTTP proxy
// and returns the tunneled connection once the proxy answers 200.
func dialViaUpstreamProxy(proxyAddr, target string) (net.Conn, error) {
	conn, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodConnect, "http://"+target, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	req.Host = target

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("mitmproxy: upstream proxy refused CONNECT: %s", resp.Status)
	}
	return conn, nil
}
