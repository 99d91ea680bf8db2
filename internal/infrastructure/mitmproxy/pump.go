package mitmproxy

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/infrastructure/streamparser"
)

const pumpReadChunk = 4096

// pumpIntercepted implements the two half-duplex flows of spec §4.3
// "Pump": client->upstream is read-and-forward (a rewrite hook point,
// passthrough by default); upstream->client is read-forward-and-decode,
// publishing to the stream bus only when the parsed frame changes.
func (p *Proxy) pumpIntercepted(client, upstream io.ReadWriteCloser) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(upstream, client) //nolint:errcheck // client hangup ends the tunnel, not the process
	}()

	p.pumpUpstreamToClient(client, upstream)
	<-done
}

func (p *Proxy) pumpUpstreamToClient(client io.Writer, upstream io.Reader) {
	logger := p.logger
	reader := bufio.NewReader(upstream)

	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	client.Write([]byte(statusLine)) //nolint:errcheck

	status := parseStatusCode(statusLine)

	headers, err := readHeaders(reader)
	if err != nil {
		return
	}
	client.Write(headers) //nolint:errcheck

	var decodeBuf []byte
	var prev entity.ParsedFrame
	buf := make([]byte, pumpReadChunk)

	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			client.Write(buf[:n]) //nolint:errcheck
			decodeBuf = append(decodeBuf, buf[:n]...)

			frame, done := streamparser.Parse(logger, decodeBuf)
			if !frame.Equal(prev) {
				p.bus.Publish(frame)
				prev = frame
			}
			if done {
				break
			}
		}
		if readErr != nil {
			break
		}
	}

	if status < 200 || status >= 300 {
		p.publishError(status, string(decodeBuf))
	}
}

// pumpBlind forwards both directions verbatim with no decoding — used
// for non-intercepted CONNECT tunnels and plain (non-CONNECT) requests.
func pumpBlind(client, upstream net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(upstream, client) //nolint:errcheck
	}()
	io.Copy(client, upstream) //nolint:errcheck
	<-done
}

func parseStatusCode(statusLine string) int {
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// publishError emits a terminal error frame (spec §4.3: "Publish an
// error frame if the upstream HTTP status is not 2xx, with
// error.status=429 classified as quota_exceeded").
func (p *Proxy) publishError(status int, message string) {
	p.bus.Publish(entity.ParsedFrame{
		Done:  true,
		Error: &entity.FrameError{Status: status, Message: message},
	})
}
