package mitmproxy

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// readRequestLine reads and parses "METHOD target HTTP/1.1\r\n" off
// reader. It does not consume the header block that follows.
func readRequestLine(reader *bufio.Reader) (method, target string, err error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", fmt.Errorf("mitmproxy: malformed request line %q", line)
	}
	return fields[0], fields[1], nil
}

// drainHeaders consumes header lines up to and including the blank
// line terminating a CONNECT request (whose headers the proxy has no
// use for once the tunnel decision is made).
func drainHeaders(reader *bufio.Reader) error {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

// readHeaders reads header lines up to and including the blank line,
// returning them verbatim (CRLF-terminated) so a non-CONNECT request
// can be forwarded byte-for-byte.
func readHeaders(reader *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		buf.WriteString(line)
		if strings.TrimRight(line, "\r\n") == "" {
			return buf.Bytes(), nil
		}
	}
}
