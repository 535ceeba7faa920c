package wsproto

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // mandated by RFC 6455 §1.3, not used for confidentiality
	"encoding/base64"
)

// websocketGUID is the RFC 6455 §1.3 fixed constant concatenated with the
// client's key before hashing.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// computeAcceptKey returns base64(SHA1(key + GUID)) (spec §3, Property 3).
func computeAcceptKey(key string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// newClientKey generates a fresh Sec-WebSocket-Key: 16 random bytes, base64
// encoded (spec §3 Handshake Request, §4.3).
func newClientKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// headerTerminator is the blank line that ends an HTTP/1.1 header block.
var headerTerminator = []byte("\r\n\r\n")

// findHeaderBlock scans buf for the CRLFCRLF terminator. It returns the
// index one past the terminator (i.e. the total length of the header
// block) or -1 if the terminator has not arrived yet.
//
// This mirrors shockwave/http11.Parser.readUntilHeadersEnd's job of finding
// the header boundary before doing any structured parsing, adapted from an
// io.Reader loop into a pure buffer scan so it composes with Session's
// resumable Decode contract instead of blocking on a reader.
func findHeaderBlock(buf []byte) int {
	idx := bytes.Index(buf, headerTerminator)
	if idx < 0 {
		return -1
	}
	return idx + len(headerTerminator)
}

// headerContainsToken reports whether a comma-separated header value
// contains token, case-insensitively — the RFC 6455 §4.2.1 token match used
// for Upgrade/Connection.
func headerContainsToken(value, token string) bool {
	for _, part := range bytes.Split([]byte(value), []byte(",")) {
		if bytes.EqualFold(bytes.TrimSpace(part), []byte(token)) {
			return true
		}
	}
	return false
}

// negotiateSubprotocol picks the first client-offered protocol present in
// the server's configured list, in the client's offered order — the
// first-match tie-break used by both reference upgraders this package draws
// on (spec §4.2 leaves the selection rule unspecified).
func negotiateSubprotocol(offered, configured []string) string {
	for _, want := range offered {
		for _, have := range configured {
			if want == have {
				return want
			}
		}
	}
	return ""
}

// bufioOf wraps a fixed header block (already known to be complete, per
// findHeaderBlock) in a bufio.Reader sized exactly to it, so the fasthttp
// header parser — built around bufio.Reader — can run over an in-memory
// slice without touching a real connection or blocking for more data.
func bufioOf(block []byte) *bufio.Reader {
	return bufio.NewReaderSize(bytes.NewReader(block), len(block))
}
