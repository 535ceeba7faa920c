// Package deflate implements the permessage-deflate extension (RFC 7692) as
// a wsproto.Extension, using klauspost/compress's raw-deflate implementation
// rather than the standard library's compress/flate.
package deflate

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/yourusername/wsproto/pkg/wsproto"
)

// deflateTrailer is the 4-byte sync-flush marker of RFC 7692 §7.2.1: Encode
// strips it from the end of a compressed message, and Decode appends it
// again before the payload is handed to the decompressor.
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// Extension is the permessage-deflate per-message Extension. It always
// resets its compression context between messages — equivalent to both
// sides negotiating no_context_takeover — trading a little compression
// ratio for not having to keep a live Writer/Reader pair alive across the
// whole connection lifetime.
type Extension struct {
	enabled bool

	// serverNoContextTakeover/clientNoContextTakeover are recorded from the
	// negotiated header for IntoHeader's response (window-bits parameters
	// are not recorded at all) but do
	// not otherwise change behavior: this implementation already resets
	// context on every message regardless of what is negotiated.
	serverNoContextTakeover bool
	clientNoContextTakeover bool
}

// New returns a fresh, not-yet-negotiated permessage-deflate extension.
func New() *Extension { return &Extension{} }

// Factory adapts New to wsproto.ExtensionFactory.
type Factory struct{}

func (Factory) New() wsproto.Extension { return New() }

func (e *Extension) Name() string    { return "permessage-deflate" }
func (e *Extension) Enabled() bool   { return e.enabled }

// ReserveRSV claims RSV1 (bit 0x4 in the packed RSV mask), the bit RFC 7692
// §6 assigns to permessage-deflate.
func (e *Extension) ReserveRSV(current byte) (byte, error) {
	const rsv1 = 0x4
	if current&rsv1 != 0 {
		e.enabled = false
		return current, errReserved
	}
	return current | rsv1, nil
}

var errReserved = wsprotoReservedErr{}

type wsprotoReservedErr struct{}

func (wsprotoReservedErr) Error() string { return "permessage-deflate: RSV1 already reserved" }

// FromHeader looks for a "permessage-deflate" token among the comma
// separated extension offers/accepts in raw and records whether it is
// present, along with its context-takeover parameters.
func (e *Extension) FromHeader(raw string) error {
	e.enabled = false
	for _, item := range strings.Split(raw, ",") {
		params := strings.Split(item, ";")
		name := strings.TrimSpace(params[0])
		if !strings.EqualFold(name, e.Name()) {
			continue
		}
		e.enabled = true
		for _, p := range params[1:] {
			p = strings.TrimSpace(strings.ToLower(p))
			switch {
			case p == "server_no_context_takeover":
				e.serverNoContextTakeover = true
			case p == "client_no_context_takeover":
				e.clientNoContextTakeover = true
			}
		}
		return nil
	}
	return nil
}

// OfferHeader returns the client's initial offer: the bare "permessage-
// deflate" token, with no parameters. This implementation always resets
// its compression context per message regardless of what is negotiated, so
// it has no context-takeover or window-bits preference to advertise.
func (e *Extension) OfferHeader() (string, bool) { return e.Name(), true }

// IntoHeader returns the response token for a server that has accepted this
// extension. Window-bits parameters are not echoed since this
// implementation does not vary its window size.
func (e *Extension) IntoHeader() (string, bool) {
	if !e.enabled {
		return "", false
	}
	var b strings.Builder
	b.WriteString(e.Name())
	if e.serverNoContextTakeover {
		b.WriteString("; server_no_context_takeover")
	}
	if e.clientNoContextTakeover {
		b.WriteString("; client_no_context_takeover")
	}
	return b.String(), true
}

// Decode inflates frame.ApplicationData when RSV1 is set, clearing the bit
// once the message has been restored to its uncompressed form.
func (e *Extension) Decode(f *wsproto.Frame) error {
	if !e.enabled || !f.RSV1 {
		return nil
	}
	src := append(append([]byte(nil), f.ApplicationData...), deflateTrailer...)
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.ApplicationData = out
	f.RSV1 = false
	return nil
}

// Encode deflates frame.ApplicationData and sets RSV1 to mark the message
// compressed, per RFC 7692 §7.2.1.
func (e *Extension) Encode(f *wsproto.Frame) error {
	if !e.enabled {
		return nil
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return err
	}
	if _, err := w.Write(f.ApplicationData); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	compressed := buf.Bytes()
	compressed = bytes.TrimSuffix(compressed, deflateTrailer)

	f.ApplicationData = compressed
	f.RSV1 = true
	return nil
}
