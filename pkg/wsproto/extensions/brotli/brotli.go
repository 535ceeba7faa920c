// Package brotli implements a demonstration per-frame extension, occupying
// the chain's reserved per-frame slot (as opposed to the per-message slot
// permessage-deflate uses) with brotli compression applied to every frame's
// payload, control frames included. It is not a registered IANA extension —
// the token name below is chosen the same way RFC 6455 implementations name
// their own private extensions, not standardized ones.
package brotli

import (
	"bytes"
	"io"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/yourusername/wsproto/pkg/wsproto"
)

const token = "x-brotli-frame"

// Extension is a per-frame Extension: unlike permessage-deflate it is not
// gated to final Text/Binary frames and therefore sees control frame
// payloads too, which is the point of the chain's separate per-frame slot
// (spec §3, §9).
type Extension struct {
	enabled bool
	quality int
}

// New returns a not-yet-negotiated brotli per-frame extension at the given
// compression quality (0-11; see andybalholm/brotli).
func New(quality int) *Extension { return &Extension{quality: quality} }

// Factory adapts New to wsproto.ExtensionFactory at a fixed quality.
type Factory struct{ Quality int }

func (f Factory) New() wsproto.Extension { return New(f.Quality) }

func (e *Extension) Name() string  { return token }
func (e *Extension) Enabled() bool { return e.enabled }

// ReserveRSV claims RSV2 (bit 0x2), leaving RSV1 free for a per-message
// extension such as permessage-deflate to occupy at the same time.
func (e *Extension) ReserveRSV(current byte) (byte, error) {
	const rsv2 = 0x2
	if current&rsv2 != 0 {
		e.enabled = false
		return current, errReserved
	}
	return current | rsv2, nil
}

type reservedErr struct{}

func (reservedErr) Error() string { return "x-brotli-frame: RSV2 already reserved" }

var errReserved = reservedErr{}

func (e *Extension) FromHeader(raw string) error {
	e.enabled = false
	for _, item := range strings.Split(raw, ",") {
		name := strings.TrimSpace(strings.Split(item, ";")[0])
		if strings.EqualFold(name, token) {
			e.enabled = true
			return nil
		}
	}
	return nil
}

func (e *Extension) IntoHeader() (string, bool) {
	if !e.enabled {
		return "", false
	}
	return token, true
}

// OfferHeader returns the client's initial offer of the private x-brotli-
// frame token. It carries no parameters.
func (e *Extension) OfferHeader() (string, bool) { return token, true }

// Decode decompresses a brotli-wrapped frame payload and clears RSV2.
func (e *Extension) Decode(f *wsproto.Frame) error {
	if !e.enabled || !f.RSV2 || len(f.ApplicationData) == 0 {
		return nil
	}
	r := brotli.NewReader(bytes.NewReader(f.ApplicationData))
	out, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.ApplicationData = out
	f.RSV2 = false
	return nil
}

// Encode compresses the frame payload with brotli and sets RSV2 to mark it.
func (e *Extension) Encode(f *wsproto.Frame) error {
	if !e.enabled || len(f.ApplicationData) == 0 {
		return nil
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, e.quality)
	if _, err := w.Write(f.ApplicationData); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	f.ApplicationData = buf.Bytes()
	f.RSV2 = true
	return nil
}
