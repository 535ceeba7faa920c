package wsproto

import (
	"strings"
	"sync"
)

// Extension is one member of a connection's negotiated extension chain
// (spec §3, §4.4).
//
// RSV mask convention: ReserveRSV's current/returned byte packs RSV1 into
// bit 2 (0x4), RSV2 into bit 1 (0x2), RSV3 into bit 0 (0x1) — the same
// layout Frame.rsvMask uses internally, so a Session can compare a decoded
// frame's RSV bits against the chain's reserved mask with a single AND.
//
// Contract: ReserveRSV must be monotone (only ever add bits, never clear
// one) and, on detecting that the bit(s) it wants are already claimed, must
// flip its own Enabled() to false before returning a non-nil error — the
// chain treats that error as "disable this extension" rather than a fatal
// negotiation failure. Decode must never alter Opcode or Fin.
type Extension interface {
	Name() string
	Enabled() bool
	ReserveRSV(current byte) (byte, error)
	Decode(f *Frame) error
	Encode(f *Frame) error
	FromHeader(raw string) error
	IntoHeader() (string, bool)

	// OfferHeader returns the value this extension wants placed in a
	// client's initial Sec-WebSocket-Extensions offer, and whether it wants
	// to be offered at all. Unlike IntoHeader it runs before any
	// negotiation — Enabled() is not yet meaningful — so it must be a pure
	// function of the extension's own configuration (spec §4.5 encode: the
	// client path runs offer collection before handing off to the Client
	// Handshake Codec, symmetric to the server path's NegotiateServer).
	OfferHeader() (string, bool)
}

// ExtensionFactory produces a fresh, connection-scoped Extension instance.
// Per the source's own design note (spec §9), the process-wide Registry
// holds factories, not live extensions — ownership of the instantiated
// chain passes to the Session at handshake time, keeping the shared lock
// off the per-frame hot path.
type ExtensionFactory interface {
	New() Extension
}

// Chain is the per-session, ordered sequence of extension instances (spec
// §4.4). It is owned by exactly one Session and is not shared or locked.
type Chain struct {
	perMessage   []Extension
	perFrame     []Extension
	reservedBits byte
}

// ReservedBits reports the chain's current RSV reservation mask.
func (c *Chain) ReservedBits() byte { return c.reservedBits }

// NegotiateServer runs from_header/reserve_rsv over the whole chain — both
// per-message and per-frame extensions participate in negotiation, since
// both advertise themselves in the same Sec-WebSocket-Extensions header and
// draw from the same RSV budget — for a client's offered
// Sec-WebSocket-Extensions value, returning the comma-joined response
// string to stake on the 101 response.
func (c *Chain) NegotiateServer(offered string) (string, error) {
	return c.negotiate(offered, true)
}

// NegotiateClient reconciles the chain against the server's accepted
// Sec-WebSocket-Extensions value. Extensions absent from the response must
// disable themselves (enforced by each extension's own FromHeader).
func (c *Chain) NegotiateClient(accepted string) error {
	_, err := c.negotiate(accepted, false)
	return err
}

// OfferClient collects this chain's client-side extension offer, in
// registration order, per-message extensions first and then per-frame ones
// (spec §4.5 encode). It runs no negotiation and touches no RSV bits — it is
// only ever consulted by encodeRequest, before any from_header/reserve_rsv
// pass has happened.
func (c *Chain) OfferClient() string {
	var parts []string
	for _, ext := range c.perMessage {
		if hv, ok := ext.OfferHeader(); ok && hv != "" {
			parts = append(parts, hv)
		}
	}
	for _, ext := range c.perFrame {
		if hv, ok := ext.OfferHeader(); ok && hv != "" {
			parts = append(parts, hv)
		}
	}
	return strings.Join(parts, ", ")
}

func (c *Chain) negotiate(raw string, collectResponse bool) (string, error) {
	var parts []string
	negotiateOne := func(ext Extension) error {
		if err := ext.FromHeader(raw); err != nil {
			return &ExtensionError{Name: ext.Name(), Err: err}
		}
		if !ext.Enabled() {
			return nil
		}
		newMask, err := ext.ReserveRSV(c.reservedBits)
		if err != nil {
			// Collision: the extension has already disabled itself (see the
			// Extension contract); this is not fatal to the connection.
			return nil
		}
		c.reservedBits = newMask
		if collectResponse {
			if hv, ok := ext.IntoHeader(); ok && hv != "" {
				parts = append(parts, hv)
			}
		}
		return nil
	}
	for _, ext := range c.perMessage {
		if err := negotiateOne(ext); err != nil {
			return "", err
		}
	}
	for _, ext := range c.perFrame {
		if err := negotiateOne(ext); err != nil {
			return "", err
		}
	}
	return strings.Join(parts, ", "), nil
}

// DecodePass runs the chain's decode direction over f. Per-frame extensions
// run on every frame; per-message extensions are gated to final Text/Binary
// frames (spec §4.4). Per-frame runs first on decode — it is the outermost
// transform on the wire, so it must be the first one unwrapped.
func (c *Chain) DecodePass(f *Frame) error {
	for _, ext := range c.perFrame {
		if !ext.Enabled() {
			continue
		}
		if err := ext.Decode(f); err != nil {
			return &ExtensionError{Name: ext.Name(), Err: err}
		}
	}
	if !gatedForChain(f) {
		return nil
	}
	for _, ext := range c.perMessage {
		if !ext.Enabled() {
			continue
		}
		if err := ext.Decode(f); err != nil {
			return &ExtensionError{Name: ext.Name(), Err: err}
		}
	}
	return nil
}

// EncodePass runs the chain's encode direction over f, the mirror of
// DecodePass: per-message first (innermost), per-frame last (outermost on
// the wire).
func (c *Chain) EncodePass(f *Frame) error {
	if gatedForChain(f) {
		for _, ext := range c.perMessage {
			if !ext.Enabled() {
				continue
			}
			if err := ext.Encode(f); err != nil {
				return &ExtensionError{Name: ext.Name(), Err: err}
			}
		}
	}
	for _, ext := range c.perFrame {
		if !ext.Enabled() {
			continue
		}
		if err := ext.Encode(f); err != nil {
			return &ExtensionError{Name: ext.Name(), Err: err}
		}
	}
	return nil
}

func gatedForChain(f *Frame) bool {
	return f.Fin && (f.Opcode == OpcodeText || f.Opcode == OpcodeBinary)
}

// Registry is a process-wide mapping from connection id to the ordered
// extension factories offered for that connection, guarded by a single
// mutex (spec §5). It is consulted once, at handshake time, via NewChain;
// nothing on the per-frame decode/encode path touches it.
//
// Go's sync.Mutex has no analogue of a poisoned lock: a panic while it is
// held does not taint it for the next locker, so the source's
// recover-from-poisoning behavior (spec §9 Open Question a) has no work to
// do here — the underlying concern it addresses is satisfied by the
// language's own mutex semantics.
type Registry struct {
	mu         sync.Mutex
	perMessage map[string][]ExtensionFactory
	perFrame   map[string][]ExtensionFactory
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		perMessage: make(map[string][]ExtensionFactory),
		perFrame:   make(map[string][]ExtensionFactory),
	}
}

// OfferPerMessage records the per-message extension factories available to
// connID, in the order they should negotiate and later run.
func (r *Registry) OfferPerMessage(connID string, factories ...ExtensionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perMessage[connID] = append(r.perMessage[connID], factories...)
}

// OfferPerFrame records the per-frame extension factories available to
// connID (the reserved slot from spec §3/§9).
func (r *Registry) OfferPerFrame(connID string, factories ...ExtensionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perFrame[connID] = append(r.perFrame[connID], factories...)
}

// NewChain instantiates connID's offered factories into a fresh, sessionstr
// owned Chain and clears the registry's bookkeeping for it. After this call
// returns, the chain is no longer reachable through the registry or its
// lock — it belongs solely to the caller.
func (r *Registry) NewChain(connID string) *Chain {
	r.mu.Lock()
	pm := r.perMessage[connID]
	pf := r.perFrame[connID]
	delete(r.perMessage, connID)
	delete(r.perFrame, connID)
	r.mu.Unlock()

	c := &Chain{}
	for _, f := range pm {
		c.perMessage = append(c.perMessage, f.New())
	}
	for _, f := range pf {
		c.perFrame = append(c.perFrame, f.New())
	}
	return c
}
