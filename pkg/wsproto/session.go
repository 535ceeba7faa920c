package wsproto

import (
	"bytes"
	"errors"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"
)

// SessionState reports where a Session sits in the handshake → open → failed
// progression (spec §4.5).
type SessionState int

const (
	StateAwaitingHandshake SessionState = iota
	StateOpen
	StateFailed
)

// Session is the top-level connection Codec: it multiplexes between the
// Handshake Codec and the Frame Codec depending on whether the opening
// handshake has completed, and runs every base frame through the
// connection's negotiated Extension Chain (spec §4.5).
//
// Completion of the handshake is asymmetric by design (spec §9): a client
// Session transitions to Open as soon as it decodes a 101 response; a
// server Session stays in AwaitingHandshake until it has encoded its own
// response, since only then has it actually committed to the upgrade.
//
// Once failed latches a non-nil error, every later Decode/Encode call
// returns that same error — there is no path back to AwaitingHandshake or
// Open. A malformed frame or handshake should end the connection, not leave
// it half-speaking two protocols.
type Session struct {
	Role   Role
	ConnID string
	Config Config

	chain      *Chain
	frameCodec FrameCodec
	clientHC   clientHandshakeCodec
	serverHC   serverHandshakeCodec

	shaken            bool
	failed            error
	Origin            string
	offeredExtensions string

	// Protocols is the server's configured subprotocol preference list. When
	// set, encodeResponse picks the first entry the client also offered
	// (spec §4.2 data model lists Sec-WebSocket-Protocol but leaves the
	// selection rule unspecified; this mirrors both reference upgraders'
	// first-match tie-break) whenever the caller leaves
	// HandshakeResponse.Subprotocol empty.
	Protocols        []string
	offeredProtocols []string
}

// NewSession constructs a Session for role, owning chain (typically produced
// by Registry.NewChain) for the lifetime of the connection.
func NewSession(role Role, chain *Chain, cfg Config) *Session {
	if chain == nil {
		chain = &Chain{}
	}
	return &Session{
		Role:   role,
		ConnID: shortuuid.New(),
		Config: cfg,
		chain:  chain,
	}
}

// State reports the session's current position in the handshake lifecycle.
func (s *Session) State() SessionState {
	switch {
	case s.failed != nil:
		return StateFailed
	case s.shaken:
		return StateOpen
	default:
		return StateAwaitingHandshake
	}
}

// ReservedBits reports the RSV bits currently claimed by the negotiated
// extension chain.
func (s *Session) ReservedBits() byte { return s.chain.ReservedBits() }

func (s *Session) fail(err error) error {
	if s.failed == nil {
		s.failed = err
	}
	return err
}

// Decode consumes bytes from the head of buf and produces the next
// Envelope. Before the handshake completes it parses a handshake half
// appropriate to Role; afterward it parses base frames and runs them
// through the extension chain and UTF-8 validation (spec §4.5, §8
// Property: decode never advances the logical read position on ErrPartial).
func (s *Session) Decode(buf []byte) (consumed int, env *Envelope, err error) {
	if s.failed != nil {
		return 0, nil, s.failed
	}
	if len(buf) == 0 {
		return 0, nil, ErrPartial
	}

	if s.shaken {
		return s.decodeFrame(buf)
	}
	if s.Role == RoleClient {
		return s.decodeResponse(buf)
	}
	return s.decodeRequest(buf)
}

func (s *Session) decodeFrame(buf []byte) (int, *Envelope, error) {
	s.frameCodec.Role = s.Role
	s.frameCodec.ReservedBits = s.chain.ReservedBits()
	s.frameCodec.Config = s.Config

	frame, n, err := s.frameCodec.Decode(buf)
	if err != nil {
		if errors.Is(err, ErrPartial) {
			return 0, nil, err
		}
		return 0, nil, s.fail(err)
	}

	if err := s.chain.DecodePass(frame); err != nil {
		return 0, nil, s.fail(err)
	}

	// UTF-8 is validated after the chain runs so extensions may transform
	// application data (e.g. decompress) before the check (spec §4.5).
	if frame.Fin && frame.Opcode == OpcodeText {
		if !utf8.Valid(frame.ApplicationData) {
			return 0, nil, s.fail(ErrInvalidUTF8)
		}
	}

	return n, &Envelope{Kind: EnvelopeBaseFrame, Frame: frame}, nil
}

func (s *Session) decodeResponse(buf []byte) (int, *Envelope, error) {
	resp, n, err := s.clientHC.decode(buf, s.Config)
	if err != nil {
		if errors.Is(err, ErrPartial) {
			return 0, nil, err
		}
		return 0, nil, s.fail(err)
	}
	if resp.StatusCode == 101 {
		if err := s.chain.NegotiateClient(resp.Extensions); err != nil {
			return 0, nil, s.fail(err)
		}
		s.shaken = true
	}
	return n, &Envelope{Kind: EnvelopeServerHandshakeResponse, Response: resp}, nil
}

func (s *Session) decodeRequest(buf []byte) (int, *Envelope, error) {
	req, n, err := s.serverHC.decode(buf, s.Config)
	if err != nil {
		if errors.Is(err, ErrPartial) {
			return 0, nil, err
		}
		return 0, nil, s.fail(err)
	}
	s.Origin = req.Origin
	s.offeredExtensions = req.Extensions
	s.offeredProtocols = req.Protocols
	return n, &Envelope{Kind: EnvelopeClientHandshakeRequest, Request: req}, nil
}

// Encode serializes env to dst. Once the handshake has completed only
// EnvelopeBaseFrame is accepted; before that, a server Session accepts only
// EnvelopeServerHandshakeResponse and a client Session only
// EnvelopeClientHandshakeRequest — anything else is ErrHandshakeOrdering
// wrapped in a ProtocolError.
func (s *Session) Encode(env *Envelope, dst *bytes.Buffer) error {
	if s.failed != nil {
		return s.failed
	}

	if s.shaken {
		if env.Kind != EnvelopeBaseFrame || env.Frame == nil {
			return &ProtocolError{Reason: ErrHandshakeOrdering}
		}
		return s.encodeFrame(env.Frame, dst)
	}

	switch env.Kind {
	case EnvelopeServerHandshakeResponse:
		if s.Role != RoleServer || env.Response == nil {
			return &ProtocolError{Reason: ErrHandshakeOrdering}
		}
		return s.encodeResponse(env.Response, dst)
	case EnvelopeClientHandshakeRequest:
		if s.Role != RoleClient || env.Request == nil {
			return &ProtocolError{Reason: ErrHandshakeOrdering}
		}
		return s.encodeRequest(env.Request, dst)
	default:
		return &ProtocolError{Reason: ErrHandshakeOrdering}
	}
}

func (s *Session) encodeFrame(frame *Frame, dst *bytes.Buffer) error {
	s.frameCodec.Role = s.Role
	s.frameCodec.Config = s.Config

	if err := s.chain.EncodePass(frame); err != nil {
		return s.fail(err)
	}
	if err := s.frameCodec.Encode(frame, dst); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Session) encodeResponse(resp *HandshakeResponse, dst *bytes.Buffer) error {
	if resp.Subprotocol == "" && len(s.Protocols) > 0 {
		resp.Subprotocol = negotiateSubprotocol(s.offeredProtocols, s.Protocols)
	}

	extResp, err := s.chain.NegotiateServer(s.offeredExtensions)
	if err != nil {
		return s.fail(err)
	}
	wire := s.serverHC.encode(resp.Subprotocol, extResp)
	if _, err := dst.Write(wire); err != nil {
		return s.fail(&ResourceError{Err: err})
	}
	// The server only commits to the upgrade once its own response has been
	// written — the asymmetric completion point from the design note above.
	s.shaken = true
	return nil
}

func (s *Session) encodeRequest(req *HandshakeRequest, dst *bytes.Buffer) error {
	// The offer string is always the chain's own, never the caller's —
	// mirrors encodeResponse computing extResp from s.chain rather than
	// trusting whatever the caller put on the envelope.
	offer := s.chain.OfferClient()
	_, wire, err := s.clientHC.encode(req.Target, req.Host, req.Protocols, offer)
	if err != nil {
		return s.fail(err)
	}
	if _, err := dst.Write(wire); err != nil {
		return s.fail(&ResourceError{Err: err})
	}
	return nil
}
