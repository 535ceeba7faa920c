package wsproto

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
)

// Role distinguishes which side of the connection a codec instance is
// acting as. It governs masking direction (spec §3, §4.1) on both the Frame
// Codec and the Handshake Codecs.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// FrameCodec decodes and encodes a single RFC 6455 base frame against a
// byte buffer (spec §4.1).
//
// Decode re-derives every header field from byte 0 of buf on each call
// rather than caching a parse checkpoint: per the source's own design note
// on sub-codec slots (spec §9), an inert, recomputed state is equivalent to
// a cached one for a header this small (at most 14 bytes), and it is far
// simpler to reason about than a persisted partial-parse state machine. No
// bytes are ever removed from buf by Decode itself — the returned consumed
// count tells the caller (Session) how many bytes to discard once a full
// frame has been produced.
type FrameCodec struct {
	Role         Role
	ReservedBits byte
	Config       Config

	// ExtensionDataLen is the number of leading payload bytes Decode carves
	// off into Frame.ExtensionData instead of ApplicationData, and the
	// number of bytes Encode expects Frame.ExtensionData to carry (spec §3:
	// payload_length is the combined length of extension_data and
	// application_data). Session never sets it, so on the Session path it
	// stays zero — the default, which leaves ExtensionData nil; no extension
	// in this module asks for such a prefix.
	ExtensionDataLen int
}

// Decode attempts to parse one base frame from the head of buf. If buf does
// not yet hold a complete frame, it returns ErrPartial with consumed == 0
// and ok-to-retry semantics: the caller must not discard any bytes and
// should call Decode again once buf has grown.
func (c *FrameCodec) Decode(buf []byte) (frame *Frame, consumed int, err error) {
	if len(buf) < 2 {
		return nil, 0, ErrPartial
	}

	b0, b1 := buf[0], buf[1]

	f := &Frame{
		Fin:    b0&finalBit != 0,
		Opcode: b0 & opcodeMask,
		Masked: b1&maskBit != 0,
	}
	f.setRSVFromMask((b0 >> 4) & 0x7)
	lenField := b1 & lengthMask

	if isReservedOpcode(f.Opcode) {
		return nil, 0, &ProtocolError{Reason: ErrInvalidOpcode}
	}

	if c.Config.StrictRSV {
		if f.rsvMask()&^c.ReservedBits != 0 {
			return nil, 0, &ProtocolError{Reason: ErrReservedBitsSet}
		}
	}

	if f.IsControl() {
		if !f.Fin {
			return nil, 0, &ProtocolError{Reason: ErrFragmentedControl}
		}
	}

	pos := 2
	switch lenField {
	case 126:
		if len(buf) < pos+2 {
			return nil, 0, ErrPartial
		}
		v := binary.BigEndian.Uint16(buf[pos : pos+2])
		if v <= 125 {
			return nil, 0, &ProtocolError{Reason: ErrLengthNotMinimal}
		}
		f.Length = uint64(v)
		pos += 2
	case 127:
		if len(buf) < pos+8 {
			return nil, 0, ErrPartial
		}
		v := binary.BigEndian.Uint64(buf[pos : pos+8])
		if v&(1<<63) != 0 {
			return nil, 0, &ProtocolError{Reason: ErrReservedLength}
		}
		if v <= 0xFFFF {
			return nil, 0, &ProtocolError{Reason: ErrLengthNotMinimal}
		}
		f.Length = v
		pos += 8
	default:
		f.Length = uint64(lenField)
	}

	if f.IsControl() && f.Length > MaxControlFramePayload {
		return nil, 0, &ProtocolError{Reason: ErrControlTooLarge}
	}
	if !f.IsControl() && c.Config.MaxFramePayload > 0 && f.Length > c.Config.MaxFramePayload {
		return nil, 0, &ResourceError{Err: ErrFrameTooLarge}
	}

	if f.Masked {
		if len(buf) < pos+4 {
			return nil, 0, ErrPartial
		}
		copy(f.MaskKey[:], buf[pos:pos+4])
		pos += 4
	}

	if !c.Config.AllowUnmaskedClientFrames {
		if c.Role == RoleServer && !f.Masked {
			return nil, 0, &ProtocolError{Reason: ErrMaskRequired}
		}
	}
	if c.Role == RoleClient && f.Masked {
		return nil, 0, &ProtocolError{Reason: ErrMaskNotAllowed}
	}

	total := pos + int(f.Length)
	if len(buf) < total {
		return nil, 0, ErrPartial
	}

	if uint64(c.ExtensionDataLen) > f.Length {
		return nil, 0, &ProtocolError{Reason: ErrExtensionDataSize}
	}
	if f.Length > 0 {
		payload := make([]byte, f.Length)
		copy(payload, buf[pos:total])
		if f.Masked {
			maskBytes(payload, f.MaskKey)
		}
		edLen := c.ExtensionDataLen
		if edLen > len(payload) {
			return nil, 0, &ProtocolError{Reason: ErrExtensionDataSize}
		}
		if edLen > 0 {
			f.ExtensionData = payload[:edLen]
		}
		f.ApplicationData = payload[edLen:]
	}

	return f, total, nil
}

// Encode serializes frame to dst, masking the payload and writing a fresh
// random mask key when c.Role is RoleClient (spec §4.1: server frames MUST
// NOT be masked, client frames MUST be masked). The smallest of the three
// length forms is always chosen.
func (c *FrameCodec) Encode(frame *Frame, dst *bytes.Buffer) error {
	var header [MaxFrameHeaderSize]byte

	b0 := frame.Opcode
	if frame.Fin {
		b0 |= finalBit
	}
	b0 |= frame.rsvMask() << 4
	header[0] = b0

	edLen := len(frame.ExtensionData)
	n := uint64(edLen + len(frame.ApplicationData))

	pos := 2
	b1 := byte(0)
	if c.Role == RoleClient {
		b1 |= maskBit
	}

	switch {
	case n <= 125:
		header[1] = b1 | byte(n)
	case n <= 0xFFFF:
		header[1] = b1 | 126
		binary.BigEndian.PutUint16(header[2:4], uint16(n))
		pos = 4
	default:
		header[1] = b1 | 127
		binary.BigEndian.PutUint64(header[2:10], n)
		pos = 10
	}

	var maskKey [4]byte
	if c.Role == RoleClient {
		if _, err := rand.Read(maskKey[:]); err != nil {
			return &ResourceError{Err: err}
		}
		copy(header[pos:pos+4], maskKey[:])
		pos += 4
	}

	if _, err := dst.Write(header[:pos]); err != nil {
		return &ResourceError{Err: err}
	}

	if n == 0 {
		return nil
	}

	payload := getScratch(int(n))
	defer putScratch(payload)
	copy(payload.B[:edLen], frame.ExtensionData)
	copy(payload.B[edLen:], frame.ApplicationData)

	if c.Role == RoleClient {
		maskBytes(payload.B, maskKey)
	}

	if _, err := dst.Write(payload.B); err != nil {
		return &ResourceError{Err: err}
	}
	return nil
}

func isReservedOpcode(op byte) bool {
	return op > 0xA || (op > 0x2 && op < 0x8)
}
