package wsproto

// Config holds the tunables the codec core exposes to its host (spec §6).
// The zero value is not ready to use; construct via DefaultConfig and
// override individual fields.
type Config struct {
	// MaxHeaderBytes caps the size of the opening handshake's header block
	// (request line + headers, up to and including the blank line). Exceeding
	// it before the terminator is seen yields ErrHandshakeTooLarge.
	MaxHeaderBytes uint32

	// MaxFramePayload caps a single base frame's payload. Control frames are
	// always capped at 125 bytes regardless of this setting.
	MaxFramePayload uint64

	// AllowUnmaskedClientFrames disables the server-side masking check. It
	// exists only to let tests feed fixtures captured without a mask key;
	// production servers must leave it false.
	AllowUnmaskedClientFrames bool

	// StrictRSV rejects any RSV bit not covered by a negotiated extension's
	// reservation. Disabling it is a protocol violation and exists only for
	// conformance testing against malformed peers.
	StrictRSV bool
}

// DefaultConfig returns the spec's default tunables (§6).
func DefaultConfig() Config {
	return Config{
		MaxHeaderBytes:            8192,
		MaxFramePayload:           16 * 1024 * 1024,
		AllowUnmaskedClientFrames: false,
		StrictRSV:                 true,
	}
}
