package pipeline

import "errors"

// Sentinel errors. Check with errors.Is; most are returned wrapped.
var (
	// Configuration errors, raised at the setter call.
	ErrInvalidConfig      = errors.New("netpcap: invalid configuration")
	ErrDuplicateProcessor = errors.New("netpcap: processor already registered")
	ErrProcessorNotFound  = errors.New("netpcap: processor not found")
	ErrNilHandler         = errors.New("netpcap: nil handler")
	ErrNilSource          = errors.New("netpcap: nil source")

	// Output binding misuse, detected when a dispatch installs its output.
	ErrOutputInUse = errors.New("netpcap: output representation already installed")

	// Capture faults reported by the source.
	ErrCaptureFault = errors.New("netpcap: capture fault")
	ErrBreakLoop    = errors.New("netpcap: break loop")

	// Frame level faults, reported to error listeners only.
	ErrShortHeader = errors.New("netpcap: header shorter than abi size")

	ErrNoPacket       = errors.New("netpcap: no packet available")
	ErrNotImplemented = errors.New("netpcap: not implemented")
)
