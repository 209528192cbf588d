package wasmhost

// Header is one (name, opaque-bytes) pair on a Request or Response
// Interface, per §6's HeaderInterface.
type Header struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// BodyChunk describes the body crossing the sandbox boundary: the bytes
// observed so far, their offset and length within the logical body, and
// whether more chunks follow. The core only ever deals in whole bodies,
// so ChunkStart is always 0 and EndOfStream is always true; the fields
// exist because the wire format is shared with streaming collaborators.
type BodyChunk struct {
	Chunk       []byte `json:"chunk"`
	ChunkStart  int64  `json:"chunk_start"`
	ChunkLength int64  `json:"chunk_length"`
	EndOfStream bool   `json:"end_of_stream"`
}

func wholeBody(b []byte) BodyChunk {
	return BodyChunk{Chunk: b, ChunkStart: 0, ChunkLength: int64(len(b)), EndOfStream: true}
}

// RequestInterface is the structured mirror of the incoming HTTP request
// a guest observes via get_request.
type RequestInterface struct {
	Method  string    `json:"method"`
	URI     string    `json:"uri"`
	Version string    `json:"version"`
	Headers []Header  `json:"headers"`
	Body    BodyChunk `json:"body"`
}

// ResponseInterface is the structured mirror of an HTTP response: either
// the interior-service response recorded by the router, or the result of
// an outbound HTTP call.
type ResponseInterface struct {
	Status  int       `json:"status"`
	Version string    `json:"version"`
	Headers []Header  `json:"headers"`
	Body    BodyChunk `json:"body"`
}

// Outcome is the coarse classification a combined Decision is thresholded
// into. Thresholds live outside the core (§9); the core only carries the
// value through.
type Outcome string

const (
	OutcomeTrusted    Outcome = "trusted"
	OutcomeAccepted   Outcome = "accepted"
	OutcomeSuspected  Outcome = "suspected"
	OutcomeRestricted Outcome = "restricted"
)

// IP is the tagged variant of an address crossing the sandbox boundary:
// either four octets (V4) or eight 16-bit segments (V6).
type IP struct {
	V4 *[4]uint8    `json:"v4,omitempty"`
	V6 *[8]uint16   `json:"v6,omitempty"`
}

// RemoteIP is the immediate TCP peer address. The Request Context does
// not take or hold one, so it never crosses the sandbox boundary; only
// ForwardedIP is exposed to guests as "the client IP" (§4.7, original
// lines 28-37 of the source this spec distills).
type RemoteIP struct {
	Addr IP
}

// ForwardedIP is the originating client address behind any proxies, as
// passed by the caller to NewRequestContext. It is the only IP variant
// get_client_ip ever returns.
type ForwardedIP struct {
	Addr IP
}

// RateInterface is the Host ABI's wire shape for a rate-limit result.
type RateInterface struct {
	Attempts   int64 `json:"attempts"`
	Expiration int64 `json:"expiration"`
}

// BreakerInterface is the Host ABI's wire shape for a circuit-breaker
// result.
type BreakerInterface struct {
	Generation         int64 `json:"generation"`
	Successes          int64 `json:"successes"`
	Failures            int64 `json:"failures"`
	ConsecutiveSuccess  int64 `json:"consec_successes"`
	ConsecutiveFailure  int64 `json:"consec_failures"`
	Expiration          int64 `json:"expiration"`
}
