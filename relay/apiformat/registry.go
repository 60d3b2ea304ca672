package apiformat

// SSEEvent is one server-sent event: an optional event name plus the data
// payload with multi-line data already joined by "\n".
type SSEEvent struct {
	Event string
	Data  []byte
}

// StreamContext carries converter state across one streamed response.
type StreamContext struct {
	Model           string
	OriginalRequest []byte
	// State is private to the converter pair; it starts nil on the first
	// event of a stream.
	State any
}

// RequestTransform rewrites a request body from the source dialect into the
// target dialect.
type RequestTransform func(modelName string, rawJSON []byte, stream bool) ([]byte, error)

// ResponseTransform rewrites a complete non-streaming response body from the
// target dialect back into the source dialect. originalRequest is the body
// as the client sent it, for fields the response dialect does not echo.
type ResponseTransform func(modelName string, originalRequest, rawJSON []byte) ([]byte, error)

// StreamTransform rewrites one upstream SSE event into zero or more events
// in the client's dialect. Converters may buffer in ctx.State and flush on a
// later event.
type StreamTransform func(ctx *StreamContext, event SSEEvent) ([]SSEEvent, error)

// Conversion is one direction of the converter matrix.
type Conversion struct {
	From Dialect
	To   Dialect

	TransformRequest  RequestTransform
	TransformResponse ResponseTransform
	// TransformStream is nil when the pair cannot rewrite delta events
	// incrementally; such pairs are only admissible for non-streaming calls.
	TransformStream StreamTransform
}

type conversionKey struct {
	from Dialect
	to   Dialect
}

// conversions is populated from converter package init functions and is
// read-only afterwards.
var conversions = map[conversionKey]*Conversion{}

// RegisterConversion installs one direction of a converter pair. It must only
// be called from package init functions.
func RegisterConversion(c *Conversion) {
	if c == nil || c.From == "" || c.To == "" {
		return
	}
	conversions[conversionKey{from: c.From.ChatVariant(), to: c.To.ChatVariant()}] = c
}

// ConversionBetween returns the registered converter from one dialect to
// another, or nil. CLI variants share their chat variant's converters.
func ConversionBetween(from, to Dialect) *Conversion {
	if from.Family() == to.Family() {
		return nil
	}
	return conversions[conversionKey{from: from.ChatVariant(), to: to.ChatVariant()}]
}

// PairAdmissible reports whether a client request in one dialect can be sent
// to an upstream speaking another: the converter for the pair must exist, and
// streaming additionally needs incremental response rewriting.
func PairAdmissible(from, to Dialect, streaming bool) bool {
	if from.ChatVariant() == to.ChatVariant() {
		return true
	}
	conv := ConversionBetween(from, to)
	if conv == nil || conv.TransformRequest == nil || conv.TransformResponse == nil {
		return false
	}
	if streaming && conv.TransformStream == nil {
		return false
	}
	return true
}
