package capture

import "strings"

// ErrorCategory classifies decoder session errors for logs and health
// reporting. Network errors are the ones a reconnect can plausibly fix;
// codec and auth errors usually recur until the stream or credentials
// change.
type ErrorCategory int

const (
	ErrCategoryNetwork ErrorCategory = iota
	ErrCategoryCodec
	ErrCategoryAuth
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

var authKeywords = []string{
	"unauthorized", "401", "403", "forbidden",
	"authentication", "credentials", "password", "username",
}

var codecKeywords = []string{
	"codec", "decode", "format", "negotiation", "caps",
	"h264", "h265", "not negotiated", "no decoder", "missing plugin",
}

var networkKeywords = []string{
	"connection", "timeout", "unreachable", "network",
	"dns", "resolve", "socket", "tcp", "udp", "rtsp",
	"not found", "could not connect", "failed to connect",
}

// classifyStreamError categorizes an error message plus optional debug
// detail using keyword heuristics. Auth is checked first (most
// specific), then codec, then network (most common).
func classifyStreamError(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)
	for _, kw := range authKeywords {
		if strings.Contains(combined, kw) {
			return ErrCategoryAuth
		}
	}
	for _, kw := range codecKeywords {
		if strings.Contains(combined, kw) {
			return ErrCategoryCodec
		}
	}
	for _, kw := range networkKeywords {
		if strings.Contains(combined, kw) {
			return ErrCategoryNetwork
		}
	}
	return ErrCategoryUnknown
}
