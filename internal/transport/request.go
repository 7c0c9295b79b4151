package transport

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

// OpenEnded marks a ByteRange without an upper bound.
const OpenEnded int64 = -1

// MIMETypeJSON is the content type used by PostJSON.
const MIMETypeJSON = "application/json"

// Method is an HTTP method supported by the transport.
type Method string

const (
	// MethodGet is a GET request. GET requests never carry a body.
	MethodGet Method = http.MethodGet

	// MethodPost is a POST request. POST requests always carry a body.
	MethodPost Method = http.MethodPost
)

// Param is a single query parameter. Order of Params is preserved in the URL.
type Param struct {
	Key   string
	Value string
}

// Body is a streamed request body.
type Body struct {
	// Reader supplies the bytes. It is read once and never rewound.
	Reader io.Reader

	// Length is the exact number of bytes Reader will yield.
	Length int64

	// MIMEType is sent as the Content-Type header.
	MIMEType string
}

// ByteRange selects part of a resource. End is inclusive; OpenEnded means
// "to the end of the resource".
type ByteRange struct {
	Start int64
	End   int64
}

// Header renders the range as a Range header value: "bytes=S-" or "bytes=S-E".
func (r ByteRange) Header() string {
	if r.End == OpenEnded {
		return "bytes=" + strconv.FormatInt(r.Start, 10) + "-"
	}
	return "bytes=" + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End, 10)
}

// Validate checks that the range is well formed.
func (r ByteRange) Validate() error {
	if r.Start < 0 {
		return argumentError("range start %d is negative", r.Start)
	}
	if r.End != OpenEnded && r.End < r.Start {
		return argumentError("range end %d precedes start %d", r.End, r.Start)
	}
	return nil
}

// ParseRangeHeader parses a single "bytes=S-" or "bytes=S-E" value as written
// by ByteRange.Header. An empty value returns nil without error.
func ParseRangeHeader(value string) (*ByteRange, error) {
	if value == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(value, "bytes=")
	if !ok {
		return nil, argumentError("unsupported range unit in %q", value)
	}
	startText, endText, ok := strings.Cut(spec, "-")
	if !ok || strings.Contains(endText, ",") {
		return nil, argumentError("malformed range %q", value)
	}

	start, err := strconv.ParseInt(startText, 10, 64)
	if err != nil {
		return nil, argumentError("malformed range start in %q", value)
	}
	r := &ByteRange{Start: start, End: OpenEnded}
	if endText != "" {
		end, err := strconv.ParseInt(endText, 10, 64)
		if err != nil {
			return nil, argumentError("malformed range end in %q", value)
		}
		r.End = end
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Request describes a single call made by Transport.Do.
type Request struct {
	Method Method

	// Path is the request path, e.g. "/status". A leading slash is added when
	// missing.
	Path string

	Params []Param

	// Body is required for POST and forbidden for GET.
	Body *Body

	// Range is optional.
	Range *ByteRange
}

// Validate checks the request for argument errors before any socket is opened.
func (r *Request) Validate() error {
	if r == nil {
		return argumentError("nil request")
	}
	switch r.Method {
	case MethodGet:
		if r.Body != nil {
			return argumentError("GET request must not carry a body")
		}
	case MethodPost:
		if r.Body == nil || r.Body.Reader == nil {
			return argumentError("POST request requires a body")
		}
		if r.Body.Length < 0 {
			return argumentError("body length %d is negative", r.Body.Length)
		}
	default:
		return argumentError("unsupported method %q", r.Method)
	}
	if r.Range != nil {
		if err := r.Range.Validate(); err != nil {
			return err
		}
	}
	return nil
}
