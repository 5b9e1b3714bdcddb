package xray

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind is the closed set of failure kinds the daemon distinguishes in
// xray API errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAlreadyExists
	KindHandlerNotFound
	KindCounterNotFound
	KindNotFound
	KindUnavailable
	KindUnsupportedProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyExists:
		return "already exists"
	case KindHandlerNotFound:
		return "handler not found"
	case KindCounterNotFound:
		return "counter not found"
	case KindNotFound:
		return "not found"
	case KindUnavailable:
		return "unavailable"
	case KindUnsupportedProtocol:
		return "unsupported protocol"
	}
	return "unknown"
}

// Error is a classified xray API failure. Detail is the remote message.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "xray: " + e.Kind.String()
	}
	return "xray: " + e.Kind.String() + ": " + e.Detail
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var xe *Error
	return errors.As(err, &xe) && xe.Kind == kind
}

// KindOf returns the kind of a classified error, KindUnknown otherwise.
func KindOf(err error) ErrorKind {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return KindUnknown
}

// detailRules are tried in order; the first match wins. xray reports these
// conditions only as human-readable text, e.g.
//
//	User a@b already exists.
//	failed to get handler: tag > app/proxyman/inbound: handler not found: tag
//	user>>>a@b>>>traffic>>>uplink not found.
//	User a@b not found.
var detailRules = []struct {
	kind  ErrorKind
	match func(detail string) bool
}{
	{KindAlreadyExists, hasSuffix("already exists.")},
	{KindHandlerNotFound, endsWithHandlerNotFound},
	{KindCounterNotFound, hasSuffix("uplink not found.")},
	{KindCounterNotFound, hasSuffix("downlink not found.")},
	{KindNotFound, hasSuffix("not found.")},
}

const handlerNotFound = "handler not found: "

func hasSuffix(suffix string) func(string) bool {
	return func(detail string) bool {
		return strings.HasSuffix(detail, suffix)
	}
}

// endsWithHandlerNotFound matches "handler not found: <tag>" at the end of detail.
func endsWithHandlerNotFound(detail string) bool {
	i := strings.LastIndex(detail, handlerNotFound)
	if i < 0 {
		return false
	}
	tag := detail[i+len(handlerNotFound):]
	return tag != "" && !strings.ContainsAny(tag, " \t\n")
}

// ClassifyDetail maps a remote error message to an ErrorKind.
func ClassifyDetail(detail string) ErrorKind {
	detail = strings.TrimSpace(detail)
	for _, rule := range detailRules {
		if rule.match(detail) {
			return rule.kind
		}
	}
	return KindUnknown
}

// classify converts a gRPC call error into an *Error. Connection-level
// status codes take precedence over the message text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var xe *Error
	if errors.As(err, &xe) {
		return xe
	}
	st := status.Convert(err)
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return &Error{Kind: KindUnavailable, Detail: st.Message()}
	}
	return &Error{Kind: ClassifyDetail(st.Message()), Detail: st.Message()}
}
