// Package result provides the shared failure taxonomy and the ok/error
// result envelope returned by the browser port and the degradation pipeline.
package result

import "fmt"

// Category classifies whether a failure can clear on its own.
type Category string

const (
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
)

// Domain is the subsystem a failure originated in.
type Domain string

const (
	DomainBrowser   Domain = "browser"
	DomainTransport Domain = "transport"
	DomainDOM       Domain = "dom"
	DomainSession   Domain = "session"
)

// Code identifies one failure mode.
type Code string

const (
	CodeBindFailed            Code = "BIND_FAILED"
	CodeSessionExpired        Code = "SESSION_EXPIRED"
	CodeInvalidSelectorConfig Code = "INVALID_SELECTOR_CONFIG"
	CodeTimeout               Code = "TIMEOUT"
	CodeSendFailed            Code = "SEND_FAILED"
	CodeDOMChanged            Code = "DOM_CHANGED"
	CodeTabClosed             Code = "TAB_CLOSED"
	CodeNetworkDisconnected   Code = "NETWORK_DISCONNECTED"
	CodeChannelClosed         Code = "MCP_CHANNEL_CLOSED"
	CodeBrowserCrashed        Code = "BROWSER_CRASHED"
	CodeLockTimeout           Code = "LOCK_TIMEOUT"
	CodeNotCurrentSpeaker     Code = "NOT_CURRENT_SPEAKER"
	CodeStaleTurnID           Code = "STALE_TURN_ID"
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodeInternal              Code = "INTERNAL"
)

// Class is the fixed classification of a failure code.
type Class struct {
	Category  Category
	Domain    Domain
	Retryable bool
}

var table = map[Code]Class{
	CodeBindFailed:            {CategoryTransient, DomainBrowser, true},
	CodeSessionExpired:        {CategoryPermanent, DomainSession, false},
	CodeInvalidSelectorConfig: {CategoryPermanent, DomainDOM, false},
	CodeTimeout:               {CategoryTransient, DomainTransport, true},
	CodeSendFailed:            {CategoryTransient, DomainDOM, true},
	CodeDOMChanged:            {CategoryTransient, DomainDOM, true},
	CodeTabClosed:             {CategoryTransient, DomainBrowser, true},
	CodeNetworkDisconnected:   {CategoryTransient, DomainTransport, true},
	CodeChannelClosed:         {CategoryTransient, DomainTransport, true},
	CodeBrowserCrashed:        {CategoryTransient, DomainBrowser, true},
	CodeLockTimeout:           {CategoryTransient, DomainSession, true},
	CodeNotCurrentSpeaker:     {CategoryTransient, DomainSession, false},
	CodeStaleTurnID:           {CategoryPermanent, DomainSession, false},
	CodeSessionNotFound:       {CategoryPermanent, DomainSession, false},
	CodeInternal:              {CategoryPermanent, DomainSession, false},
}

// Classify returns the classification for code. Unknown codes classify as
// permanent, non-retryable session failures.
func Classify(code Code) Class {
	if c, ok := table[code]; ok {
		return c
	}
	return Class{CategoryPermanent, DomainSession, false}
}

// Failure is the error half of a Result. It implements error so it can
// travel through ordinary error returns as well.
type Failure struct {
	Code      Code     `json:"code"`
	Category  Category `json:"category"`
	Domain    Domain   `json:"domain"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// NewFailure builds a classified Failure for code.
func NewFailure(code Code, message string) *Failure {
	c := Classify(code)
	return &Failure{
		Code:      code,
		Category:  c.Category,
		Domain:    c.Domain,
		Message:   message,
		Retryable: c.Retryable,
	}
}

// Failuref is NewFailure with a format string.
func Failuref(code Code, format string, args ...any) *Failure {
	return NewFailure(code, fmt.Sprintf(format, args...))
}

// Unit is the data type for results that carry no payload.
type Unit = struct{}

// Result is the {ok,data} | {ok:false,error} envelope.
type Result[T any] struct {
	OK   bool     `json:"ok"`
	Data T        `json:"data,omitempty"`
	Err  *Failure `json:"error,omitempty"`
}

// Ok builds a successful Result.
func Ok[T any](data T) Result[T] {
	return Result[T]{OK: true, Data: data}
}

// Fail builds a failed Result from a classified code and message.
func Fail[T any](code Code, message string) Result[T] {
	return Result[T]{Err: NewFailure(code, message)}
}

// Failf is Fail with a format string.
func Failf[T any](code Code, format string, args ...any) Result[T] {
	return Result[T]{Err: Failuref(code, format, args...)}
}

// FailErr wraps an existing Failure into a Result.
func FailErr[T any](f *Failure) Result[T] {
	if f == nil {
		f = NewFailure(CodeInternal, "nil failure")
	}
	return Result[T]{Err: f}
}
