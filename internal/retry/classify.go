package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Classifier reports whether err is transient (worth another attempt).
type Classifier func(err error) bool

type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as never retryable regardless of its shape.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

func isTerminal(err error) bool {
	var marked *terminalError
	return errors.As(err, &marked)
}

// DefaultClassifier recognises the transport and rate-limit failures JSON-RPC providers
// return. Anything unrecognised is terminal.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}

	if isTerminal(err) {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	lower := strings.ToLower(err.Error())
	// Checked before codes: nodes report reverts and nonce problems inside the -32000 range.
	if containsAny(lower, terminalMessageTokens) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		code := rpcErr.ErrorCode()
		if code == -32005 || code == -32603 {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return containsAny(lower, transientMessageTokens)
}

// MatchMessages classifies an error as transient when its text contains any token
// (case-insensitive).
func MatchMessages(tokens ...string) Classifier {
	lowered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	return func(err error) bool {
		if err == nil {
			return false
		}
		return containsAny(strings.ToLower(err.Error()), lowered)
	}
}

// AnyOf is transient when any classifier says so.
func AnyOf(cs ...Classifier) Classifier {
	return func(err error) bool {
		for _, c := range cs {
			if c != nil && c(err) {
				return true
			}
		}
		return false
	}
}

// WithMessages is DefaultClassifier plus extra transient message fragments. Errors marked
// Terminal stay terminal.
func WithMessages(tokens ...string) Classifier {
	classify := AnyOf(DefaultClassifier, MatchMessages(tokens...))
	return func(err error) bool {
		return !isTerminal(err) && classify(err)
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporarily unavailable",
	"service unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"too many requests",
	"rate limit",
	"limit exceeded",
	"502 bad gateway",
	"503 service",
	"504 gateway",
	"unexpected eof",
	"server closed idle connection",
	"header not found",
}

var terminalMessageTokens = []string{
	"execution reverted",
	"insufficient funds",
	"nonce too low",
	"already known",
	"replacement transaction underpriced",
	"invalid sender",
	"invalid argument",
	"method not found",
}
