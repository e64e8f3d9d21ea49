/*
 * MIT License
 *
 * Copyright (c) 2026 The twisted-go Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package errors implements the connection error sum-type used across the
// reactor, protocol and transport packages: every failure observed on a
// connection is classified as exactly one of Transport, User or Cancelled.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies a ConnError.
type Kind uint8

const (
	// KindTransport covers peer close, reset and TLS handshake failure
	// observed while reading or writing a socket (cancellation is
	// KindCancelled).
	KindTransport Kind = iota
	// KindUser covers anything raised from user callback code
	// (OnMessage, BytesReceived, LineReceived, a CallLater body, ...).
	KindUser
	// KindCancelled covers Reactor.Stop()/context cancellation observed at
	// a suspension point. Routed the same way as KindTransport (remote
	// close), kept distinct so callers can tell a clean shutdown from a
	// genuine transport fault.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUser:
		return "user"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ConnError wraps an underlying error with its Kind and the call site that
// raised it, mirroring the trace captured by the teacher's error package
// but scoped to the three kinds this library needs.
type ConnError struct {
	Kind  Kind
	Err   error
	frame runtime.Frame
}

func newConnError(k Kind, err error) *ConnError {
	if err == nil {
		return nil
	}
	var ce *ConnError
	if errors.As(err, &ce) {
		// Already classified; reuse it rather than double-wrapping.
		return ce
	}

	pc := make([]uintptr, 1)
	var frame runtime.Frame
	if n := runtime.Callers(3, pc); n > 0 {
		frames := runtime.CallersFrames(pc[:n])
		frame, _ = frames.Next()
	}

	return &ConnError{Kind: k, Err: err, frame: frame}
}

// Transport tags err as a transport failure.
func Transport(err error) *ConnError { return newConnError(KindTransport, err) }

// User tags err as a user callback failure.
func User(err error) *ConnError { return newConnError(KindUser, err) }

// Cancelled tags err as a cancellation observed at a suspension point.
func Cancelled(err error) *ConnError { return newConnError(KindCancelled, err) }

func (e *ConnError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *ConnError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Site returns the file:line the error was classified at, mainly useful in
// diagnostic logging.
func (e *ConnError) Site() string {
	if e == nil || e.frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", e.frame.File, e.frame.Line)
}

// Is reports whether err is a ConnError of the given kind.
func Is(err error, k Kind) bool {
	var ce *ConnError
	if !errors.As(err, &ce) || ce == nil {
		return false
	}
	return ce.Kind == k
}

// IsTransport reports whether err is a transport failure (including
// cancellation, which the protocol runtime treats identically).
func IsTransport(err error) bool {
	return Is(err, KindTransport) || Is(err, KindCancelled)
}

// IsUser reports whether err is a user callback failure.
func IsUser(err error) bool { return Is(err, KindUser) }

// IsCancelled reports whether err is specifically a cancellation.
func IsCancelled(err error) bool { return Is(err, KindCancelled) }
