// Package errclass implements the delivery pipeline's error taxonomy:
// not-found (never retried), transient (bounded backoff), degraded
// (routed to the retry queue), permanent (dropped after max retries).
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

type Class int

const (
	Unknown Class = iota
	NotFound
	Transient
	Degraded
	Permanent
)

func (c Class) String() string {
	switch c {
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case Degraded:
		return "degraded"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

var (
	ErrDegraded  = errors.New("degraded: circuit open, deferred to retry queue")
	ErrPermanent = errors.New("permanent: retry budget exhausted")
)

// notFound sentinel 由各仓储层包装
type notFoundMarker interface{ NotFound() bool }

func Classify(err error) Class {
	switch {
	case err == nil:
		return Unknown
	case errors.Is(err, ErrDegraded):
		return Degraded
	case errors.Is(err, ErrPermanent):
		return Permanent
	}
	var nf notFoundMarker
	if errors.As(err, &nf) && nf.NotFound() {
		return NotFound
	}
	if IsConnection(err) {
		return Transient
	}
	return Unknown
}

// IsConnection 只有连接层错误参与熔断计数：
// 连接拒绝/复位、超时、redis 只读或集群不可用。普通 per-key 错误不算。
func IsConnection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, p := range []string{"READONLY", "LOADING", "CLUSTERDOWN", "MASTERDOWN", "connection refused", "connection reset"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
