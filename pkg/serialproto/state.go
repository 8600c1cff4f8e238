// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialproto

// State of a single page exchange
type State int

const (
	StateIdle State = iota
	StateRequestSent
	StateAwaitingResponse
	StateValidating
	StateAccepted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequestSent:
		return "REQUEST_SENT"
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateValidating:
		return "VALIDATING"
	case StateAccepted:
		return "ACCEPTED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// PageStatus is the outcome of one page in a cycle
type PageStatus int

const (
	// StatusOK means the frame was accepted and every entry decoded
	StatusOK PageStatus = iota
	// StatusUnavailable means no valid frame was received this cycle
	StatusUnavailable
	// StatusPartial means the frame was accepted but some entries failed
	StatusPartial
)

func (s PageStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusPartial:
		return "partial"
	default:
		return "unknown"
	}
}
