package model

import "fmt"

// ResultKind classifies dispatch outcomes. Kinds are part of the result
// payload written back to the backend so the rental queue can decide whether
// a retry makes sense (it never makes sense for NoBinding, for example).
type ResultKind string

const (
	KindOK           ResultKind = "ok"
	KindNoBinding    ResultKind = "no_binding"
	KindWindowFocus  ResultKind = "window_focus_failed"
	KindTimeout      ResultKind = "timeout"
	KindPrecondition ResultKind = "precondition_not_met"
	KindNotConnected ResultKind = "simulator_not_connected"
	KindSendFailed   ResultKind = "send_failed"
	KindStale        ResultKind = "stale_command"
	KindUnknown      ResultKind = "unknown_action"
)

// Result is the structured outcome of a single command dispatch.
type Result struct {
	Success bool           `json:"success"`
	Kind    ResultKind     `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func Ok(format string, args ...any) *Result {
	return &Result{Success: true, Kind: KindOK, Message: fmt.Sprintf(format, args...)}
}

func Fail(kind ResultKind, format string, args ...any) *Result {
	return &Result{Success: false, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (r *Result) WithData(key string, value any) *Result {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Data[key] = value
	return r
}
