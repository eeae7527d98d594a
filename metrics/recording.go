package metrics

import "sync"

// Event is one call captured by Recording.
type Event struct {
	Kind   string
	Dims   Dimensions
	Key    string // model, tool, status, or reason, depending on Kind
	Amount float64
}

// Recording is an in-memory Emitter for tests, grounded on the teacher's
// mocked-dependency test style: it records every call instead of touching
// Prometheus, so assertions can inspect exactly what the Lifecycle Engine
// emitted.
type Recording struct {
	mu     sync.Mutex
	Events []Event
}

// NewRecording returns an empty Recording.
func NewRecording() *Recording { return &Recording{} }

func (r *Recording) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

// RecordCost implements Emitter.
func (r *Recording) RecordCost(dims Dimensions, amount float64) {
	r.record(Event{Kind: "cost", Dims: dims, Amount: amount})
}

// RecordModelCost implements Emitter.
func (r *Recording) RecordModelCost(dims Dimensions, model string, amount float64) {
	r.record(Event{Kind: "cost.model", Dims: dims, Key: model, Amount: amount})
}

// RecordToolCost implements Emitter.
func (r *Recording) RecordToolCost(dims Dimensions, tool string, amount float64) {
	r.record(Event{Kind: "cost.tool", Dims: dims, Key: tool, Amount: amount})
}

// RecordTokens implements Emitter.
func (r *Recording) RecordTokens(dims Dimensions, input, output int64) {
	r.record(Event{Kind: "tokens.input", Dims: dims, Amount: float64(input)})
	r.record(Event{Kind: "tokens.output", Dims: dims, Amount: float64(output)})
}

// RecordIteration implements Emitter.
func (r *Recording) RecordIteration(dims Dimensions) { r.record(Event{Kind: "agent.iterations", Dims: dims}) }

// RecordToolCall implements Emitter.
func (r *Recording) RecordToolCall(dims Dimensions) { r.record(Event{Kind: "agent.tool_calls", Dims: dims}) }

// RecordRun implements Emitter.
func (r *Recording) RecordRun(dims Dimensions, status string) {
	r.record(Event{Kind: "agent.runs", Dims: dims, Key: status})
}

// RecordDowngrade implements Emitter.
func (r *Recording) RecordDowngrade(dims Dimensions, reason string) {
	r.record(Event{Kind: "cost.downgrade_events", Dims: dims, Key: truncateReason(reason)})
}

// RecordRejection implements Emitter.
func (r *Recording) RecordRejection(dims Dimensions, reason string) {
	r.record(Event{Kind: "cost.rejection_events", Dims: dims, Key: truncateReason(reason)})
}

// RecordHalt implements Emitter.
func (r *Recording) RecordHalt(dims Dimensions, reason string) {
	r.record(Event{Kind: "cost.halt_events", Dims: dims, Key: truncateReason(reason)})
}
