// Package metrics is the Metrics Emitter (component C6), grounded on the
// teacher's internal/metrics/collector.go: a promauto-registered struct of
// CounterVec instruments behind a small typed API, built once at
// startup and shared by every hook.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// maxReasonLength truncates reason strings before they become a label
// value, so a caller-supplied free-text reason can never blow up
// Prometheus's label cardinality (spec §4.6).
const maxReasonLength = 100

func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	return reason[:maxReasonLength]
}

// Dimensions is the label set attached to every emitted metric. RunID is
// only turned into a label when the Collector was built with
// Options.IncludeRunID set -- run_id is opt-in per spec §4.6 because a
// high-cardinality run_id label on every sample is expensive by default.
type Dimensions struct {
	Tenant   string
	Strand   string
	Workflow string
	RunID    string
}

func (d Dimensions) labels(includeRunID bool) prometheus.Labels {
	l := prometheus.Labels{
		"tenant":   d.Tenant,
		"strand":   d.Strand,
		"workflow": d.Workflow,
	}
	if includeRunID {
		l["run_id"] = d.RunID
	}
	return l
}

var baseDimensionLabelNames = []string{"tenant", "strand", "workflow"}

// Options configures a Collector at construction time.
type Options struct {
	// IncludeRunID adds run_id as a fourth label on every instrument.
	// Off by default: a label with one value per run is unbounded
	// cardinality in a long-lived Prometheus registry.
	IncludeRunID bool
}

// Emitter is the interface the Lifecycle Engine programs against, so tests
// can substitute Recording instead of wiring a real Prometheus registry.
type Emitter interface {
	RecordCost(dims Dimensions, amount float64)
	RecordModelCost(dims Dimensions, model string, amount float64)
	RecordToolCost(dims Dimensions, tool string, amount float64)
	RecordTokens(dims Dimensions, input, output int64)
	RecordIteration(dims Dimensions)
	RecordToolCall(dims Dimensions)
	RecordRun(dims Dimensions, status string)
	RecordDowngrade(dims Dimensions, reason string)
	RecordRejection(dims Dimensions, reason string)
	RecordHalt(dims Dimensions, reason string)
}

// Collector is the Prometheus-backed Emitter.
type Collector struct {
	includeRunID bool

	costTotal  *prometheus.CounterVec
	costModel  *prometheus.CounterVec
	costTool   *prometheus.CounterVec
	tokensIn   *prometheus.CounterVec
	tokensOut  *prometheus.CounterVec
	iterations *prometheus.CounterVec
	toolCalls  *prometheus.CounterVec
	runs       *prometheus.CounterVec
	downgrades *prometheus.CounterVec
	rejections *prometheus.CounterVec
	halts      *prometheus.CounterVec
}

// NewCollector registers every cost-control instrument under namespace
// against reg and returns a Collector ready to record against them. Pass a
// fresh prometheus.NewRegistry() in tests so repeated construction doesn't
// collide with the global DefaultRegisterer; pass nil in production to
// register against prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer, opts Options) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	dimensionLabelNames := append([]string{}, baseDimensionLabelNames...)
	if opts.IncludeRunID {
		dimensionLabelNames = append(dimensionLabelNames, "run_id")
	}
	withModel := append(append([]string{}, dimensionLabelNames...), "model")
	withTool := append(append([]string{}, dimensionLabelNames...), "tool")
	withReason := append(append([]string{}, dimensionLabelNames...), "reason")
	withStatus := append(append([]string{}, dimensionLabelNames...), "status")

	return &Collector{
		includeRunID: opts.IncludeRunID,
		costTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cost_total", Help: "Total accrued cost.",
		}, dimensionLabelNames),
		costModel: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cost_model", Help: "Cost accrued per model.",
		}, withModel),
		costTool: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cost_tool", Help: "Cost accrued per tool.",
		}, withTool),
		tokensIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tokens_input", Help: "Input tokens consumed.",
		}, dimensionLabelNames),
		tokensOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tokens_output", Help: "Output tokens produced.",
		}, dimensionLabelNames),
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "agent_iterations", Help: "Agent loop iterations.",
		}, dimensionLabelNames),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "agent_tool_calls", Help: "Tool invocations.",
		}, dimensionLabelNames),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "agent_runs", Help: "Runs ended, labeled by terminal status.",
		}, withStatus),
		downgrades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cost_downgrade_events", Help: "Adaptive model downgrades.",
		}, withReason),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cost_rejection_events", Help: "Run admission, model-call and tool-call rejections.",
		}, withReason),
		halts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cost_halt_events", Help: "Mid-run halts.",
		}, withReason),
	}
}

// RecordCost implements Emitter.
func (c *Collector) RecordCost(dims Dimensions, amount float64) {
	c.costTotal.With(dims.labels(c.includeRunID)).Add(amount)
}

// RecordModelCost implements Emitter.
func (c *Collector) RecordModelCost(dims Dimensions, model string, amount float64) {
	l := dims.labels(c.includeRunID)
	l["model"] = model
	c.costModel.With(l).Add(amount)
}

// RecordToolCost implements Emitter.
func (c *Collector) RecordToolCost(dims Dimensions, tool string, amount float64) {
	l := dims.labels(c.includeRunID)
	l["tool"] = tool
	c.costTool.With(l).Add(amount)
}

// RecordTokens implements Emitter.
func (c *Collector) RecordTokens(dims Dimensions, input, output int64) {
	l := dims.labels(c.includeRunID)
	c.tokensIn.With(l).Add(float64(input))
	c.tokensOut.With(l).Add(float64(output))
}

// RecordIteration implements Emitter.
func (c *Collector) RecordIteration(dims Dimensions) {
	c.iterations.With(dims.labels(c.includeRunID)).Inc()
}

// RecordToolCall implements Emitter.
func (c *Collector) RecordToolCall(dims Dimensions) {
	c.toolCalls.With(dims.labels(c.includeRunID)).Inc()
}

// RecordRun implements Emitter.
func (c *Collector) RecordRun(dims Dimensions, status string) {
	l := dims.labels(c.includeRunID)
	l["status"] = strings.ToLower(status)
	c.runs.With(l).Inc()
}

// RecordDowngrade implements Emitter.
func (c *Collector) RecordDowngrade(dims Dimensions, reason string) {
	l := dims.labels(c.includeRunID)
	l["reason"] = truncateReason(reason)
	c.downgrades.With(l).Inc()
}

// RecordRejection implements Emitter.
func (c *Collector) RecordRejection(dims Dimensions, reason string) {
	l := dims.labels(c.includeRunID)
	l["reason"] = truncateReason(reason)
	c.rejections.With(l).Inc()
}

// RecordHalt implements Emitter.
func (c *Collector) RecordHalt(dims Dimensions, reason string) {
	l := dims.labels(c.includeRunID)
	l["reason"] = truncateReason(reason)
	c.halts.With(l).Inc()
}
