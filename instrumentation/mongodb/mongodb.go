// Package mongodb instruments document-store collections: every mapped method
// opens a datastore statement segment, and find keeps its segment open until
// the returned cursor is drained.
package mongodb

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zoobzio/shimz"
	"github.com/zoobzio/shimz/metrics"
)

const (
	// Product is the datastore product name used in metric names.
	Product = "MongoDB"
	// CollectionResource is the table resource the collection wrappers are
	// registered under.
	CollectionResource = "mongodb.Collection"
	// FindMethod is the streaming query method.
	FindMethod = "find"
)

// Operations maps callback-style collection methods to operation categories.
var Operations = map[string]shimz.Operation{
	"insert":        shimz.OpInsert,
	"update":        shimz.OpUpdate,
	"remove":        shimz.OpDelete,
	"ensureIndex":   shimz.OpSelect,
	"count":         shimz.OpSelect,
	"findAndModify": shimz.OpUpdate,
}

// Namer is implemented by collections that know their name.
type Namer interface {
	CollectionName() string
}

// Instrumentation registers collection wrappers on an agent.
type Instrumentation struct {
	agent  *shimz.Agent
	agg    *metrics.Aggregator
	sink   *metrics.Sink
	reg    prometheus.Registerer
	logger *zap.Logger
}

// Option configures Instrumentation.
type Option func(*Instrumentation)

// WithAggregator records statement timings into agg.
func WithAggregator(agg *metrics.Aggregator) Option {
	return func(i *Instrumentation) {
		i.agg = agg
	}
}

// WithSink exports statement timings to Prometheus.
func WithSink(sink *metrics.Sink) Option {
	return func(i *Instrumentation) {
		i.sink = sink
	}
}

// WithRegisterer exports statement timings to Prometheus through a sink
// registered on reg under the agent's metrics namespace. Ignored when
// WithSink is also given.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(i *Instrumentation) {
		i.reg = reg
	}
}

// Register adds the collection wrappers to the agent's table.
func Register(agent *shimz.Agent, opts ...Option) *Instrumentation {
	i := &Instrumentation{
		agent:  agent,
		logger: agent.Logger.Named("mongodb"),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.sink == nil && i.reg != nil {
		i.sink = metrics.NewSink(agent.Config.MetricsNamespace, i.reg)
	}

	adapters := agent.Adapters
	agent.Table.Register(CollectionResource, FindMethod,
		adapters.Scoped(adapters.Streaming(shimz.OpSelect, i.namer(shimz.OpSelect))))

	methods := make([]string, 0, len(Operations))
	for method := range Operations {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	for _, method := range methods {
		op := Operations[method]
		agent.Table.Register(CollectionResource, method,
			adapters.Scoped(adapters.Plain(op, i.namer(op))))
	}

	i.logger.Debug("registered collection wrappers", zap.Strings("methods", append(methods, FindMethod)))
	return i
}

// Instrument wraps the methods of one collection and returns how many were
// installed.
func (i *Instrumentation) Instrument(collection any) int {
	n := i.agent.Apply(CollectionResource, collection)
	i.logger.Debug("instrumented collection",
		zap.String("collection", CollectionName(collection)),
		zap.Int("methods", n))
	return n
}

// Aggregator returns the aggregator statements are recorded into, if any.
func (i *Instrumentation) Aggregator() *metrics.Aggregator {
	return i.agg
}

func (i *Instrumentation) namer(op shimz.Operation) shimz.Namer {
	return func(c *shimz.Call) (shimz.Key, shimz.Recorder) {
		st := metrics.Statement{
			Product:   Product,
			Resource:  CollectionName(c.Receiver),
			Operation: string(op),
		}
		if i.agg == nil && i.sink == nil {
			return st.Name(), nil
		}
		return st.Name(), st.Recorder(i.agg, i.sink)
	}
}

// CollectionName returns the receiver's collection name, or "unknown".
func CollectionName(recv any) string {
	if n, ok := recv.(Namer); ok {
		if name := n.CollectionName(); name != "" {
			return name
		}
	}
	return "unknown"
}
