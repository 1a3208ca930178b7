package metrics

import "github.com/zoobzio/shimz"

// AllName is the rollup over every datastore call.
const AllName = "Datastore/all"

// Statement identifies a datastore call: the product, the resource it ran
// against (a collection or table) and the logical operation.
type Statement struct {
	Product   string
	Resource  string
	Operation string
}

// Name is the segment and statement metric name.
func (s Statement) Name() string {
	return "Datastore/statement/" + s.Product + "/" + s.Resource + "/" + s.Operation
}

// Rollups returns the names aggregated alongside the statement metric.
func (s Statement) Rollups() []string {
	return []string{
		"Datastore/operation/" + s.Product + "/" + s.Operation,
		"Datastore/" + s.Product + "/all",
		AllName,
	}
}

// Recorder returns a segment recorder that feeds agg and, when non-nil, sink.
func (s Statement) Recorder(agg *Aggregator, sink *Sink) shimz.Recorder {
	names := append([]string{s.Name()}, s.Rollups()...)
	return func(m shimz.Measurement) {
		if agg != nil {
			for _, name := range names {
				agg.Record(name, m.Duration, m.Exclusive)
			}
		}
		if sink != nil {
			sink.Observe(s, m)
		}
	}
}
