package fallback

import (
	"fmt"

	"conclave/internal/chat"
	"conclave/internal/config"
	"conclave/internal/llm"
)

// Adapters holds the aggregator adapter and one adapter per direct vendor.
// A nil Aggregator disables tier 1 and the last-resort pass.
type Adapters struct {
	Aggregator chat.Adapter
	Direct     map[config.VendorKind]chat.Adapter
}

func (a Adapters) direct(kind config.VendorKind) chat.Adapter {
	if a.Direct == nil {
		return nil
	}
	return a.Direct[kind]
}

// BuildAdapters creates an adapter for the aggregator and for every direct
// vendor that appears in the routing table.
func BuildAdapters(routing *config.Routing, opts ...llm.Option) (Adapters, error) {
	out := Adapters{Direct: map[config.VendorKind]chat.Adapter{}}

	aggOpts := append([]llm.Option{}, opts...)
	if hdr := routing.AggregatorHeaders(); len(hdr) > 0 {
		aggOpts = append(aggOpts, llm.WithHeaders(hdr))
	}
	agg, err := llm.NewAdapter(config.VendorAggregator, routing.Aggregator(), aggOpts...)
	if err != nil {
		return Adapters{}, fmt.Errorf("aggregator adapter: %w", err)
	}
	out.Aggregator = agg

	for _, route := range routing.Routes() {
		if !route.Vendor.Direct() {
			continue
		}
		if _, ok := out.Direct[route.Vendor]; ok {
			continue
		}
		ep, _ := routing.Endpoint(route.Vendor)
		adapter, err := llm.NewAdapter(route.Vendor, ep, opts...)
		if err != nil {
			return Adapters{}, fmt.Errorf("%s adapter: %w", route.Vendor, err)
		}
		out.Direct[route.Vendor] = adapter
	}
	return out, nil
}
