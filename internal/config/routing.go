package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrUnknownModel = errors.New("unknown model")

// Route is a resolved routing entry.
type Route struct {
	Model         string
	Vendor        VendorKind
	Native        string
	CredentialKey string
	BaseURL       string
}

// Routing is the static model table the orchestrator consults. It is built
// once from Config and never mutated.
type Routing struct {
	routes        []Route
	autoRoute     []string
	aggregator    Endpoint
	aggregatorHdr map[string]string
}

// NewRouting resolves every model entry against its vendor endpoint.
func NewRouting(c *Config) (*Routing, error) {
	r := &Routing{
		autoRoute:     slices.Clone(c.AutoRoute),
		aggregator:    c.Aggregator,
		aggregatorHdr: c.AggregatorHeaders,
	}
	for _, m := range c.Models {
		ep := c.Vendors[m.Vendor]
		if m.Vendor == VendorAggregator {
			ep = c.Aggregator
		}
		route := Route{
			Model:         m.ID,
			Vendor:        m.Vendor,
			Native:        m.Native,
			CredentialKey: ep.Credential,
			BaseURL:       ep.BaseURL,
		}
		if route.Native == "" {
			route.Native = m.ID
		}
		if m.Credential != "" {
			route.CredentialKey = m.Credential
		}
		if route.CredentialKey == "" {
			return nil, fmt.Errorf("model %s: no credential configured for vendor %s", m.ID, m.Vendor)
		}
		r.routes = append(r.routes, route)
	}
	return r, nil
}

// NewRoutingFromRoutes builds a table directly, mostly for tests and
// synthetic provider sets.
func NewRoutingFromRoutes(aggregator Endpoint, autoRoute []string, routes ...Route) *Routing {
	return &Routing{
		routes:     slices.Clone(routes),
		autoRoute:  slices.Clone(autoRoute),
		aggregator: aggregator,
	}
}

func (r *Routing) Lookup(model string) (Route, bool) {
	for _, route := range r.routes {
		if route.Model == model {
			return route, true
		}
	}
	return Route{}, false
}

// Routes returns every entry in configuration order.
func (r *Routing) Routes() []Route { return slices.Clone(r.routes) }

// AutoRoute is the fixed priority list used when the requested model fails.
func (r *Routing) AutoRoute() []string { return slices.Clone(r.autoRoute) }

func (r *Routing) Aggregator() Endpoint { return r.aggregator }

func (r *Routing) AggregatorHeaders() map[string]string { return r.aggregatorHdr }

// Endpoint returns the endpoint used for a direct vendor, taken from the
// first route of that vendor.
func (r *Routing) Endpoint(kind VendorKind) (Endpoint, bool) {
	if kind == VendorAggregator {
		return r.aggregator, r.aggregator.Credential != ""
	}
	for _, route := range r.routes {
		if route.Vendor == kind {
			return Endpoint{BaseURL: route.BaseURL, Credential: route.CredentialKey}, true
		}
	}
	return Endpoint{}, false
}

// ProviderLabel is the title-cased vendor prefix of a canonical model id:
// "anthropic/claude-sonnet-4.6" becomes "Anthropic".
func ProviderLabel(model string) string {
	prefix, _, found := strings.Cut(model, "/")
	if !found || prefix == "" {
		return ""
	}
	return cases.Title(language.Und).String(prefix)
}
