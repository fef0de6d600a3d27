package config

import "slices"

// Credentials maps credential keys (environment variable names) to secrets.
// Build it once with ResolveCredentials and pass it where it is needed.
type Credentials map[string]string

func (c Credentials) Get(key string) string {
	if key == "" {
		return ""
	}
	return c[key]
}

func (c Credentials) Has(key string) bool { return c.Get(key) != "" }

// Keys lists configured credential names, sorted. Secrets are not exposed.
func (c Credentials) Keys() []string {
	out := make([]string, 0, len(c))
	for k, v := range c {
		if v != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// ResolveCredentials reads every credential key named by cfg exactly once.
func ResolveCredentials(cfg *Config, lookup LookupFunc) Credentials {
	creds := Credentials{}
	read := func(key string) {
		if key == "" {
			return
		}
		if _, done := creds[key]; done {
			return
		}
		if v, ok := lookup(key); ok {
			creds[key] = v
		} else {
			creds[key] = ""
		}
	}
	read(cfg.Aggregator.Credential)
	for _, ep := range cfg.Vendors {
		read(ep.Credential)
	}
	for _, m := range cfg.Models {
		read(m.Credential)
	}
	return creds
}
