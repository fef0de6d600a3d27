package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate checks the table is internally consistent.
func (c *Config) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for _, m := range c.Models {
		switch {
		case m.ID == "":
			errs = append(errs, errors.New("models: entry without id"))
		case seen[m.ID]:
			errs = append(errs, fmt.Errorf("models: duplicate id %s", m.ID))
		case !m.Vendor.Valid():
			errs = append(errs, fmt.Errorf("models: %s has unknown vendor %q", m.ID, m.Vendor))
		}
		seen[m.ID] = true
	}
	for kind := range c.Vendors {
		if !kind.Direct() {
			errs = append(errs, fmt.Errorf("vendors: %q is not a direct vendor", kind))
		}
	}

	known := func(field, id string) {
		if !seen[id] {
			errs = append(errs, fmt.Errorf("%s: %w %s", field, ErrUnknownModel, id))
		}
	}
	if c.DefaultModel != "" {
		known("default_model", c.DefaultModel)
	}
	for _, id := range c.AutoRoute {
		known("auto_route", id)
	}

	if len(c.Debate.Roster) != 3 {
		errs = append(errs, fmt.Errorf("debate.roster: need exactly 3 models, got %d", len(c.Debate.Roster)))
	}
	for i, id := range c.Debate.Roster {
		known("debate.roster", id)
		if slices.Index(c.Debate.Roster, id) != i {
			errs = append(errs, fmt.Errorf("debate.roster: %s listed twice", id))
		}
	}
	if c.Debate.Synthesizer == "" {
		errs = append(errs, errors.New("debate.synthesizer: required"))
	} else {
		known("debate.synthesizer", c.Debate.Synthesizer)
		if slices.Contains(c.Debate.Roster, c.Debate.Synthesizer) {
			errs = append(errs, fmt.Errorf("debate.synthesizer: %s is also in the roster", c.Debate.Synthesizer))
		}
	}

	if c.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("max_rounds: must be at least 1, got %d", c.MaxRounds))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("max_tokens: must not be negative"))
	}
	return errors.Join(errs...)
}
