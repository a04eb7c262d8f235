// Package config holds analysis settings and the whitelist rule set.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// InitialSet selects which methods of serializable classes become entry
// points in addition to the deserialization hooks.
type InitialSet string

const (
	// InitialJava uses only the hooks invoked by deserialization.
	InitialJava InitialSet = "java"
	// InitialGetters adds bean getters.
	InitialGetters InitialSet = "getters"
	// InitialZeroArg adds every method without parameters.
	InitialZeroArg InitialSet = "zeroarg"
	// InitialDefaultConst adds zero argument constructors.
	InitialDefaultConst InitialSet = "defaultconst"
	// InitialStringConst adds constructors taking a single String.
	InitialStringConst InitialSet = "stringconst"
)

// ParseInitialSet validates an initial set name.
func ParseInitialSet(s string) (InitialSet, error) {
	switch is := InitialSet(strings.ToLower(s)); is {
	case InitialJava, InitialGetters, InitialZeroArg, InitialDefaultConst, InitialStringConst:
		return is, nil
	}
	return "", fmt.Errorf("unknown initial set %q", s)
}

// Config is the complete analysis configuration.
type Config struct {
	// UseHeuristics enables the pruning and dispatch heuristics. Without
	// them only whitelist and no-caller pruning applies.
	UseHeuristics bool

	// DumpInstantiation reports where used non-serializable types are
	// instantiated.
	DumpInstantiation bool

	// IgnoreNotFound degrades type-lattice conflicts to warnings.
	IgnoreNotFound bool

	// MaxChecksPerReference caps the number of distinct variants of one
	// method that are simulated before collapsing to full taint.
	MaxChecksPerReference int

	// MaxDisplayDumps is the number of paths reported per sink.
	MaxDisplayDumps int

	// FilterNonReachableInitializers removes instantiable types whose
	// constructors are no longer reachable.
	FilterNonReachableInitializers bool

	// CheckStaticPuts records static field writes as findings.
	CheckStaticPuts bool

	// InitialSet selects extra entry points.
	InitialSet InitialSet

	Rules *Rules
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		UseHeuristics:                  true,
		IgnoreNotFound:                 true,
		MaxChecksPerReference:          10,
		MaxDisplayDumps:                5,
		FilterNonReachableInitializers: true,
		CheckStaticPuts:                true,
		InitialSet:                     InitialJava,
		Rules:                          NewRules(),
	}
}

// Settings is the YAML overlay file. Unset fields keep their current value.
type Settings struct {
	Heuristics                     *bool    `yaml:"heuristics"`
	DumpInstantiation              *bool    `yaml:"dumpInstantiation"`
	IgnoreNotFound                 *bool    `yaml:"ignoreNotFound"`
	MaxChecksPerReference          *int     `yaml:"maxChecksPerReference"`
	MaxDisplayDumps                *int     `yaml:"maxDisplayDumps"`
	FilterNonReachableInitializers *bool    `yaml:"filterNonReachableInitializers"`
	CheckStaticPuts                *bool    `yaml:"checkStaticPuts"`
	InitialSet                     *string  `yaml:"initialSet"`
	Rules                          []string `yaml:"rules"` // whitelist lines
}

// LoadSettings applies a YAML settings overlay.
func (c *Config) LoadSettings(r io.Reader) error {
	var s Settings
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode settings: %w", err)
	}
	return c.apply(&s)
}

func (c *Config) apply(s *Settings) error {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.UseHeuristics, s.Heuristics)
	set(&c.DumpInstantiation, s.DumpInstantiation)
	set(&c.IgnoreNotFound, s.IgnoreNotFound)
	set(&c.FilterNonReachableInitializers, s.FilterNonReachableInitializers)
	set(&c.CheckStaticPuts, s.CheckStaticPuts)
	if s.MaxChecksPerReference != nil {
		if *s.MaxChecksPerReference < 1 {
			return fmt.Errorf("maxChecksPerReference must be positive, got %d", *s.MaxChecksPerReference)
		}
		c.MaxChecksPerReference = *s.MaxChecksPerReference
	}
	if s.MaxDisplayDumps != nil {
		c.MaxDisplayDumps = *s.MaxDisplayDumps
	}
	if s.InitialSet != nil {
		is, err := ParseInitialSet(*s.InitialSet)
		if err != nil {
			return err
		}
		c.InitialSet = is
	}
	if len(s.Rules) > 0 {
		if err := c.Rules.Read(strings.NewReader(strings.Join(s.Rules, "\n"))); err != nil {
			return fmt.Errorf("settings rules: %w", err)
		}
	}
	return nil
}
