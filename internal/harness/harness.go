package harness

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/internal/backtrace"
	"github.com/715d/serianalyzer/internal/callgraph"
	"github.com/715d/serianalyzer/internal/filter"
	"github.com/715d/serianalyzer/internal/hierarchy"
	"github.com/715d/serianalyzer/internal/index"
	"github.com/715d/serianalyzer/internal/state"
	"github.com/715d/serianalyzer/pkg/config"
)

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing classes.yaml.
	Dir string `yaml:"-"`

	// Description is free text shown when a configuration fails.
	Description string `yaml:"description,omitempty"`

	// Configurations are analyzer runs over the same classes.
	Configurations []Configuration `yaml:"configurations"`
}

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Findings is the raw report.
	Findings []backtrace.Finding

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Message provides a summary of the result.
	Message string
}

// Run executes a test case with all its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	var results []ConfigurationResult
	allSuccess := true
	for _, cfg := range tc.Configurations {
		idx, err := LoadClasses(filepath.Join(h.root, tc.Dir))
		require.NoError(t, err)

		cfgResult := h.runConfiguration(t, idx, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Configurations), strings.Join(msgs, "\n"))
		if tc.Description != "" {
			resultMsg = tc.Description + "\n" + resultMsg
		}
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

func analyzerConfig(cfg Configuration) (*config.Config, error) {
	ac := config.Default()
	if cfg.Heuristics != nil {
		ac.UseHeuristics = *cfg.Heuristics
	}
	if cfg.Strict {
		ac.IgnoreNotFound = false
	}
	if cfg.StaticPuts != nil {
		ac.CheckStaticPuts = *cfg.StaticPuts
	}
	if cfg.InitialSet != "" {
		is, err := config.ParseInitialSet(cfg.InitialSet)
		if err != nil {
			return nil, err
		}
		ac.InitialSet = is
	}
	if err := ac.Rules.Read(strings.NewReader(cfg.Rules)); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return ac, nil
}

// runConfiguration executes the pipeline for a single configuration.
func (h *TestHarness) runConfiguration(t *testing.T, idx *index.Index, cfg Configuration) *ConfigurationResult {
	t.Helper()
	ac, err := analyzerConfig(cfg)
	var res *hierarchy.Resolver
	st := state.New()
	if err == nil {
		res = hierarchy.New(idx, ac)
		err = callgraph.New(res, ac, st).Run()
	}
	if err != nil {
		// Check if this error was expected.
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	if len(cfg.ExpectedErrors) > 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Message:       "Expected an error",
			Details:       cfg.ExpectedErrors,
		}
	}

	obs := observed{
		safe:    keyStrings(st.Safe),
		known:   keyStrings(st.Known),
		callers: make(map[string][]string),
	}

	filter.Run(st, res, ac)
	findings := backtrace.New(st, res, ac).Findings()
	for k, callers := range st.Callers {
		obs.callers[k.String()] = keyStrings(callers)
	}
	obs.instantiable = st.InstantiableTypes

	cfgResult := &ConfigurationResult{Configuration: cfg, Findings: findings}
	validateResults(cfgResult, cfg, findings, obs)
	return cfgResult
}

// observed is the call graph state the expectations are checked against.
// safe and known are taken before filtering, the rest after.
type observed struct {
	safe         []string
	known        []string
	callers      map[string][]string
	instantiable map[string]bool
}

func keyStrings[V any](m map[analysis.Key]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k.String())
	}
	slices.Sort(out)
	return out
}

func findingKey(kind, sink string) string { return kind + " " + sink }

func validateResults(cfgResult *ConfigurationResult, cfg Configuration, findings []backtrace.Finding, obs observed) {
	expectedMap := make(map[string]ExpectedFinding)
	for _, e := range cfg.ExpectedFindings {
		expectedMap[findingKey(e.Kind, e.Sink)] = e
	}
	actualMap := make(map[string]backtrace.Finding)
	for _, f := range findings {
		actualMap[findingKey(string(f.Kind), f.Sink)] = f
	}

	var missing, unexpected, details []string
	for key := range expectedMap {
		if _, found := actualMap[key]; !found {
			missing = append(missing, key)
		}
	}
	for key := range actualMap {
		if _, found := expectedMap[key]; !found {
			unexpected = append(unexpected, key)
		}
	}
	slices.Sort(missing)
	slices.Sort(unexpected)

	for _, m := range missing {
		details = append(details, "Should have been reported: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Should not have been reported: "+u)
	}

	for key, exp := range expectedMap {
		act, found := actualMap[key]
		if !found || exp.Entry == "" {
			continue
		}
		if !slices.ContainsFunc(act.Paths, func(p backtrace.Path) bool {
			return len(p) > 0 && p[len(p)-1].Key.String() == exp.Entry
		}) {
			details = append(details, fmt.Sprintf("No path of %s ends at %s", key, exp.Entry))
		}
	}

	for _, m := range cfg.ExpectedSafe {
		if !slices.Contains(obs.safe, m) {
			details = append(details, "Should have been marked safe: "+m)
		}
	}
	for _, m := range cfg.ExpectedUnknown {
		if slices.Contains(obs.known, m) {
			details = append(details, "Should never have been reached: "+m)
		}
	}
	for _, c := range cfg.ExpectedCallers {
		if !slices.Contains(obs.callers[c.Method], c.Caller) {
			details = append(details, fmt.Sprintf("%s should still be called by %s, callers: %v", c.Method, c.Caller, obs.callers[c.Method]))
		}
	}
	for _, typ := range cfg.ExpectedInstantiable {
		if !obs.instantiable[typ] {
			details = append(details, "Should be instantiable: "+typ)
		}
	}
	for _, typ := range cfg.ExpectedUninstantiable {
		if obs.instantiable[typ] {
			details = append(details, "Should not be instantiable: "+typ)
		}
	}

	cfgResult.Success = len(details) == 0
	cfgResult.Details = details
	if cfgResult.Success {
		cfgResult.Message = fmt.Sprintf("All %d expected findings found", len(cfg.ExpectedFindings))
	} else {
		cfgResult.Message = fmt.Sprintf("Test failed: %d missing, %d unexpected, %d other", len(missing), len(unexpected), len(details)-len(missing)-len(unexpected))
	}
}
