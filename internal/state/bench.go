package state

import "log/slog"

// Bench counts analysis events. It is owned by the State so the counters
// survive a checkpoint.
type Bench struct {
	TaintedCalls            int `json:"taintedCalls"`
	UntaintedCalls          int `json:"untaintedCalls"`
	TaintedByMissingArgs    int `json:"taintedByMissingArgs"`
	UnboundedInterfaceCalls int `json:"unboundedInterfaceCalls"`
	ImprovedReturnTypes     int `json:"improvedReturnTypes"`
	NonImprovedReturnTypes  int `json:"nonImprovedReturnTypes"`
	HeuristicFilter         int `json:"heuristicFilter"`
	BackwardJumps           int `json:"backwardJumps"`
	UnhandledLambdas        int `json:"unhandledLambdas"`
	MultiReturnTypes        int `json:"multiReturnTypes"`
	ImpliedCalls            int `json:"impliedCalls"`
	MethodLimitReached      int `json:"methodLimitReached"`
}

// Log writes the counters as one record.
func (b *Bench) Log(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("benchmark",
		"totalCalls", b.TaintedCalls+b.UntaintedCalls,
		"taintedCalls", b.TaintedCalls,
		"taintedByMissingArgs", b.TaintedByMissingArgs,
		"methodLimitReached", b.MethodLimitReached,
		"impliedCalls", b.ImpliedCalls,
		"untaintedCalls", b.UntaintedCalls,
		"backwardJumps", b.BackwardJumps,
		"improvedReturnTypes", b.ImprovedReturnTypes,
		"nonImprovedReturnTypes", b.NonImprovedReturnTypes,
		"multiReturnTypes", b.MultiReturnTypes,
		"unhandledLambdas", b.UnhandledLambdas,
		"unboundedInterfaceCalls", b.UnboundedInterfaceCalls,
		"heuristicFilter", b.HeuristicFilter,
	)
}
