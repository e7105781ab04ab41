package pipeline

import "fmt"

// Tier ranks how important a stage is to the run.
type Tier int

const (
	// Tier1 failures abort the run.
	Tier1 Tier = iota + 1
	// Tier2 failures fall back to a reduced result and continue.
	Tier2
	// Tier3 failures are logged as warnings; the run continues with less content.
	Tier3
	// Tier4 failures let the run complete but are surfaced for follow-up.
	Tier4
)

func (t Tier) String() string { return fmt.Sprintf("tier%d", int(t)) }

// Action is what the coordinator does when a stage fails.
type Action string

const (
	ActionAbort    Action = "abort"
	ActionFallback Action = "fallback"
	ActionWarn     Action = "warn"
	ActionSurface  Action = "surface"
)

// Policy describes how a stage fits into the run.
type Policy struct {
	Tier Tier
	// Requires is the stage whose success, or accepted degraded success, is
	// needed before this one may run.
	Requires  StageName
	OnFailure Action
}

var policies = map[StageName]Policy{
	StageRetrieval:      {Tier: Tier1, OnFailure: ActionAbort},
	StageCategorization: {Tier: Tier2, Requires: StageRetrieval, OnFailure: ActionFallback},
	StageAnalysis:       {Tier: Tier1, Requires: StageCategorization, OnFailure: ActionAbort},
	StageInsight:        {Tier: Tier3, Requires: StageAnalysis, OnFailure: ActionWarn},
	StageDistribution:   {Tier: Tier2, Requires: StageAnalysis, OnFailure: ActionFallback},
	StageSavings:        {Tier: Tier4, Requires: StageAnalysis, OnFailure: ActionSurface},
}

// PolicyFor returns the degradation policy of a stage.
func PolicyFor(name StageName) Policy {
	return policies[name]
}
