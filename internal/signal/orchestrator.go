package signal

import (
	"time"

	"github.com/atlas-desktop/decision-engine/pkg/types"
	"go.uber.org/zap"
)

// Branch labels for the orchestration matrix. Every FinalDecision records
// which branch produced it so the audit trail explains confidence changes.
const (
	BranchPrimaryWait    = "primary_wait"
	BranchStrongAgree    = "strong_agreement"
	BranchModerateAgree  = "moderate_agreement"
	BranchOverride       = "high_conviction_override"
	BranchConservative   = "conservative_wait"
)

// OrchestratorConfig holds the agreement thresholds of the decision matrix.
type OrchestratorConfig struct {
	StrongConfirmationPct   float64 // confirmation above this boosts confidence
	ModerateConfirmationPct float64 // confirmation above this passes unchanged
	OverrideConfidence      float64 // primary confidence needed to override a rejection
	BoostFactor             float64
	OverridePenalty         float64
	WaitPenalty             float64
}

// DefaultOrchestratorConfig returns the production matrix thresholds.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		StrongConfirmationPct:   50,
		ModerateConfirmationPct: 30,
		OverrideConfidence:      0.70,
		BoostFactor:             1.10,
		OverridePenalty:         0.80,
		WaitPenalty:             0.50,
	}
}

// Orchestrator merges the probabilistic and rule-based layers into a single
// final decision. Confidence is clamped to [0, 1] exactly once, here.
type Orchestrator struct {
	logger *zap.Logger
	config *OrchestratorConfig
}

// NewOrchestrator creates the decision-matrix layer.
func NewOrchestrator(logger *zap.Logger, config *OrchestratorConfig) *Orchestrator {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	return &Orchestrator{logger: logger.Named("orchestrator"), config: config}
}

// Decide applies the five-branch matrix. Branch order is fixed; the first
// matching branch wins.
func (o *Orchestrator) Decide(sig *types.Signal, validation *types.ValidationResult) *types.FinalDecision {
	cfg := o.config

	action := sig.Action
	confidence := sig.Confidence
	branch := BranchConservative

	switch {
	case sig.Action == types.ActionWait:
		action = types.ActionWait
		branch = BranchPrimaryWait

	case validation.IsValid && validation.ConfirmationPct >= cfg.StrongConfirmationPct:
		confidence = sig.Confidence * cfg.BoostFactor
		branch = BranchStrongAgree

	case validation.IsValid && validation.ConfirmationPct >= cfg.ModerateConfirmationPct:
		branch = BranchModerateAgree

	case !validation.IsValid && sig.Confidence > cfg.OverrideConfidence:
		confidence = sig.Confidence * cfg.OverridePenalty
		branch = BranchOverride

	default:
		action = types.ActionWait
		confidence = sig.Confidence * cfg.WaitPenalty
		branch = BranchConservative
	}

	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	decision := &types.FinalDecision{
		Timestamp:  time.Now().UTC(),
		Symbol:     sig.Symbol,
		Action:     action,
		Confidence: confidence,
		Branch:     branch,
		Signal:     *sig,
		Validation: *validation,
	}

	o.logger.Info("decision orchestrated",
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(action)),
		zap.String("branch", branch),
		zap.Float64("confidence", confidence),
	)

	return decision
}
