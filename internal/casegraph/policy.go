package casegraph

import (
	"strings"

	"github.com/ShadewG/autobot-engine/internal/domain"
)

// Fee thresholds, expressed in cents since domain.FeeQuote carries
// amounts that way.
const (
	FeeAutoApproveMaxCents     = 100_00
	FeeNegotiateThresholdCents = 500_00
)

// sensitiveKeywords are the enumerated terms safety_check's hard rule
// checks for. This list is deliberately small and explicit rather than a
// classifier-driven heuristic: a fixed keyword check, not a model
// judgment, is what this last gate calls for.
var sensitiveKeywords = []string{"minor", "juvenile", "victim", "informant", "social security", "ssn"}

// decision is what decide_next_action computes before any safety override.
type decision struct {
	actionType     domain.ActionType
	reasoning      []string
	canAutoExecute bool
	requiresHuman  bool
	pauseReason    domain.PauseReason
}

// decideNextAction applies the case-progression policy rules. Portal
// signals take priority over every other branch (a portal signal in a
// message beats fee or denial signals); a requires_response=false message
// is otherwise a no-op unless it carries a portal redirect.
func decideNextAction(s State) decision {
	if s.PortalURL != "" {
		return decision{
			actionType:     domain.ActionSubmitPortal,
			reasoning:      []string{"agency response redirects to an online portal"},
			canAutoExecute: true,
		}
	}

	if !s.RequiresResponse {
		return decision{
			actionType:     domain.ActionNone,
			reasoning:      []string{"message requires no response"},
			canAutoExecute: true,
		}
	}

	mode := s.Case.AutopilotMode

	if s.Classification == "fee_request" {
		switch {
		case s.ExtractedFeeAmountCents <= FeeAutoApproveMaxCents && mode == domain.AutopilotAuto:
			return decision{
				actionType:     domain.ActionAcceptFee,
				reasoning:      []string{"fee within auto-approve threshold"},
				canAutoExecute: true,
			}
		case s.ExtractedFeeAmountCents <= FeeNegotiateThresholdCents:
			return decision{
				actionType:    domain.ActionAcceptFee,
				reasoning:     []string{"fee within negotiate threshold, requires approval"},
				requiresHuman: true,
				pauseReason:   domain.PauseFeeQuote,
			}
		default:
			return decision{
				actionType:    domain.ActionNegotiateFee,
				reasoning:     []string{"fee exceeds negotiate threshold"},
				requiresHuman: true,
				pauseReason:   domain.PauseFeeQuote,
			}
		}
	}

	if s.Classification == "denial" {
		if s.DenialStrength == "weak" && mode == domain.AutopilotAuto {
			return decision{
				actionType:     domain.ActionSendRebuttal,
				reasoning:      []string{"weak denial, rebuttal auto-approved under AUTO mode"},
				canAutoExecute: true,
			}
		}
		return decision{
			actionType:    domain.ActionSendRebuttal,
			reasoning:     []string{"denial requires human review before rebuttal"},
			requiresHuman: true,
			pauseReason:   domain.PauseDenial,
		}
	}

	return decision{
		actionType:    domain.ActionSendClarification,
		reasoning:     []string{"no specific policy branch matched, defaulting to clarification"},
		requiresHuman: true,
		pauseReason:   domain.PauseScope,
	}
}

// safetyOverride is the result of safety_check's hard rules: riskFlags are
// always recorded, but requiresHuman only flips true->true, never back to
// false (the state's preserve_unless_explicit reducer already protects
// against accidental resets; this return value just states the node's
// opinion).
type safetyOverride struct {
	riskFlags     []string
	requiresHuman bool
}

// applySafetyCheck implements safety_check's hard rules: a portal URL
// blocks every SEND_* action, an excessive fee without auto-approval
// authority forces human review, and any enumerated sensitive keyword in
// the accumulated reasoning text forces human review.
func applySafetyCheck(s State) safetyOverride {
	var flags []string
	forceHuman := false

	if s.PortalURL != "" && strings.HasPrefix(string(s.ActionType), "SEND_") {
		flags = append(flags, "portal_blocks_send")
		forceHuman = true
	}

	if s.ExtractedFeeAmountCents > FeeNegotiateThresholdCents && s.Case.AutopilotMode != domain.AutopilotAuto {
		flags = append(flags, "fee_threshold_exceeded")
		forceHuman = true
	}

	haystack := strings.ToLower(strings.Join(append(append([]string{}, s.Reasoning...), s.Classification, s.SuggestedAction, s.ReasonNoResponse), " "))
	for _, kw := range sensitiveKeywords {
		if strings.Contains(haystack, kw) {
			flags = append(flags, "sensitive_keyword:"+kw)
			forceHuman = true
		}
	}

	return safetyOverride{riskFlags: flags, requiresHuman: forceHuman}
}
