package policy

// PreviewSample is one sample invoke request a preview run is checked
// against on both sides of a bundle change.
type PreviewSample struct {
	Label string
	Input SimulationInput
}

// SampleOutcome is one sample's decision under a single side of a preview.
type SampleOutcome struct {
	Label      string
	Decision   Decision
	ReasonCode string
}

// Report is the result of running a sample set against the before/after
// sides of a policy change: per-sample decisions on each side, and the
// subset whose decision class changed.
type Report struct {
	Before  []SampleOutcome
	After   []SampleOutcome
	Changed []string // labels of samples whose Decision differs before vs after

	// Explanations holds one rendered string per entry in Changed, keyed
	// by label, when Preview is called with a non-nil Explainer.
	Explanations map[string]string
}

// Preview runs the simulator against each sample under both beforePolicy
// and afterPolicy, per spec §4.7. Each sample's Input.ZonePolicy is
// overwritten with the side under test so callers can share one sample
// set across both sides. explainer and explanationTemplate are optional;
// when both are non-empty/non-nil, each changed sample's Explanations
// entry is rendered from the named CEL template.
func Preview(beforePolicy, afterPolicy *ZonePolicy, samples []PreviewSample, explainer *Explainer, explanationTemplate string) Report {
	var report Report
	for _, s := range samples {
		beforeInput := s.Input
		beforeInput.ZonePolicy = beforePolicy
		beforeReceipt := Simulate(&beforeInput)

		afterInput := s.Input
		afterInput.ZonePolicy = afterPolicy
		afterReceipt := Simulate(&afterInput)

		beforeOutcome := SampleOutcome{Label: s.Label, Decision: beforeReceipt.Decision, ReasonCode: beforeReceipt.ReasonCode}
		afterOutcome := SampleOutcome{Label: s.Label, Decision: afterReceipt.Decision, ReasonCode: afterReceipt.ReasonCode}
		report.Before = append(report.Before, beforeOutcome)
		report.After = append(report.After, afterOutcome)

		if beforeReceipt.Decision != afterReceipt.Decision {
			report.Changed = append(report.Changed, s.Label)
			if explainer != nil && explanationTemplate != "" {
				if text, ok := explainer.Explain(explanationTemplate, beforeOutcome, afterOutcome); ok {
					if report.Explanations == nil {
						report.Explanations = make(map[string]string)
					}
					report.Explanations[s.Label] = text
				}
			}
		}
	}
	return report
}
