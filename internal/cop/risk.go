package cop

import (
	"fmt"
	"regexp"
	"strings"
)

// Keyword tables for content-signal risk classification. Single words match
// on word boundaries, phrases as substrings; everything is lowercased first.
var highStakesKeywords = map[string][]string{
	"evacuation": {"evacuate", "evacuation", "evacuating", "mandatory evacuation",
		"shelter in place", "leave immediately", "get out now"},
	"shelter": {"shelter closed", "shelter closing", "shelter full", "shelter capacity",
		"shelter opening", "emergency shelter", "warming center", "cooling center"},
	"hazard": {"hazardous", "hazmat", "gas leak", "chemical spill", "toxic",
		"explosion", "fire spreading", "structural collapse", "building collapse",
		"live wires", "downed power lines", "flood waters rising"},
	"medical": {"mass casualty", "fatality", "fatalities", "death", "deaths",
		"hospital overwhelmed", "medical emergency", "triage", "ems delayed",
		"ambulance unavailable", "critical condition"},
	"donation": {"donate", "donation", "gofundme", "venmo", "cashapp", "paypal",
		"send money", "wire transfer", "financial assistance"},
	"infrastructure": {"dam failure", "dam breach", "levee breach", "bridge collapse",
		"road closed", "highway closed", "water contaminated",
		"boil water", "power grid", "blackout"},
}

var elevatedKeywords = map[string][]string{
	"time_sensitive": {"urgent", "immediately", "asap", "critical", "emergency",
		"breaking", "just now", "happening now", "developing"},
	"resources": {"running low", "almost out", "limited supply", "need volunteers",
		"need supplies", "shortage", "rationing"},
	"access": {"road blocked", "detour", "alternate route", "restricted access",
		"checkpoint", "curfew", "closed until"},
	"weather": {"storm warning", "tornado watch", "flash flood", "severe weather",
		"conditions worsening", "expected to intensify"},
}

// RiskSignal is one keyword hit in candidate content.
type RiskSignal struct {
	Category string   `json:"category"`
	Keyword  string   `json:"keyword"`
	Severity RiskTier `json:"severity"`
}

// RiskClassification is the content-derived tier plus the signals behind it.
// FinalTier reflects any facilitator override on the candidate.
type RiskClassification struct {
	ComputedTier RiskTier     `json:"computed_tier"`
	FinalTier    RiskTier     `json:"final_tier"`
	Signals      []RiskSignal `json:"signals"`
	Explanation  string       `json:"explanation"`
}

// ClassifyRisk scans a candidate's fields and draft wording for risk signals
// and derives its tier. A single high-stakes hit, or three or more elevated
// hits, yields high_stakes. An override on the candidate wins over the
// computed tier but is always recorded alongside it.
func ClassifyRisk(c *Candidate) RiskClassification {
	text := riskText(c)
	signals := detectSignals(text)
	computed := tierFromSignals(signals)

	final := computed
	if c.RiskOverride != nil && c.RiskOverride.NewTier != "" {
		final = c.RiskOverride.NewTier
	}

	return RiskClassification{
		ComputedTier: computed,
		FinalTier:    final,
		Signals:      signals,
		Explanation:  explainTier(computed, signals),
	}
}

func riskText(c *Candidate) string {
	parts := []string{
		c.Fields.What, c.Fields.Where, c.Fields.Who, c.Fields.SoWhat,
		c.Fields.When.Description,
		c.Draft.Headline, c.Draft.Body,
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func detectSignals(text string) []RiskSignal {
	var signals []RiskSignal
	for cat, kws := range highStakesKeywords {
		for _, kw := range kws {
			if keywordMatch(kw, text) {
				signals = append(signals, RiskSignal{Category: cat, Keyword: kw, Severity: HighStakes})
			}
		}
	}
	if len(signals) > 0 {
		return signals
	}
	for cat, kws := range elevatedKeywords {
		for _, kw := range kws {
			if keywordMatch(kw, text) {
				signals = append(signals, RiskSignal{Category: cat, Keyword: kw, Severity: Elevated})
			}
		}
	}
	return signals
}

func keywordMatch(keyword, text string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(keyword) + `\b`)
	return re.MatchString(text)
}

func tierFromSignals(signals []RiskSignal) RiskTier {
	if len(signals) == 0 {
		return Routine
	}
	elevated := 0
	for _, s := range signals {
		switch s.Severity {
		case HighStakes:
			return HighStakes
		case Elevated:
			elevated++
		}
	}
	if elevated >= 3 {
		return HighStakes
	}
	if elevated > 0 {
		return Elevated
	}
	return Routine
}

func explainTier(tier RiskTier, signals []RiskSignal) string {
	switch tier {
	case Routine:
		return "No high-stakes or elevated risk signals detected."
	case Elevated:
		cats := map[string]bool{}
		var order []string
		for _, s := range signals {
			if !cats[s.Category] {
				cats[s.Category] = true
				order = append(order, s.Category)
			}
		}
		return "Elevated risk due to: " + strings.Join(order, ", ")
	default:
		var kws []string
		for _, s := range signals {
			if s.Severity == HighStakes && len(kws) < 3 {
				kws = append(kws, s.Keyword)
			}
		}
		if len(kws) > 0 {
			return fmt.Sprintf("HIGH STAKES: Contains life-safety keywords (%s)", strings.Join(kws, ", "))
		}
		return "HIGH STAKES: Multiple elevated risk indicators"
	}
}

// ValidateRiskOverride checks a facilitator risk-tier override before it is
// recorded. Every override needs a written rationale.
func ValidateRiskOverride(newTier RiskTier, justification string) error {
	switch newTier {
	case Routine, Elevated, HighStakes:
	default:
		return Validationf("new_tier", "unknown risk tier %q", newTier)
	}
	if strings.TrimSpace(justification) == "" {
		return Validationf("justification", "override requires a written justification")
	}
	return nil
}

// ApplyUnconfirmedLabel prefixes published text for overridden high-stakes
// items. Idempotent.
func ApplyUnconfirmedLabel(text string) string {
	if strings.HasPrefix(text, "UNCONFIRMED: ") {
		return text
	}
	return "UNCONFIRMED: " + text
}
