package rules

import (
	"encoding/json"
	"fmt"
)

// Category identifies the kind of content a rule or detection refers to.
// The taxonomy is closed: new categories are a compile-time decision, not
// free-form strings arriving over the wire.
type Category string

const (
	// PII categories
	CategoryPIIName       Category = "pii_name"
	CategoryPIIEmail      Category = "pii_email"
	CategoryPIIPhone      Category = "pii_phone"
	CategoryPIIAddress    Category = "pii_address"
	CategoryPIISSN        Category = "pii_ssn"
	CategoryPIICreditCard Category = "pii_credit_card"
	CategoryPIIAadhaar    Category = "pii_aadhaar" // Indian 12-digit ID
	CategoryPIIPAN        Category = "pii_pan"     // Indian tax ID
	CategoryPIIPassport   Category = "pii_passport"
	CategoryPIIIPAddress  Category = "pii_ip_address"
	CategoryPIIAPIKey     Category = "pii_api_key"
	CategoryPIIPassword   Category = "pii_password"

	// Toxicity categories
	CategoryToxicHate       Category = "toxic_hate"
	CategoryToxicHarassment Category = "toxic_harassment"
	CategoryToxicViolence   Category = "toxic_violence"
	CategoryToxicSexual     Category = "toxic_sexual"
	CategoryToxicSelfHarm   Category = "toxic_self_harm"
	CategoryToxicProfanity  Category = "toxic_profanity"

	// Security categories
	CategoryPromptInjection  Category = "prompt_injection"
	CategoryJailbreakAttempt Category = "jailbreak_attempt"
	CategoryDataExfiltration Category = "data_exfiltration"

	// Finance categories
	CategoryFinanceTradingIntent    Category = "finance_trading_intent"
	CategoryFinanceInsiderInfo      Category = "finance_insider_info"
	CategoryFinanceInvestmentAdvice Category = "finance_investment_advice"
	CategoryFinanceLoanDiscussion   Category = "finance_loan_discussion"

	// Safe / meta categories
	CategorySafe      Category = "safe"
	CategorySuspicion Category = "suspicion" // escalation-classifier verdict, pre-fallback
)

var allCategories = []Category{
	CategoryPIIName, CategoryPIIEmail, CategoryPIIPhone, CategoryPIIAddress,
	CategoryPIISSN, CategoryPIICreditCard, CategoryPIIAadhaar, CategoryPIIPAN,
	CategoryPIIPassport, CategoryPIIIPAddress, CategoryPIIAPIKey, CategoryPIIPassword,
	CategoryToxicHate, CategoryToxicHarassment, CategoryToxicViolence,
	CategoryToxicSexual, CategoryToxicSelfHarm, CategoryToxicProfanity,
	CategoryPromptInjection, CategoryJailbreakAttempt, CategoryDataExfiltration,
	CategoryFinanceTradingIntent, CategoryFinanceInsiderInfo,
	CategoryFinanceInvestmentAdvice, CategoryFinanceLoanDiscussion,
	CategorySafe, CategorySuspicion,
}

// AllCategories returns every known category. The returned slice is a copy.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory validates a category string coming from outside the process
// (feedback corrections, persisted rules).
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	for _, known := range allCategories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// IsPII reports whether the category belongs to the PII group.
func (c Category) IsPII() bool {
	switch c {
	case CategoryPIIName, CategoryPIIEmail, CategoryPIIPhone, CategoryPIIAddress,
		CategoryPIISSN, CategoryPIICreditCard, CategoryPIIAadhaar, CategoryPIIPAN,
		CategoryPIIPassport, CategoryPIIIPAddress, CategoryPIIAPIKey, CategoryPIIPassword:
		return true
	}
	return false
}

// IsToxicity reports whether the category belongs to the toxicity group.
func (c Category) IsToxicity() bool {
	switch c {
	case CategoryToxicHate, CategoryToxicHarassment, CategoryToxicViolence,
		CategoryToxicSexual, CategoryToxicSelfHarm, CategoryToxicProfanity:
		return true
	}
	return false
}

// IsFinance reports whether the category belongs to the finance group.
func (c Category) IsFinance() bool {
	switch c {
	case CategoryFinanceTradingIntent, CategoryFinanceInsiderInfo,
		CategoryFinanceInvestmentAdvice, CategoryFinanceLoanDiscussion:
		return true
	}
	return false
}

// IsSecurity reports whether the category belongs to the injection group.
func (c Category) IsSecurity() bool {
	switch c {
	case CategoryPromptInjection, CategoryJailbreakAttempt, CategoryDataExfiltration:
		return true
	}
	return false
}

// Severity is an ordinal risk level. Higher values are worse.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "none",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity converts the serialized form back to a Severity.
func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if name == s {
			return sev, nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", s)
}

// MarshalJSON serializes severities by name, matching the YAML form.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the name form produced by MarshalJSON.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	sev, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// MarshalYAML serializes severities by name so rule files stay readable.
func (s Severity) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML accepts the name form produced by MarshalYAML.
func (s *Severity) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	sev, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}
