package rules

import (
	"regexp"
	"strings"
)

// Builtin returns the compiled base rule set. The slice is rebuilt on every
// call so callers may not mutate shared state through it; the compiled
// regexes themselves are shared.
func Builtin() []*Rule {
	var out []*Rule
	out = append(out, piiRules()...)
	out = append(out, injectionRules()...)
	out = append(out, financeRules()...)
	out = append(out, keywordRules()...)
	out = append(out, suspicionRules()...)
	return out
}

var separators = regexp.MustCompile(`[-\s]`)

// luhnValid checks the standard card-number checksum. Separators are
// stripped first so the spaced/dashed pattern variants share the validator.
func luhnValid(match string) bool {
	digits := separators.ReplaceAllString(match, "")
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// aadhaarValid does the cheap structural check: 12 digits, first digit 2-9.
// Verhoeff would be stricter but the regex already constrains the shape.
func aadhaarValid(match string) bool {
	digits := separators.ReplaceAllString(match, "")
	if len(digits) != 12 {
		return false
	}
	return digits[0] != '0' && digits[0] != '1'
}

func piiRules() []*Rule {
	type piiDef struct {
		name        string
		pattern     string
		category    Category
		severity    Severity
		confidence  float64
		explanation string
		validate    func(string) bool
	}
	defs := []piiDef{
		{
			name:        "email",
			pattern:     `(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			category:    CategoryPIIEmail,
			severity:    SeverityMedium,
			confidence:  0.95,
			explanation: "Email address detected",
		},
		{
			name:        "phone_international",
			pattern:     `(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`,
			category:    CategoryPIIPhone,
			severity:    SeverityMedium,
			confidence:  0.85,
			explanation: "Phone number detected",
		},
		{
			name:        "phone_indian",
			pattern:     `(?:\+91[-.\s]?)?[6-9]\d{9}\b`,
			category:    CategoryPIIPhone,
			severity:    SeverityMedium,
			confidence:  0.90,
			explanation: "Indian phone number detected",
		},
		{
			name:        "credit_card",
			pattern:     `\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`,
			category:    CategoryPIICreditCard,
			severity:    SeverityCritical,
			confidence:  0.90,
			explanation: "Credit card number detected",
			validate:    luhnValid,
		},
		{
			name:        "credit_card_separated",
			pattern:     `\b\d{4}[-\s]\d{4}[-\s]\d{4}[-\s]\d{4}\b`,
			category:    CategoryPIICreditCard,
			severity:    SeverityCritical,
			confidence:  0.85,
			explanation: "Credit card number detected (with separators)",
		},
		{
			name:        "ssn",
			pattern:     `\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`,
			category:    CategoryPIISSN,
			severity:    SeverityCritical,
			confidence:  0.80,
			explanation: "US Social Security Number detected",
		},
		{
			name:        "aadhaar",
			pattern:     `\b[2-9]\d{3}[-\s]?\d{4}[-\s]?\d{4}\b`,
			category:    CategoryPIIAadhaar,
			severity:    SeverityCritical,
			confidence:  0.85,
			explanation: "Aadhaar number detected",
			validate:    aadhaarValid,
		},
		{
			name:        "pan",
			pattern:     `\b[A-Z]{5}\d{4}[A-Z]\b`,
			category:    CategoryPIIPAN,
			severity:    SeverityHigh,
			confidence:  0.90,
			explanation: "PAN card number detected",
		},
		{
			name:        "ipv4",
			pattern:     `\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`,
			category:    CategoryPIIIPAddress,
			severity:    SeverityLow,
			confidence:  0.95,
			explanation: "IP address detected",
		},
		{
			name:        "api_key",
			pattern:     `\b(?:sk-[a-zA-Z0-9]{32,}|sk-ant-[a-zA-Z0-9-]{32,}|AIza[0-9A-Za-z_-]{35}|AKIA[0-9A-Z]{16}|ghp_[a-zA-Z0-9]{36}|xox[baprs]-[0-9a-zA-Z-]{10,})\b`,
			category:    CategoryPIIAPIKey,
			severity:    SeverityCritical,
			confidence:  0.95,
			explanation: "API key or secret detected",
		},
		{
			name:        "secret_assignment",
			pattern:     `(?i)(?:password|passwd|pwd|secret|token|api_key|apikey|auth)\s*[:=]\s*["']?[^\s"']{8,}["']?`,
			category:    CategoryPIIPassword,
			severity:    SeverityCritical,
			confidence:  0.80,
			explanation: "Password or secret in key=value format detected",
		},
		{
			// Broad shape, many false positives; confidence reflects that.
			name:        "passport",
			pattern:     `\b[A-Z]{1,2}[0-9]{6,9}\b`,
			category:    CategoryPIIPassport,
			severity:    SeverityHigh,
			confidence:  0.60,
			explanation: "Possible passport number detected",
		},
	}

	out := make([]*Rule, 0, len(defs))
	for _, d := range defs {
		r := mustRule("pii_"+d.name, d.pattern, d.category, d.severity, d.confidence, StagePII)
		r.Explanation = d.explanation
		r.Validate = d.validate
		out = append(out, r)
	}
	return out
}

func injectionRules() []*Rule {
	type injDef struct {
		name        string
		pattern     string
		category    Category
		severity    Severity
		confidence  float64
		explanation string
	}
	defs := []injDef{
		{
			name:        "instruction_override",
			pattern:     `(?i)(ignore|disregard|forget|override|bypass|skip)\s+(all\s+)?(previous|prior|above|earlier|initial|original|system)\s+(instructions?|prompts?|rules?|guidelines?|constraints?|directives?)`,
			category:    CategoryPromptInjection,
			severity:    SeverityCritical,
			confidence:  0.95,
			explanation: "Attempt to override system instructions",
		},
		{
			name:        "new_instruction",
			pattern:     `(?i)(from\s+now\s+on|starting\s+now|henceforth|going\s+forward)\s*[,:]?\s*(you\s+)?(are|will|must|should|shall|have\s+to)`,
			category:    CategoryPromptInjection,
			severity:    SeverityHigh,
			confidence:  0.80,
			explanation: "Attempt to inject new instructions",
		},
		{
			name:        "roleplay_jailbreak",
			pattern:     `(?i)(pretend|imagine|act\s+as\s+if|roleplay|role\s+play|you\s+are\s+now)\s+(you\s+)?(are|were|have|can|don'?t\s+have)\s+(no\s+)?(restrictions?|limits?|boundaries|filters?|rules?|guidelines?)`,
			category:    CategoryJailbreakAttempt,
			severity:    SeverityCritical,
			confidence:  0.90,
			explanation: "Roleplay-based jailbreak attempt",
		},
		{
			name:        "dan_jailbreak",
			pattern:     `(?i)\b(DAN|do\s+anything\s+now|jailbreak|jailbroken|uncensored|unfiltered)\b`,
			category:    CategoryJailbreakAttempt,
			severity:    SeverityCritical,
			confidence:  0.95,
			explanation: "Known jailbreak technique detected",
		},
		{
			name:        "prompt_extraction",
			pattern:     `(?i)(what\s+(is|are)\s+your|show\s+me\s+(your|the)|reveal|display|print|output|repeat)\s+(system\s+)?(prompt|instructions?|initial\s+prompt|original\s+prompt|guidelines?|rules?|configuration|setup)`,
			category:    CategoryPromptInjection,
			severity:    SeverityHigh,
			confidence:  0.85,
			explanation: "Attempt to extract system prompt",
		},
		{
			name:        "developer_mode",
			pattern:     `(?i)(enable|enter|activate|switch\s+to|turn\s+on)\s+(developer|dev|debug|admin|root|sudo|god)\s*(mode|access|privileges?)?`,
			category:    CategoryJailbreakAttempt,
			severity:    SeverityHigh,
			confidence:  0.85,
			explanation: "Attempt to enable privileged mode",
		},
		{
			name:        "data_exfiltration",
			pattern:     `(?i)(send|transmit|post|upload|exfiltrate|leak|share)\s+(this|the|all|my|your|user)?\s*(data|information|content|messages?|conversation|context|history)\s+(to|via|through|using)\s+(http|url|webhook|api|endpoint|server)`,
			category:    CategoryDataExfiltration,
			severity:    SeverityCritical,
			confidence:  0.90,
			explanation: "Attempt to exfiltrate data",
		},
		{
			name:        "encoding_bypass",
			pattern:     `(?i)(decode|decrypt|deobfuscate|translate)\s+(this|the\s+following|base64|hex|rot13|caesar)`,
			category:    CategoryPromptInjection,
			severity:    SeverityMedium,
			confidence:  0.70,
			explanation: "Possible encoded payload injection",
		},
		{
			name:        "system_markers",
			pattern:     `(?i)\[/?system\]|</?system>|\{\{system\}\}|###\s*system`,
			category:    CategoryPromptInjection,
			severity:    SeverityHigh,
			confidence:  0.85,
			explanation: "System message format markers detected",
		},
		{
			name:        "hypothetical_bypass",
			pattern:     `(?i)(hypothetically|theoretically|in\s+theory|just\s+for\s+fun|for\s+educational\s+purposes?|for\s+research|as\s+a\s+thought\s+experiment)\s*[,:]?\s*(how|what|can\s+you|could\s+you|would\s+you)`,
			category:    CategoryJailbreakAttempt,
			severity:    SeverityMedium,
			confidence:  0.65,
			explanation: "Hypothetical framing to bypass restrictions",
		},
	}

	out := make([]*Rule, 0, len(defs))
	for _, d := range defs {
		r := mustRule("injection_"+d.name, d.pattern, d.category, d.severity, d.confidence, StageInjection)
		r.Explanation = d.explanation
		out = append(out, r)
	}
	return out
}

// stockSymbols covers the NSE large caps plus the index names that show up
// in trading-tip spam.
var stockSymbols = []string{
	"RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK", "SBIN", "BHARTIARTL",
	"KOTAKBANK", "AXISBANK", "TATAMOTORS", "WIPRO", "MARUTI", "TATASTEEL",
	"ADANIPORTS", "POWERGRID", "NTPC", "SUNPHARMA", "ULTRACEMCO", "TECHM",
	"HINDUNILVR", "BAJFINANCE", "ASIANPAINT", "NIFTY", "BANKNIFTY", "SENSEX",
}

func financeRules() []*Rule {
	stocks := strings.Join(stockSymbols, "|")

	type finDef struct {
		name        string
		pattern     string
		category    Category
		severity    Severity
		explanation string
	}
	defs := []finDef{
		{"trading_recommendation", `(?i)\b(buy|sell|short|long|accumulate)\s+(` + stocks + `)`,
			CategoryFinanceTradingIntent, SeverityHigh, "Trading recommendation detected"},
		{"market_analysis", `(?i)\b(` + stocks + `)\s+(is\s+)?(very\s+)?(bullish|bearish|breaking|breakout)`,
			CategoryFinanceTradingIntent, SeverityHigh, "Market analysis with stock"},
		{"price_target", `(?i)\b(` + stocks + `)\s+.{0,20}(target|tp|sl|stoploss)`,
			CategoryFinanceTradingIntent, SeverityHigh, "Price target detected"},
		{"entry_exit", `(?i)\b(entry|exit|book\s+profit)\s*(at|@)?\s*₹?\d+`,
			CategoryFinanceTradingIntent, SeverityHigh, "Entry/exit signal detected"},
		{"options_trade", `(?i)\b(` + stocks + `)\s+\d+\s*(CE|PE|call|put)`,
			CategoryFinanceTradingIntent, SeverityHigh, "Options trading detected"},
		{"price_prediction", `(?i)\b(` + stocks + `)\s+(going|headed|will\s+go)\s+(to|up|down)`,
			CategoryFinanceTradingIntent, SeverityHigh, "Price prediction detected"},
		{"results_prediction", `(?i)\b(results?|earnings?)\s+(will\s+be|are|expected)\s+(good|bad|strong|weak|positive|negative)`,
			CategoryFinanceInsiderInfo, SeverityCritical, "Results prediction before disclosure"},
		{"merger_tip", `(?i)\b(merger|acquisition|buyback|takeover)\s+(is\s+)?(coming|likely|expected|happening)`,
			CategoryFinanceInsiderInfo, SeverityCritical, "Corporate action tip"},
		{"unverified_source", `(?i)\bsource\s+(told|says?|informed)`,
			CategoryFinanceInsiderInfo, SeverityCritical, "Unverified source claim"},
		{"confidential_tip", `(?i)\b(confidential|private|inside|insider)\s+(info|information|tip)`,
			CategoryFinanceInsiderInfo, SeverityCritical, "Confidential information claim"},
		{"corporate_action", `(?i)\b(board\s+meeting|dividend|bonus|stock\s+split)\s+(tomorrow|expected|coming)`,
			CategoryFinanceInsiderInfo, SeverityCritical, "Corporate action foreknowledge"},
		{"nonpublic", `(?i)\bnot\s+(yet\s+)?public`,
			CategoryFinanceInsiderInfo, SeverityCritical, "Non-public information claim"},
		{"management_source", `(?i)\bheard\s+from\s+(management|source|insider)`,
			CategoryFinanceInsiderInfo, SeverityCritical, "Management source claim"},
		{"guaranteed_returns", `(?i)\b(guaranteed|assured)\s+.{0,20}(returns?|profit)`,
			CategoryFinanceInvestmentAdvice, SeverityHigh, "Guaranteed return promise"},
		{"unrealistic_returns", `(?i)\b(double|triple)\s+(your\s+)?money\s+(in\s+)?\d+\s*(months?|weeks?|days?|years?)`,
			CategoryFinanceInvestmentAdvice, SeverityHigh, "Unrealistic return promise"},
		{"urgency_pitch", `(?i)\binvest\s+now\s+(for|and)`,
			CategoryFinanceInvestmentAdvice, SeverityHigh, "Urgency-driven investment pitch"},
		{"return_promise", `(?i)\b\d+%\s+returns?\s+(in|within)\s+\d+`,
			CategoryFinanceInvestmentAdvice, SeverityHigh, "Specific return promise"},
		{"loan_amount", `(?i)\bloan\s+(of\s+)?(rs\.?|₹|inr)?\s*\d+\s*(lakh|crore|k)?`,
			CategoryFinanceLoanDiscussion, SeverityMedium, "Loan amount discussion"},
		{"emi", `(?i)\b(emi|installment)\s+(will\s+be|is|of)\s*(rs\.?|₹)?\s*\d+`,
			CategoryFinanceLoanDiscussion, SeverityMedium, "EMI discussion"},
		{"interest_rate", `(?i)\b(interest\s+rate|rate\s+of\s+interest)\s+(is|at|of)\s*\d+\.?\d*\s*%`,
			CategoryFinanceLoanDiscussion, SeverityMedium, "Interest rate discussion"},
	}

	out := make([]*Rule, 0, len(defs))
	for _, d := range defs {
		r := mustRule("finance_"+d.name, d.pattern, d.category, d.severity, 0.90, StageFinance)
		r.Explanation = d.explanation
		out = append(out, r)
	}
	return out
}

// keywordRules are the explicit-threat patterns. Matches here carry 0.98
// confidence and short-circuit the toxicity sub-pipeline when critical.
func keywordRules() []*Rule {
	type kwDef struct {
		name        string
		pattern     string
		category    Category
		severity    Severity
		explanation string
	}
	defs := []kwDef{
		{"death_threat", `(?i)\b(i\s+will\s+kill\s+you|i'?m\s+going\s+to\s+kill\s+you|gonna\s+kill\s+you)`,
			CategoryToxicViolence, SeverityCritical, "Direct death threat"},
		{"murder_threat", `(?i)\b(i\s+will\s+murder|i'?m\s+going\s+to\s+murder|gonna\s+murder)`,
			CategoryToxicViolence, SeverityCritical, "Murder threat"},
		{"self_harm_encouragement", `(?i)\b(kill\s+yourself|kys\b|go\s+die)`,
			CategoryToxicSelfHarm, SeverityCritical, "Encouraging self-harm"},
		{"shooting_threat", `(?i)\b(i\s+will\s+shoot|i'?m\s+going\s+to\s+shoot|gonna\s+shoot)\s+(you|him|her|them)`,
			CategoryToxicViolence, SeverityCritical, "Shooting threat"},
		{"stabbing_threat", `(?i)\b(i\s+will\s+stab|i'?m\s+going\s+to\s+stab|gonna\s+stab)`,
			CategoryToxicViolence, SeverityCritical, "Stabbing threat"},
		{"harm_threat", `(?i)\b(i\s+will\s+hurt|i'?m\s+going\s+to\s+hurt|gonna\s+hurt)\s+(you|him|her|them)`,
			CategoryToxicViolence, SeverityHigh, "Threat of physical harm"},
		{"violence_threat", `(?i)\b(beat\s+you\s+up|kick\s+your\s+ass|smash\s+your\s+face)`,
			CategoryToxicViolence, SeverityHigh, "Physical violence threat"},
		{"group_hatred", `(?i)\b(hate\s+all|eliminate\s+all|exterminate\s+all|kill\s+all)\s+\w+`,
			CategoryToxicHate, SeverityCritical, "Group hatred or genocide"},
		{"dehumanizing", `(?i)\b(should\s+be\s+eliminated|should\s+all\s+die|deserve\s+to\s+die)`,
			CategoryToxicHate, SeverityCritical, "Dehumanizing speech"},
		{"supremacy", `(?i)\b(subhuman|inferior\s+race|master\s+race)`,
			CategoryToxicHate, SeverityCritical, "Racial supremacy"},
		{"suicidal_ideation", `(?i)\b(want\s+to\s+die|want\s+to\s+kill\s+myself|end\s+my\s+life)`,
			CategoryToxicSelfHarm, SeverityCritical, "Suicidal ideation"},
		{"suicide_methods", `(?i)\b(how\s+to\s+commit\s+suicide|best\s+way\s+to\s+die|painless\s+death)`,
			CategoryToxicSelfHarm, SeverityCritical, "Seeking suicide methods"},
		{"bomb_making", `(?i)\b(how\s+to\s+make\s+a?\s*bomb|build\s+a?\s*bomb|homemade\s+explosive)`,
			CategoryToxicViolence, SeverityCritical, "Bomb-making"},
		{"poison_making", `(?i)\b(how\s+to\s+make\s+poison|make\s+deadly\s+poison)`,
			CategoryToxicViolence, SeverityCritical, "Poison-making"},
		{"child_exploitation", `(?i)\b(child\s+porn|underage\s+sex|sex\s+with\s+minor)`,
			CategoryToxicSexual, SeverityCritical, "Child exploitation"},
		// Hindi/Hinglish slurs, the dominant abuse vocabulary in the
		// target deployments. Transliterations only; Devanagari forms go
		// through the fallback model.
		{"hindi_slur", `(?i)\b(bhenchod|madarchod|bhosdike|chutiya|gandu|randi|kamina|harami)\b`,
			CategoryToxicHarassment, SeverityCritical, "Hindi slur detected"},
		{"hindi_slur_abbrev", `(?i)\b(bc|mc)\s+(tu|tum|kahi|sala)`,
			CategoryToxicHarassment, SeverityHigh, "Abbreviated Hindi slur with target"},
	}

	out := make([]*Rule, 0, len(defs))
	for _, d := range defs {
		r := mustRule("keyword_"+d.name, d.pattern, d.category, d.severity, 0.98, StageKeyword)
		r.Explanation = d.explanation
		out = append(out, r)
	}
	return out
}

// financeSkipPattern gates the toxicity sub-pipeline: trading chatter trips
// generic threat heuristics ("kill the trade") so finance text skips them.
var financeSkipPattern = regexp.MustCompile(
	`(?i)\b(buy|sell|target|nifty|sensex|reliance|tcs|hdfcbank|infy|stock|share|trading|loan|emi|interest|credit|account|bank|upi|ifsc)\b`)

// FinanceSkip reports whether the toxicity stages should be skipped for this
// text because it reads as finance chatter.
func FinanceSkip(text string) bool {
	return financeSkipPattern.MatchString(text)
}

// suspicionRules feed the escalation classifier: each match is a signal that
// the text deserves a fallback-model look, not a verdict by itself.
func suspicionRules() []*Rule {
	defs := []struct {
		name    string
		pattern string
	}{
		// Veiled threats
		{"veiled_threat", `(?i)\b(something|things?)\s+(bad|terrible|awful)\s+(will|might|could)\s+happen`},
		{"surveillance_threat", `(?i)\b(watch|watching)\s+(your|out|yourself)`},
		{"location_threat", `(?i)\b(know|knows?)\s+where\s+(you|he|she|they)\s+(live|work|stay)`},
		{"death_implication", `(?i)\bwon'?t\s+(be\s+)?(around|here|alive)\s+(much\s+)?longer`},
		{"numbered_days", `(?i)\b(days?|time)\s+(is|are)\s+numbered`},
		{"revenge_threat", `(?i)\b(pay|paying)\s+for\s+(this|what|it)`},
		{"consequences", `(?i)\bconsequences\b`},
		{"lesson_threat", `(?i)\btaught\s+a\s+lesson`},
		{"pursuit_threat", `(?i)\bcoming\s+for\s+(you|him|her|them)`},
		{"no_escape", `(?i)\bnowhere\s+(to\s+)?(run|hide)`},
		{"eye_open", `(?i)\bsleep\s+with\s+(one\s+)?eye\s+open`},
		// Hate indicators
		{"othering", `(?i)\b(those|these|them)\s+people\s+(are|is)`},
		{"exclusion", `(?i)\bdon'?t\s+belong\s+here`},
		{"send_back", `(?i)\bsend\s+(them|him|her)\s+back`},
		{"not_like_us", `(?i)\bnot\s+like\s+us`},
		{"blame_rhetoric", `(?i)\bruining\s+(our|the|this)`},
		{"go_back", `(?i)\bgo\s+back\s+to`},
		{"dehumanizing_language", `(?i)\bvermin|parasites?|cockroach`},
		// Self-harm indicators
		{"distress_signal", `(?i)\bcan'?t\s+(go\s+on|take\s+(it|this)\s+anymore)`},
		{"isolation_signal", `(?i)\bnobody\s+(would\s+)?(miss|care)`},
		{"better_without_me", `(?i)\bworld\s+(would\s+be\s+)?better\s+without\s+me`},
		{"no_point_living", `(?i)\bno\s+point\s+(in\s+)?(living|life|anymore)`},
		{"final_goodbye", `(?i)\b(this\s+is\s+)?(my\s+)?(last|final)\s+(message|goodbye|note)`},
		{"goodbye_forever", `(?i)\bgoodbye\s+(everyone|all|world|forever)`},
		{"wish_dead", `(?i)\bwish\s+I\s+(was|were)\s+(dead|never\s+born)`},
		// Grooming indicators
		{"grooming_language", `(?i)\bmature\s+for\s+(your|his|her)\s+age`},
		{"secrecy_pressure", `(?i)\b(our|my)\s+(little\s+)?secret`},
		{"dont_tell", `(?i)\bdon'?t\s+tell\s+(your\s+)?(parents|mom|dad|anyone)`},
		{"meet_private", `(?i)\bmeet\s+(me\s+)?somewhere\s+private`},
		// Radicalization indicators
		{"violence_advocacy", `(?i)\bviolence\s+is\s+(the\s+)?(only|answer)`},
		{"revolution_coming", `(?i)\brevolution\s+is\s+coming`},
		{"any_means", `(?i)\bfight\s+back\s+by\s+any\s+means`},
		{"destroy_enemies", `(?i)\benemies?\s+must\s+be\s+(destroyed|eliminated)`},
		// Hostility and harassment
		{"hate_expression", `(?i)\bi\s+hate\s+(you|him|her|them|everyone)`},
		{"worthless", `(?i)\byou\s+(suck|are\s+worthless|are\s+trash)`},
		{"insult", `(?i)\b(loser|idiot|moron|pathetic)\b`},
		{"hostile_expression", `(?i)\bgo\s+(to\s+hell|die)`},
		{"deserve_suffering", `(?i)\byou\s+deserve\s+to\s+(die|suffer)`},
		{"death_wish", `(?i)\bwish\s+(you|he|she|they)\s+(were\s+)?dead`},
	}

	out := make([]*Rule, 0, len(defs))
	for _, d := range defs {
		r := mustRule("suspicion_"+d.name, d.pattern, CategorySuspicion, SeverityMedium, 0.60, StageSuspicion)
		r.Explanation = "Escalation signal: " + strings.ReplaceAll(d.name, "_", " ")
		out = append(out, r)
	}
	return out
}
