// Package validate screens user and tool-call input for length, prompt
// injection, blocked content, and PII before it reaches the LM or an
// external tool.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FailKind tags why validation rejected input.
type FailKind string

const (
	FailLength         FailKind = "length"
	FailInjection      FailKind = "injection"
	FailBlocked        FailKind = "blocked"
	FailPII            FailKind = "pii"
	FailToolNotAllowed FailKind = "tool_not_allowed"
	FailToolBlocked    FailKind = "tool_blocked"
)

// Context selects which length cap applies.
type Context string

const (
	ContextQuestion  Context = "question"
	ContextToolParam Context = "tool_param"
)

// Error is returned when validation rejects input.
type Error struct {
	Kind    FailKind
	Message string
	Details map[string]any
}

func (e *Error) Error() string { return e.Message }

func fail(kind FailKind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// DefaultInjectionPatterns is the built-in prompt-injection pattern set:
// system-prompt manipulation, role manipulation, jailbreak attempts,
// instruction-extraction requests, and code-injection markers.
var DefaultInjectionPatterns = []string{
	`ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`,
	`disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`,
	`forget\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`,
	`new\s+instructions?\s*:`,
	`system\s*:\s*you\s+are`,
	`<\s*system\s*>`,
	`\[\s*system\s*\]`,
	`override\s+(system|instructions?|rules?)`,

	`pretend\s+you\s+are`,
	`act\s+as\s+(if\s+you\s+are\s+)?a`,
	`roleplay\s+as`,
	`you\s+are\s+now\s+a`,
	`from\s+now\s+on\s+you\s+are`,

	`do\s+anything\s+now`,
	`dan\s+mode`,
	`developer\s+mode`,
	`jailbreak`,
	`bypass\s+(safety|filter|restriction)`,

	`(print|show|reveal|display|output)\s+(your\s+)?(system\s+)?(prompt|instructions?)`,
	`what\s+(are|is)\s+your\s+(system\s+)?(prompt|instructions?)`,

	"```\\s*(python|bash|shell|javascript|js)\\s*\\n\\s*(import\\s+os|subprocess|eval|exec)",
}

// piiPatterns is the fixed PII pattern set; order matters for deterministic
// redaction output and is preserved via piiOrder.
var piiPatterns = map[string]string{
	"email":                   `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
	"phone":                   `(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`,
	"ssn":                     `\b\d{3}[-.\s]?\d{2}[-.\s]?\d{4}\b`,
	"credit_card":             `\b(?:4\d{3}|5[1-5]\d{2}|6011|3[47]\d{2})[-.\s]?\d{4}[-.\s]?\d{4}[-.\s]?\d{4}\b`,
	"ip_address":              `\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`,
	"passport":                `\b[A-Z]?\d{8,9}\b`,
	"drivers_license":         `\b[A-Z]{1,2}\d{5,8}\b`,
	"bank_account":            `\b\d{9}[-.\s]?\d{8,17}\b`,
	"iban":                    `\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`,
	"aws_access_key":          `\bAKIA[0-9A-Z]{16}\b`,
	"aws_secret_key":          `\b[A-Za-z0-9/+=]{40}\b`,
	"azure_connection_string": `DefaultEndpointsProtocol=https;AccountName=[^;]+;AccountKey=[^;]+`,
}

var piiOrder = []string{
	"email", "phone", "ssn", "credit_card", "ip_address", "passport",
	"drivers_license", "bank_account", "iban", "aws_access_key",
	"aws_secret_key", "azure_connection_string",
}

// Config configures a Validator.
type Config struct {
	MaxQuestionLength  int `yaml:"max_question_length"`
	MaxToolParamLength int `yaml:"max_tool_param_length"`

	BlockPromptInjection bool     `yaml:"block_prompt_injection"`
	InjectionPatterns    []string `yaml:"injection_patterns"`

	BlockPII  bool `yaml:"block_pii"`
	RedactPII bool `yaml:"redact_pii"`

	BlockedPatterns []string `yaml:"blocked_patterns"`
}

// DefaultConfig returns the default validation configuration.
func DefaultConfig() Config {
	return Config{
		MaxQuestionLength:    32000,
		MaxToolParamLength:   10000,
		BlockPromptInjection: true,
	}
}

// Validator validates and sanitizes user and tool-call input.
type Validator struct {
	config Config

	injectionPatterns []*regexp.Regexp
	blockedPatterns   []*regexp.Regexp
	piiPatterns       map[string]*regexp.Regexp
}

// New compiles the configured pattern sets into a Validator.
func New(config Config) (*Validator, error) {
	patterns := config.InjectionPatterns
	if len(patterns) == 0 {
		patterns = DefaultInjectionPatterns
	}

	injection := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?im)" + p)
		if err != nil {
			return nil, fmt.Errorf("validate: compiling injection pattern %q: %w", p, err)
		}
		injection = append(injection, re)
	}

	blocked := make([]*regexp.Regexp, 0, len(config.BlockedPatterns))
	for _, p := range config.BlockedPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("validate: compiling blocked pattern %q: %w", p, err)
		}
		blocked = append(blocked, re)
	}

	pii := make(map[string]*regexp.Regexp, len(piiPatterns))
	for name, p := range piiPatterns {
		pii[name] = regexp.MustCompile(p)
	}

	return &Validator{
		config:            config,
		injectionPatterns: injection,
		blockedPatterns:   blocked,
		piiPatterns:       pii,
	}, nil
}

// Validate checks text against length, prompt-injection, blocked-content,
// and PII rules, returning the (possibly redacted) text on success.
func (v *Validator) Validate(text string, ctx Context) (string, error) {
	maxLength := v.config.MaxToolParamLength
	if ctx == ContextQuestion {
		maxLength = v.config.MaxQuestionLength
	}

	if maxLength > 0 && len(text) > maxLength {
		return "", fail(FailLength,
			fmt.Sprintf("input exceeds maximum length (%d > %d)", len(text), maxLength),
			map[string]any{"length": len(text), "max": maxLength})
	}

	if v.config.BlockPromptInjection {
		if match := v.detectInjection(text); match != "" {
			return "", fail(FailInjection,
				"input contains potentially harmful content",
				map[string]any{"pattern": match})
		}
	}

	for _, pattern := range v.blockedPatterns {
		if pattern.MatchString(text) {
			return "", fail(FailBlocked, "input contains blocked content", nil)
		}
	}

	if v.config.BlockPII {
		if found := v.detectPII(text); len(found) > 0 {
			return "", fail(FailPII,
				fmt.Sprintf("input contains PII: %s", strings.Join(found, ", ")),
				map[string]any{"pii_types": found})
		}
	}

	if v.config.RedactPII {
		text = v.redactPII(text)
	}

	return text, nil
}

func (v *Validator) detectInjection(text string) string {
	for _, pattern := range v.injectionPatterns {
		if match := pattern.FindString(text); match != "" {
			return match
		}
	}
	return ""
}

func (v *Validator) detectPII(text string) []string {
	found := make([]string, 0)
	for _, name := range piiOrder {
		if v.piiPatterns[name].MatchString(text) {
			found = append(found, name)
		}
	}
	sort.Strings(found)
	return found
}

func (v *Validator) redactPII(text string) string {
	for _, name := range piiOrder {
		text = v.piiPatterns[name].ReplaceAllString(text, "[REDACTED-"+strings.ToUpper(name)+"]")
	}
	return text
}

// ValidateToolCall checks a tool invocation against allow/block lists and
// validates every string-valued parameter as tool_param context.
func (v *Validator) ValidateToolCall(toolName string, parameters map[string]any, allowed, blocked []string) (string, map[string]any, error) {
	if allowed != nil && !contains(allowed, toolName) {
		return "", nil, fail(FailToolNotAllowed,
			fmt.Sprintf("tool %q is not allowed", toolName),
			map[string]any{"tool": toolName, "allowed": allowed})
	}
	if contains(blocked, toolName) {
		return "", nil, fail(FailToolBlocked,
			fmt.Sprintf("tool %q is blocked", toolName),
			map[string]any{"tool": toolName})
	}

	validated := make(map[string]any, len(parameters))
	for key, value := range parameters {
		if s, ok := value.(string); ok {
			sanitized, err := v.Validate(s, ContextToolParam)
			if err != nil {
				return "", nil, err
			}
			validated[key] = sanitized
		} else {
			validated[key] = value
		}
	}

	return toolName, validated, nil
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

// DetectPromptInjection is a convenience check against the default pattern
// set, used by callers that just need a boolean without a full Validator.
func DetectPromptInjection(text string) bool {
	for _, p := range DefaultInjectionPatterns {
		if regexp.MustCompile("(?im)" + p).MatchString(text) {
			return true
		}
	}
	return false
}
