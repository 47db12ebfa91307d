package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// VerificationRule checks a value submitted for a question whose group names
// the rule in its verification_function.
type VerificationRule func(question Question, value string) error

var (
	verificationMu    sync.RWMutex
	verificationRules = map[string]VerificationRule{
		"non_empty_text": func(question Question, value string) error {
			if question.Type == FreeText && strings.TrimSpace(value) == "" {
				return fmt.Errorf("question '%v' needs a non blank answer", question.Text)
			}
			return nil
		},
		"not_default": func(question Question, value string) error {
			if question.DefaultOption != nil && value == *question.DefaultOption {
				return fmt.Errorf("question '%v' needs an explicit choice other than the default '%v'", question.Text, value)
			}
			return nil
		},
	}
)

func RegisterVerification(name string, rule VerificationRule) error {
	verificationMu.Lock()
	defer verificationMu.Unlock()

	if _, ok := verificationRules[name]; ok {
		return fmt.Errorf("verification function '%v' is already registered", name)
	}
	verificationRules[name] = rule
	return nil
}

func VerificationFunctions() []string {
	verificationMu.RLock()
	defer verificationMu.RUnlock()

	names := make([]string, 0, len(verificationRules))
	for name := range verificationRules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckVerificationFunction accepts the empty name and any registered rule.
func CheckVerificationFunction(name string) error {
	if name == "" {
		return nil
	}
	verificationMu.RLock()
	_, ok := verificationRules[name]
	verificationMu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown verification function '%v', must be one of %v", name, VerificationFunctions())
	}
	return nil
}

// Verify runs the named rule against value. An empty name accepts everything.
func Verify(name string, question Question, value string) error {
	if name == "" {
		return nil
	}
	verificationMu.RLock()
	rule, ok := verificationRules[name]
	verificationMu.RUnlock()
	if !ok {
		return Invalid("unknown verification function '%v'", name)
	}
	if err := rule(question, value); err != nil {
		return Invalid("%v failed: %v", name, err)
	}
	return nil
}
