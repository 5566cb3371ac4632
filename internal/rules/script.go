package rules

import (
	"fmt"

	"github.com/dop251/goja"
)

// scriptConditionKey is an additive condition kind beyond §4.6's plain
// equality/substring/list matching: a rule may carry a "_script" condition
// whose value is a JS expression evaluated against trigger_data, for
// conditions too irregular to express as a flat key/value map.
const scriptConditionKey = "_script"

// evalScriptCondition runs expr in a fresh goja VM (one per call, matching
// the isolation the teacher's script engine uses for untrusted script
// execution) with trigger_data exposed as the `trigger` global, and expects
// a boolean result.
func evalScriptCondition(expr string, triggerData map[string]interface{}) (bool, error) {
	vm := goja.New()
	if err := vm.Set("trigger", triggerData); err != nil {
		return false, fmt.Errorf("bind trigger data: %w", err)
	}

	value, err := vm.RunString(expr)
	if err != nil {
		return false, fmt.Errorf("evaluate script condition: %w", err)
	}
	return value.ToBoolean(), nil
}

// MatchesWithScript extends Matches with the "_script" condition: if present,
// its value (a string) must evaluate truthy against trigger_data in addition
// to every other condition matching. A script evaluation error counts as a
// non-match rather than a hard failure, so a malformed rule never blocks the
// stream.
func MatchesWithScript(conditions map[string]interface{}, triggerData map[string]interface{}) bool {
	plain := make(map[string]interface{}, len(conditions))
	var script string
	for k, v := range conditions {
		if k == scriptConditionKey {
			if s, ok := v.(string); ok {
				script = s
			}
			continue
		}
		plain[k] = v
	}

	if !Matches(plain, triggerData) {
		return false
	}
	if script == "" {
		return true
	}

	ok, err := evalScriptCondition(script, triggerData)
	if err != nil {
		return false
	}
	return ok
}
