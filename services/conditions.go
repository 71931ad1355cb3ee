package services

import (
	"encoding/json"
	"fmt"
	"strconv"

	"nextbb-automation/models"
)

// EvaluateConditions reports whether every condition holds against ctx.
// It never fails: an absent field, an unknown operator or a type mismatch makes the condition false.
func EvaluateConditions(conds []models.Condition, ctx map[string]any) bool {
	for _, c := range conds {
		if !evaluateCondition(c, ctx) {
			return false
		}
	}
	return true
}

// ValidOperator reports whether op is one of the supported condition operators.
func ValidOperator(op string) bool {
	switch op {
	case models.OpEq, models.OpGte, models.OpLte, models.OpIn:
		return true
	}
	return false
}

func evaluateCondition(c models.Condition, ctx map[string]any) bool {
	actual, ok := ctx[c.Field]
	if !ok || actual == nil {
		return false
	}
	switch c.Operator {
	case models.OpEq:
		return looseEqual(actual, c.Value)
	case models.OpGte, models.OpLte:
		a, okA := parseFloatString(actual)
		b, okB := parseFloatString(c.Value)
		if !okA || !okB {
			return false
		}
		if c.Operator == models.OpGte {
			return a >= b
		}
		return a <= b
	case models.OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if looseEqual(actual, v) {
				return true
			}
		}
		return false
	}
	return false
}

func looseEqual(a, b any) bool {
	if b == nil {
		return false
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	if okA != okB {
		return false
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// parseFloatString also accepts numeric strings ("12.5"), as sent by some collaborators.
func parseFloatString(v any) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
