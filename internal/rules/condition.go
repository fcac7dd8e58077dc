package rules

import (
	"fmt"
	"regexp"
	"strings"

	"support-triage/backend/internal/models"
)

// ConfigurationError marks a rule that cannot be evaluated as written. It is
// raised at rule-load time and disables the owning rule only; evaluation
// itself never fails.
type ConfigurationError struct {
	Field    models.ConditionField
	Operator models.ConditionOperator
	Detail   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid condition %s %s: %s", e.Field, e.Operator, e.Detail)
}

// EvalContext carries the non-message inputs a condition may reference.
type EvalContext struct {
	// Keywords matched by the classifier for this message.
	Keywords []string
}

type compiledCondition struct {
	field    models.ConditionField
	operator models.ConditionOperator
	str      string
	num      float64
	pattern  *regexp.Regexp
}

// Compiled is an immutable, evaluation-ready condition list. A nil or empty
// list matches every message: rules use it as an explicit catch-all, so an
// accidentally empty condition set fires on everything.
type Compiled struct {
	conditions []compiledCondition
}

var numericFields = map[models.ConditionField]bool{
	models.FieldTimestamp: true,
	models.FieldPriority:  true,
}

var knownFields = map[models.ConditionField]bool{
	models.FieldMessageText: true,
	models.FieldUserID:      true,
	models.FieldChannelID:   true,
	models.FieldTimestamp:   true,
	models.FieldKeywords:    true,
	models.FieldPriority:    true,
}

// Compile validates every condition up front: regex patterns must parse,
// ordering operators only apply to numeric fields, and the value variant must
// fit the operator. A failure disables the whole condition list.
func Compile(conditions []models.RuleCondition) (*Compiled, error) {
	compiled := make([]compiledCondition, 0, len(conditions))
	for _, cond := range conditions {
		if !knownFields[cond.Field] {
			return nil, &ConfigurationError{Field: cond.Field, Operator: cond.Operator, Detail: "unknown field"}
		}
		cc := compiledCondition{field: cond.Field, operator: cond.Operator}
		switch cond.Operator {
		case models.OpContains, models.OpStartsWith, models.OpEndsWith:
			if cond.Value.Str == nil {
				return nil, &ConfigurationError{Field: cond.Field, Operator: cond.Operator, Detail: "value must be a string"}
			}
			cc.str = strings.ToLower(*cond.Value.Str)
		case models.OpRegex:
			if cond.Value.Str == nil {
				return nil, &ConfigurationError{Field: cond.Field, Operator: cond.Operator, Detail: "value must be a string pattern"}
			}
			pattern, err := regexp.Compile(*cond.Value.Str)
			if err != nil {
				return nil, &ConfigurationError{Field: cond.Field, Operator: cond.Operator, Detail: err.Error()}
			}
			cc.pattern = pattern
		case models.OpGreaterThan, models.OpLessThan:
			if !numericFields[cond.Field] {
				return nil, &ConfigurationError{Field: cond.Field, Operator: cond.Operator, Detail: "ordering operators need a numeric field"}
			}
			if cond.Value.Num == nil {
				return nil, &ConfigurationError{Field: cond.Field, Operator: cond.Operator, Detail: "value must be a number"}
			}
			cc.num = *cond.Value.Num
		case models.OpEquals:
			switch {
			case cond.Value.Str != nil:
				cc.str = *cond.Value.Str
			case cond.Value.Num != nil:
				if !numericFields[cond.Field] {
					return nil, &ConfigurationError{Field: cond.Field, Operator: cond.Operator, Detail: "numeric value against a string field"}
				}
				cc.num = *cond.Value.Num
			default:
				return nil, &ConfigurationError{Field: cond.Field, Operator: cond.Operator, Detail: "value must be a string or number"}
			}
		default:
			return nil, &ConfigurationError{Field: cond.Field, Operator: cond.Operator, Detail: "unknown operator"}
		}
		compiled = append(compiled, cc)
	}
	return &Compiled{conditions: compiled}, nil
}

// Matches evaluates the condition list against a message with AND semantics.
// It is pure and safe for concurrent use.
func (c *Compiled) Matches(msg *models.Message, evalCtx EvalContext) bool {
	if c == nil {
		return true
	}
	for _, cond := range c.conditions {
		if !cond.matches(msg, evalCtx) {
			return false
		}
	}
	return true
}

func (cc compiledCondition) matches(msg *models.Message, evalCtx EvalContext) bool {
	switch cc.operator {
	case models.OpContains, models.OpStartsWith, models.OpEndsWith, models.OpRegex:
		if cc.field == models.FieldKeywords {
			for _, keyword := range evalCtx.Keywords {
				if cc.matchString(keyword) {
					return true
				}
			}
			return false
		}
		value, ok := stringField(cc.field, msg)
		if !ok {
			return false
		}
		return cc.matchString(value)
	case models.OpEquals:
		if numericFields[cc.field] {
			value, ok := numericField(cc.field, msg)
			if !ok {
				return false
			}
			if cc.str != "" {
				// priority accepts its name as well as its rank
				return cc.field == models.FieldPriority && strings.EqualFold(cc.str, string(msg.Priority))
			}
			return value == cc.num
		}
		if cc.field == models.FieldKeywords {
			for _, keyword := range evalCtx.Keywords {
				if strings.EqualFold(keyword, cc.str) {
					return true
				}
			}
			return false
		}
		value, ok := stringField(cc.field, msg)
		if !ok {
			return false
		}
		return value == cc.str
	case models.OpGreaterThan:
		value, ok := numericField(cc.field, msg)
		return ok && value > cc.num
	case models.OpLessThan:
		value, ok := numericField(cc.field, msg)
		return ok && value < cc.num
	}
	return false
}

func (cc compiledCondition) matchString(value string) bool {
	if cc.pattern != nil {
		return cc.pattern.MatchString(value)
	}
	lowered := strings.ToLower(value)
	switch cc.operator {
	case models.OpContains:
		return strings.Contains(lowered, cc.str)
	case models.OpStartsWith:
		return strings.HasPrefix(lowered, cc.str)
	case models.OpEndsWith:
		return strings.HasSuffix(lowered, cc.str)
	}
	return false
}

func stringField(field models.ConditionField, msg *models.Message) (string, bool) {
	switch field {
	case models.FieldMessageText:
		return msg.Text, true
	case models.FieldUserID:
		return msg.UserID, true
	case models.FieldChannelID:
		return msg.Channel, true
	case models.FieldPriority:
		return string(msg.Priority), true
	}
	return "", false
}

func numericField(field models.ConditionField, msg *models.Message) (float64, bool) {
	switch field {
	case models.FieldTimestamp:
		return float64(msg.Timestamp.Unix()), true
	case models.FieldPriority:
		return float64(msg.Priority.Rank()), true
	}
	return 0, false
}
