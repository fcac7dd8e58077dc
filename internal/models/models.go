package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusResponded  MessageStatus = "responded"
	StatusEscalated  MessageStatus = "escalated"
	StatusIgnored    MessageStatus = "ignored"
	StatusFailed     MessageStatus = "failed"
)

// Terminal reports whether no further automated transition happens from s.
// A failed message can still be re-submitted manually.
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusResponded, StatusEscalated, StatusIgnored, StatusFailed:
		return true
	}
	return false
}

var transitions = map[MessageStatus][]MessageStatus{
	StatusPending:    {StatusProcessing, StatusEscalated, StatusIgnored},
	StatusProcessing: {StatusResponded, StatusEscalated, StatusIgnored, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether from -> to is a legal status move.
// failed -> pending is the manual retry path; everything else only moves forward.
func CanTransition(from, to MessageStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRanks = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

func (p Priority) Rank() int { return priorityRanks[p] }

// PriorityFromRank clamps into [low, urgent].
func PriorityFromRank(rank int) Priority {
	switch {
	case rank <= 0:
		return PriorityLow
	case rank == 1:
		return PriorityMedium
	case rank == 2:
		return PriorityHigh
	default:
		return PriorityUrgent
	}
}

type RuleAction string

const (
	ActionAutoRespond RuleAction = "auto_respond"
	ActionSuggest     RuleAction = "suggest"
	ActionEscalate    RuleAction = "escalate"
	ActionIgnore      RuleAction = "ignore"
)

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

type DeviceInfo struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	OS           string `json:"os"`
	SerialNumber string `json:"serial_number"`
}

// MessageContext is enrichment data from the HR platform. It may be absent;
// the engine never requires it.
type MessageContext struct {
	UserName       string       `json:"user_name"`
	UserEmail      string       `json:"user_email"`
	Department     string       `json:"department"`
	Devices        []DeviceInfo `json:"devices"`
	RelatedTickets []string     `json:"related_tickets"`
}

type Message struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	UserID    string          `json:"user_id"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
	ThreadID  *string         `json:"thread_id"`
	Category  string          `json:"category"`
	Priority  Priority        `json:"priority"`
	Status    MessageStatus   `json:"status"`
	Context   *MessageContext `json:"context"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ConditionField string

const (
	FieldMessageText ConditionField = "message_text"
	FieldUserID      ConditionField = "user_id"
	FieldChannelID   ConditionField = "channel_id"
	FieldTimestamp   ConditionField = "timestamp"
	FieldKeywords    ConditionField = "keywords"
	FieldPriority    ConditionField = "priority"
)

type ConditionOperator string

const (
	OpContains    ConditionOperator = "contains"
	OpEquals      ConditionOperator = "equals"
	OpStartsWith  ConditionOperator = "starts_with"
	OpEndsWith    ConditionOperator = "ends_with"
	OpRegex       ConditionOperator = "regex"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
)

// ConditionValue is a tagged variant over string, number, and bool. Exactly one
// field is set after a successful unmarshal.
type ConditionValue struct {
	Str  *string  `json:"-"`
	Num  *float64 `json:"-"`
	Bool *bool    `json:"-"`
}

func StringValue(v string) ConditionValue  { return ConditionValue{Str: &v} }
func NumberValue(v float64) ConditionValue { return ConditionValue{Num: &v} }
func BoolValue(v bool) ConditionValue      { return ConditionValue{Bool: &v} }

func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Str = &s
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		v.Num = &n
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		v.Bool = &b
		return nil
	}
	return fmt.Errorf("condition value must be a string, number, or bool: %s", string(data))
}

func (v ConditionValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Str != nil:
		return json.Marshal(*v.Str)
	case v.Num != nil:
		return json.Marshal(*v.Num)
	case v.Bool != nil:
		return json.Marshal(*v.Bool)
	}
	return []byte("null"), nil
}

type RuleCondition struct {
	Field    ConditionField    `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    ConditionValue    `json:"value"`
}

type AutoResponseRule struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Conditions []RuleCondition `json:"conditions"`
	Action     RuleAction      `json:"action"`
	PromptID   int64           `json:"prompt_id"`
	Priority   int             `json:"priority"`
	IsEnabled  bool            `json:"is_enabled"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type EscalationRule struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Conditions []RuleCondition `json:"conditions"`
	EscalateTo string          `json:"escalate_to"`
	Urgency    Urgency         `json:"urgency"`
	IsEnabled  bool            `json:"is_enabled"`
	CreatedAt  time.Time       `json:"created_at"`
}

type PromptTemplate struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerDay    int `json:"requests_per_day"`
	TokensPerMinute   int `json:"tokens_per_minute"`
	TokensPerDay      int `json:"tokens_per_day"`
}

type AIProvider struct {
	ID              int64     `json:"id"`
	ProviderName    string    `json:"provider_name"`
	ModelName       string    `json:"model_name"`
	APIKey          string    `json:"-"`
	BaseURL         *string   `json:"base_url"`
	Temperature     float64   `json:"temperature"`
	MaxTokens       int       `json:"max_tokens"`
	CostPer1KInput  float64   `json:"cost_per_1k_input"`
	CostPer1KOutput float64   `json:"cost_per_1k_output"`
	Limits          RateLimit `json:"limits"`
	IsActive        bool      `json:"is_active"`
	IsDefault       bool      `json:"is_default"`
	CreatedAt       time.Time `json:"created_at"`
}

type ResponseStatus string

const (
	ResponsePending   ResponseStatus = "pending"
	ResponseGenerated ResponseStatus = "generated"
	ResponseSent      ResponseStatus = "sent"
	ResponseFailed    ResponseStatus = "failed"
)

// Active reports whether the response still blocks a new generation for its
// message. A message has at most one active response at a time.
func (s ResponseStatus) Active() bool {
	return s == ResponsePending || s == ResponseGenerated
}

type AIResponse struct {
	ID               string         `json:"id"`
	MessageID        string         `json:"message_id"`
	ProviderID       int64          `json:"provider_id"`
	ModelName        string         `json:"model_name"`
	Status           ResponseStatus `json:"status"`
	Text             string         `json:"text"`
	IsDraft          bool           `json:"is_draft"`
	IsEdited         bool           `json:"is_edited"`
	OriginalResponse *string        `json:"original_response"`
	InputTokens      int            `json:"input_tokens"`
	OutputTokens     int            `json:"output_tokens"`
	TokensUsed       int            `json:"tokens_used"`
	Cost             float64        `json:"cost"`
	ResponseTimeMs   int64          `json:"response_time_ms"`
	FailureReason    *string        `json:"failure_reason"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type EscalationRecord struct {
	ID         int64     `json:"id"`
	MessageID  string    `json:"message_id"`
	RuleID     int64     `json:"rule_id"`
	EscalateTo string    `json:"escalate_to"`
	Urgency    Urgency   `json:"urgency"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
}

type StatusChange struct {
	ID        int64         `json:"id"`
	MessageID string        `json:"message_id"`
	Previous  MessageStatus `json:"previous"`
	New       MessageStatus `json:"new"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
}

type UsageLog struct {
	ID             int64     `json:"id"`
	ProviderID     int64     `json:"provider_id"`
	MessageID      *string   `json:"message_id"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	TotalTokens    int       `json:"total_tokens"`
	TotalCost      float64   `json:"total_cost"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Success        bool      `json:"success"`
	ErrorMessage   *string   `json:"error_message"`
	CreatedAt      time.Time `json:"created_at"`
}
