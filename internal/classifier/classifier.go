package classifier

import (
	"strings"

	"support-triage/backend/internal/models"
)

// Category maps a name to the keyword set that scores it and the baseline
// priority its matches start from. Declaration order matters: score ties go to
// the first-listed category.
type Category struct {
	Name     string          `mapstructure:"name" json:"name"`
	Keywords []string        `mapstructure:"keywords" json:"keywords"`
	Severity models.Priority `mapstructure:"severity" json:"severity"`
}

type Config struct {
	Categories      []Category `mapstructure:"categories" json:"categories"`
	UrgencyKeywords []string   `mapstructure:"urgency_keywords" json:"urgency_keywords"`
}

// CategoryOther is assigned when no keyword set scores.
const CategoryOther = "other"

type Result struct {
	Category string
	Priority models.Priority
	// Keywords that hit, category and urgency both. Rule conditions on the
	// keywords field evaluate against this set.
	Matched []string
}

type Classifier struct {
	config Config
}

func New(config Config) *Classifier {
	return &Classifier{config: config}
}

// Classify scores the message text against every category keyword set and
// derives priority from the winner's severity plus urgency escalation: one
// level per matched urgency keyword, capped at urgent. Deterministic and free
// of side effects.
func (c *Classifier) Classify(msg *models.Message) Result {
	text := strings.ToLower(msg.Text)

	best := Result{Category: CategoryOther, Priority: models.PriorityLow}
	bestScore := 0
	for _, category := range c.config.Categories {
		score := 0
		var matched []string
		for _, keyword := range category.Keywords {
			if strings.Contains(text, strings.ToLower(keyword)) {
				score++
				matched = append(matched, keyword)
			}
		}
		if score > bestScore {
			bestScore = score
			best = Result{Category: category.Name, Priority: category.Severity, Matched: matched}
		}
	}
	if best.Priority == "" {
		best.Priority = models.PriorityLow
	}

	rank := best.Priority.Rank()
	for _, keyword := range c.config.UrgencyKeywords {
		if strings.Contains(text, strings.ToLower(keyword)) {
			rank++
			best.Matched = append(best.Matched, keyword)
		}
	}
	best.Priority = models.PriorityFromRank(rank)
	return best
}

// DefaultConfig is the IT-support keyword map shipped when no external map is
// configured.
func DefaultConfig() Config {
	return Config{
		Categories: []Category{
			{Name: "outage", Severity: models.PriorityHigh, Keywords: []string{"outage", "down", "offline", "not working", "broken"}},
			{Name: "vpn_support", Severity: models.PriorityMedium, Keywords: []string{"vpn", "remote access", "tunnel"}},
			{Name: "password_reset", Severity: models.PriorityMedium, Keywords: []string{"password", "locked out", "reset", "2fa", "mfa"}},
			{Name: "hardware", Severity: models.PriorityMedium, Keywords: []string{"laptop", "monitor", "keyboard", "dock", "printer", "battery"}},
			{Name: "software", Severity: models.PriorityLow, Keywords: []string{"install", "license", "update", "slack", "zoom", "excel"}},
			{Name: "access_request", Severity: models.PriorityLow, Keywords: []string{"access", "permission", "grant", "request"}},
		},
		UrgencyKeywords: []string{"urgent", "asap", "immediately", "critical", "can't work", "cannot work", "blocked"},
	}
}
