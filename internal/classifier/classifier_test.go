package classifier

import (
	"testing"

	"support-triage/backend/internal/models"
)

func classify(t *testing.T, text string) Result {
	t.Helper()
	c := New(DefaultConfig())
	return c.Classify(&models.Message{Text: text})
}

func TestClassifyVPNUrgent(t *testing.T) {
	result := classify(t, "URGENT: my VPN is down and I can't work")
	if result.Category != "outage" && result.Category != "vpn_support" {
		t.Fatalf("unexpected category %q", result.Category)
	}
	if result.Priority != models.PriorityUrgent {
		t.Fatalf("expected urgent priority, got %q", result.Priority)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	result := classify(t, "thanks everyone, have a nice weekend")
	if result.Category != CategoryOther {
		t.Fatalf("expected %q, got %q", CategoryOther, result.Category)
	}
	if result.Priority != models.PriorityLow {
		t.Fatalf("expected low priority, got %q", result.Priority)
	}
	if len(result.Matched) != 0 {
		t.Fatalf("expected no matched keywords, got %v", result.Matched)
	}
}

func TestClassifyTieGoesToFirstListed(t *testing.T) {
	config := Config{
		Categories: []Category{
			{Name: "first", Severity: models.PriorityLow, Keywords: []string{"shared"}},
			{Name: "second", Severity: models.PriorityHigh, Keywords: []string{"shared"}},
		},
	}
	result := New(config).Classify(&models.Message{Text: "a shared keyword"})
	if result.Category != "first" {
		t.Fatalf("tie must go to the first listed category, got %q", result.Category)
	}
}

func TestClassifyUrgencyEscalationCapped(t *testing.T) {
	config := Config{
		Categories:      []Category{{Name: "hw", Severity: models.PriorityHigh, Keywords: []string{"laptop"}}},
		UrgencyKeywords: []string{"urgent", "asap", "critical"},
	}
	result := New(config).Classify(&models.Message{Text: "urgent asap critical laptop problem"})
	if result.Priority != models.PriorityUrgent {
		t.Fatalf("expected cap at urgent, got %q", result.Priority)
	}
}

func TestClassifyMatchedKeywordsIncludeUrgency(t *testing.T) {
	result := classify(t, "password reset needed urgent")
	found := map[string]bool{}
	for _, keyword := range result.Matched {
		found[keyword] = true
	}
	if !found["password"] || !found["urgent"] {
		t.Fatalf("expected both category and urgency keywords in %v", result.Matched)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	first := classify(t, "vpn tunnel broken, urgent")
	for i := 0; i < 10; i++ {
		again := classify(t, "vpn tunnel broken, urgent")
		if again.Category != first.Category || again.Priority != first.Priority {
			t.Fatalf("classification must be deterministic: %v vs %v", first, again)
		}
	}
}
