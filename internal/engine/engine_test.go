package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"support-triage/backend/internal/ai"
	"support-triage/backend/internal/classifier"
	"support-triage/backend/internal/generator"
	"support-triage/backend/internal/models"
	"support-triage/backend/internal/ratelimit"
	"support-triage/backend/internal/rules"
)

var errStaleStatus = errors.New("message status changed concurrently")

// fakeStore keeps the persisted status per message id, so tests exercise the
// same stale-copy semantics as the real compare-and-set store.
type fakeStore struct {
	mu              sync.Mutex
	statuses        map[string]models.MessageStatus
	classified      []models.Message
	transitions     []string
	responses       []models.AIResponse
	escalations     []models.EscalationRecord
	usage           []models.UsageLog
	processing      []models.Message
	statusChangeErr error
}

func (f *fakeStore) seed(msg *models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[string]models.MessageStatus{}
	}
	f.statuses[msg.ID] = msg.Status
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	return &models.Message{ID: id, Status: status}, nil
}

func (f *fakeStore) SaveClassification(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classified = append(f.classified, *msg)
	return nil
}

func (f *fakeStore) OnStatusChange(ctx context.Context, msg *models.Message, previous models.MessageStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusChangeErr != nil {
		return f.statusChangeErr
	}
	if current, ok := f.statuses[msg.ID]; ok {
		if current != previous {
			return errStaleStatus
		}
		f.statuses[msg.ID] = msg.Status
	}
	f.transitions = append(f.transitions, string(previous)+"->"+string(msg.Status))
	return nil
}

func (f *fakeStore) OnResponseGenerated(ctx context.Context, response *models.AIResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, *response)
	return nil
}

func (f *fakeStore) OnEscalation(ctx context.Context, record *models.EscalationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, *record)
	return nil
}

func (f *fakeStore) InsertUsage(ctx context.Context, log models.UsageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, log)
	return nil
}

func (f *fakeStore) ThreadHistory(ctx context.Context, msg *models.Message, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) ListProcessing(ctx context.Context) ([]models.Message, error) {
	return f.processing, nil
}

func (f *fakeStore) transitionLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.transitions...)
}

type fakeNotifier struct {
	mu          sync.Mutex
	responses   []string
	escalations []models.EscalationRecord
	deliverErr  error
}

func (f *fakeNotifier) DeliverResponse(ctx context.Context, channel, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.responses = append(f.responses, channel+":"+text)
	return nil
}

func (f *fakeNotifier) DeliverEscalation(ctx context.Context, record *models.EscalationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, *record)
	return nil
}

type fakeSnapshots struct {
	snapshot *Snapshot
	err      error
}

func (f *fakeSnapshots) Snapshot(ctx context.Context) (*Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	// Each cycle gets its own copy, like a real reload.
	copied := *f.snapshot
	copied.AutoRules = append([]rules.AutoRule(nil), f.snapshot.AutoRules...)
	copied.EscalationRules = append([]rules.EscRule(nil), f.snapshot.EscalationRules...)
	return &copied, nil
}

func compiledAutoRule(t *testing.T, rule models.AutoResponseRule) rules.AutoRule {
	t.Helper()
	conditions, err := rules.Compile(rule.Conditions)
	if err != nil {
		t.Fatalf("compile rule %q: %v", rule.Name, err)
	}
	return rules.AutoRule{Rule: rule, Conditions: conditions}
}

func compiledEscRule(t *testing.T, rule models.EscalationRule) rules.EscRule {
	t.Helper()
	conditions, err := rules.Compile(rule.Conditions)
	if err != nil {
		t.Fatalf("compile rule %q: %v", rule.Name, err)
	}
	return rules.EscRule{Rule: rule, Conditions: conditions}
}

func newTestEngine(store *fakeStore, notifier *fakeNotifier, snapshot *Snapshot) *Engine {
	logger := zap.NewNop()
	gen := generator.New(ratelimit.New(), logger, 0, time.Second)
	return New(&fakeSnapshots{snapshot: snapshot}, store, notifier, ai.NewFactory(), gen, nil, "it-escalations", logger)
}

func pendingMessage(text string) *models.Message {
	return &models.Message{
		ID:        "msg-1",
		Channel:   "it-help",
		UserID:    "U123",
		Text:      text,
		Timestamp: time.Now().UTC(),
		Status:    models.StatusPending,
	}
}

func TestProcessNoMatchStaysPending(t *testing.T) {
	store := &fakeStore{}
	snapshot := &Snapshot{Classifier: classifier.DefaultConfig()}
	eng := newTestEngine(store, &fakeNotifier{}, snapshot)

	msg := pendingMessage("vpn acting up")
	store.seed(msg)
	outcome, err := eng.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeNoMatch {
		t.Fatalf("expected no_match, got %q", outcome)
	}
	if msg.Status != models.StatusPending {
		t.Fatalf("unmatched message must stay pending, got %q", msg.Status)
	}
	if len(store.transitionLog()) != 0 {
		t.Fatalf("no transitions expected, got %v", store.transitionLog())
	}
	if len(store.classified) != 1 {
		t.Fatalf("classification must be persisted even without a rule match")
	}
}

func TestProcessClassifiesBeforeRules(t *testing.T) {
	store := &fakeStore{}
	snapshot := &Snapshot{Classifier: classifier.DefaultConfig()}
	eng := newTestEngine(store, &fakeNotifier{}, snapshot)

	msg := pendingMessage("URGENT: my vpn is down and I cannot work")
	store.seed(msg)
	if _, err := eng.Process(context.Background(), msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	if msg.Category == "" || msg.Category == classifier.CategoryOther {
		t.Fatalf("expected a real category, got %q", msg.Category)
	}
	if msg.Priority != models.PriorityUrgent {
		t.Fatalf("expected urgent priority, got %q", msg.Priority)
	}
}

func TestProcessIgnoreRule(t *testing.T) {
	store := &fakeStore{}
	snapshot := &Snapshot{
		Classifier: classifier.DefaultConfig(),
		AutoRules: []rules.AutoRule{compiledAutoRule(t, models.AutoResponseRule{
			ID: 1, Name: "mute bots", Action: models.ActionIgnore, IsEnabled: true,
			Conditions: []models.RuleCondition{{Field: models.FieldUserID, Operator: models.OpEquals, Value: models.StringValue("U123")}},
		})},
	}
	eng := newTestEngine(store, &fakeNotifier{}, snapshot)

	msg := pendingMessage("automated report")
	store.seed(msg)
	outcome, err := eng.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %q", outcome)
	}
	if msg.Status != models.StatusIgnored {
		t.Fatalf("expected ignored status, got %q", msg.Status)
	}
}

func TestProcessFirstMatchWins(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	snapshot := &Snapshot{
		Classifier: classifier.DefaultConfig(),
		AutoRules: []rules.AutoRule{
			compiledAutoRule(t, models.AutoResponseRule{
				ID: 1, Name: "escalate everything", Action: models.ActionEscalate, Priority: 10, IsEnabled: true,
			}),
			compiledAutoRule(t, models.AutoResponseRule{
				ID: 2, Name: "ignore everything", Action: models.ActionIgnore, Priority: 5, IsEnabled: true,
			}),
		},
	}
	eng := newTestEngine(store, notifier, snapshot)

	msg := pendingMessage("anything")
	store.seed(msg)
	outcome, err := eng.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeEscalated {
		t.Fatalf("higher-priority rule must win, got %q", outcome)
	}
	if len(store.escalations) != 1 {
		t.Fatalf("expected one escalation record, got %d", len(store.escalations))
	}
	if store.escalations[0].EscalateTo != "it-escalations" {
		t.Fatalf("auto-rule escalations use the configured target, got %q", store.escalations[0].EscalateTo)
	}
}

func TestProcessEscalationRule(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	snapshot := &Snapshot{
		Classifier: classifier.DefaultConfig(),
		EscalationRules: []rules.EscRule{compiledEscRule(t, models.EscalationRule{
			ID: 7, Name: "security incidents", EscalateTo: "security-team", Urgency: models.UrgencyCritical, IsEnabled: true,
			Conditions: []models.RuleCondition{{Field: models.FieldMessageText, Operator: models.OpContains, Value: models.StringValue("phishing")}},
		})},
	}
	eng := newTestEngine(store, notifier, snapshot)

	msg := pendingMessage("I think I clicked a phishing link")
	store.seed(msg)
	outcome, err := eng.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeEscalated {
		t.Fatalf("expected escalated, got %q", outcome)
	}
	if msg.Status != models.StatusEscalated {
		t.Fatalf("expected escalated status, got %q", msg.Status)
	}
	if len(notifier.escalations) != 1 {
		t.Fatalf("expected escalation notification")
	}
	record := store.escalations[0]
	if record.EscalateTo != "security-team" || record.Urgency != models.UrgencyCritical {
		t.Fatalf("unexpected escalation record: %+v", record)
	}
	if record.Summary == "" {
		t.Fatalf("escalation record must carry a summary")
	}
}

func TestProcessRespondWithoutProviderFails(t *testing.T) {
	store := &fakeStore{}
	snapshot := &Snapshot{
		Classifier: classifier.DefaultConfig(),
		Prompts: map[int64]models.PromptTemplate{
			1: {ID: 1, Content: "Answer: {{message_text}}", IsActive: true},
		},
		AutoRules: []rules.AutoRule{compiledAutoRule(t, models.AutoResponseRule{
			ID: 1, Name: "answer all", Action: models.ActionAutoRespond, PromptID: 1, IsEnabled: true,
		})},
	}
	eng := newTestEngine(store, &fakeNotifier{}, snapshot)

	msg := pendingMessage("help")
	store.seed(msg)
	outcome, err := eng.Process(context.Background(), msg)
	if err == nil {
		t.Fatalf("expected error without an active provider")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %q", outcome)
	}
	if msg.Status != models.StatusFailed {
		t.Fatalf("expected failed status, got %q", msg.Status)
	}
	wantLog := []string{"pending->processing", "processing->failed"}
	gotLog := store.transitionLog()
	if len(gotLog) != 2 || gotLog[0] != wantLog[0] || gotLog[1] != wantLog[1] {
		t.Fatalf("unexpected transition log %v", gotLog)
	}
}

func TestProcessPrunesRuleWithMissingPrompt(t *testing.T) {
	store := &fakeStore{}
	snapshot := &Snapshot{
		Classifier: classifier.DefaultConfig(),
		AutoRules: []rules.AutoRule{compiledAutoRule(t, models.AutoResponseRule{
			ID: 1, Name: "dangling prompt", Action: models.ActionAutoRespond, PromptID: 42, IsEnabled: true,
		})},
	}
	eng := newTestEngine(store, &fakeNotifier{}, snapshot)

	msg := pendingMessage("help")
	store.seed(msg)
	outcome, err := eng.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeNoMatch {
		t.Fatalf("rule with missing prompt must be disabled, got %q", outcome)
	}
	if msg.Status != models.StatusPending {
		t.Fatalf("message should stay pending, got %q", msg.Status)
	}
}

func TestProcessDuplicateSuppressed(t *testing.T) {
	store := &fakeStore{}
	snapshot := &Snapshot{Classifier: classifier.DefaultConfig()}
	eng := newTestEngine(store, &fakeNotifier{}, snapshot)

	msg := pendingMessage("hello")
	store.seed(msg)
	if !eng.locks.TryAcquire(msg.ID) {
		t.Fatalf("lock should be free")
	}
	defer eng.locks.Release(msg.ID)

	outcome, err := eng.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("concurrent cycle must be suppressed, got %q", outcome)
	}
}

func TestProcessStaleCopySuppressed(t *testing.T) {
	store := &fakeStore{}
	snapshot := &Snapshot{
		Classifier: classifier.DefaultConfig(),
		AutoRules: []rules.AutoRule{compiledAutoRule(t, models.AutoResponseRule{
			ID: 1, Name: "mute everything", Action: models.ActionIgnore, IsEnabled: true,
		})},
	}
	eng := newTestEngine(store, &fakeNotifier{}, snapshot)

	// Two workers load the same pending message; the second still holds the
	// pending copy after the first cycle finished.
	first := pendingMessage("duplicate enqueue")
	stale := pendingMessage("duplicate enqueue")
	store.seed(first)

	outcome, err := eng.Process(context.Background(), first)
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("first cycle should ignore, got %q", outcome)
	}

	outcome, err = eng.Process(context.Background(), stale)
	if err != nil {
		t.Fatalf("stale cycle: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("stale copy must be suppressed, got %q", outcome)
	}
	if stale.Status != models.StatusIgnored {
		t.Fatalf("stale copy should observe the persisted status, got %q", stale.Status)
	}
	gotLog := store.transitionLog()
	if len(gotLog) != 1 || gotLog[0] != "pending->ignored" {
		t.Fatalf("terminal status must not be overwritten, got %v", gotLog)
	}
}

func TestProcessNonPendingSkipped(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(store, &fakeNotifier{}, &Snapshot{Classifier: classifier.DefaultConfig()})

	msg := pendingMessage("hello")
	msg.Status = models.StatusResponded
	store.seed(msg)
	outcome, err := eng.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("already-handled message must be skipped, got %q", outcome)
	}
	if len(store.classified) != 0 {
		t.Fatalf("skipped message must not be reclassified")
	}
}

func TestProcessSnapshotErrorFails(t *testing.T) {
	store := &fakeStore{}
	logger := zap.NewNop()
	gen := generator.New(ratelimit.New(), logger, 0, time.Second)
	eng := New(&fakeSnapshots{err: errors.New("db down")}, store, &fakeNotifier{}, ai.NewFactory(), gen, nil, "", logger)

	msg := pendingMessage("hello")
	store.seed(msg)
	outcome, err := eng.Process(context.Background(), msg)
	if err == nil {
		t.Fatalf("expected snapshot error")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %q", outcome)
	}
}

func TestRetryFailedMessage(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(store, &fakeNotifier{}, &Snapshot{Classifier: classifier.DefaultConfig()})

	msg := pendingMessage("hello")
	msg.Status = models.StatusFailed
	store.seed(msg)
	if err := eng.Retry(context.Background(), msg); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if msg.Status != models.StatusPending {
		t.Fatalf("retry must move message back to pending, got %q", msg.Status)
	}
	gotLog := store.transitionLog()
	if len(gotLog) != 1 || gotLog[0] != "failed->pending" {
		t.Fatalf("unexpected transition log %v", gotLog)
	}
}

func TestRetryRejectsIllegalTransition(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(store, &fakeNotifier{}, &Snapshot{Classifier: classifier.DefaultConfig()})

	msg := pendingMessage("hello")
	msg.Status = models.StatusResponded
	store.seed(msg)
	if err := eng.Retry(context.Background(), msg); err == nil {
		t.Fatalf("responded -> pending must be rejected")
	}
	if msg.Status != models.StatusResponded {
		t.Fatalf("status must not change on rejected retry, got %q", msg.Status)
	}
}

func TestRetryStaleCopyRejected(t *testing.T) {
	store := &fakeStore{}
	eng := newTestEngine(store, &fakeNotifier{}, &Snapshot{Classifier: classifier.DefaultConfig()})

	// The stored row already moved back to pending; a second retry still
	// holds the failed copy.
	msg := pendingMessage("hello")
	msg.Status = models.StatusFailed
	store.seed(msg)
	store.statuses[msg.ID] = models.StatusPending

	if err := eng.Retry(context.Background(), msg); !errors.Is(err, errStaleStatus) {
		t.Fatalf("expected stale-status rejection, got %v", err)
	}
	if msg.Status != models.StatusFailed {
		t.Fatalf("status must roll back on stale retry, got %q", msg.Status)
	}
}

func TestRecoverStuck(t *testing.T) {
	store := &fakeStore{processing: []models.Message{
		{ID: "stuck-1", Status: models.StatusProcessing},
		{ID: "stuck-2", Status: models.StatusProcessing},
	}}
	for i := range store.processing {
		store.seed(&store.processing[i])
	}
	eng := newTestEngine(store, &fakeNotifier{}, &Snapshot{Classifier: classifier.DefaultConfig()})

	recovered, err := eng.RecoverStuck(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("expected 2 recovered, got %d", recovered)
	}
	for _, entry := range store.transitionLog() {
		if entry != "processing->failed" {
			t.Fatalf("unexpected transition %q", entry)
		}
	}
}

func TestTransitionRollsBackOnPersistError(t *testing.T) {
	store := &fakeStore{statusChangeErr: errors.New("write failed")}
	eng := newTestEngine(store, &fakeNotifier{}, &Snapshot{Classifier: classifier.DefaultConfig()})

	msg := pendingMessage("hello")
	if err := eng.transition(context.Background(), msg, models.StatusIgnored, "test"); err == nil {
		t.Fatalf("expected persist error")
	}
	if msg.Status != models.StatusPending {
		t.Fatalf("status must roll back on persist failure, got %q", msg.Status)
	}
}

func TestEscalationSummaryTruncatesOnRuneBoundary(t *testing.T) {
	msg := &models.Message{
		Category: "other",
		Priority: models.PriorityHigh,
		Text:     strings.Repeat("ü", 250),
	}
	summary := escalationSummary(msg)
	if !utf8.ValidString(summary) {
		t.Fatalf("summary must be valid UTF-8")
	}
	if !strings.HasSuffix(summary, "...") {
		t.Fatalf("long text must be truncated with an ellipsis, got %q", summary)
	}
	prefix := "[other/high] "
	excerpt := strings.TrimSuffix(strings.TrimPrefix(summary, prefix), "...")
	if count := utf8.RuneCountInString(excerpt); count != 200 {
		t.Fatalf("expected a 200-rune excerpt, got %d", count)
	}
}
