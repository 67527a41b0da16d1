package emergency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	mu    sync.Mutex
	err   error
	sent  []domain.OutboundMessage
	calls int
}

func (f *fakeMessenger) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "msg-1", nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	sent  []domain.AlertDraft
	calls int
}

func (f *fakeNotifier) SendAlert(_ context.Context, _ []string, draft domain.AlertDraft) (domain.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Alert{}, f.err
	}
	f.sent = append(f.sent, draft)
	return domain.Alert{ID: "alert-1"}, nil
}

func testSink() *telemetry.Sink {
	return telemetry.NewSink(slog.New(slog.NewTextHandler(io.Discard, nil)), 64)
}

func newTestOrchestrator(config Config, messenger Messenger, notifier Notifier) *Orchestrator {
	steps := NewStepTable(StepsConfig{
		OperatorAddresses: []string{"5551230001"},
		OperatorUserIDs:   []string{"op1"},
		PrivacyAddress:    "5551230002",
	}, messenger, notifier)
	return NewOrchestrator(config, DefaultCatalog(), steps, testSink())
}

func waitForStatus(t *testing.T, o *Orchestrator, id string, want domain.ResponseStatus) domain.EmergencyResponse {
	t.Helper()
	var resp domain.EmergencyResponse
	require.Eventually(t, func() bool {
		var err error
		resp, err = o.ResponseStatus(id)
		return err == nil && resp.Status == want
	}, 2*time.Second, time.Millisecond, "response never reached %s", want)
	return resp
}

func logsContain(resp domain.EmergencyResponse, fragment string) bool {
	for _, entry := range resp.Logs {
		if strings.Contains(entry.Message, fragment) {
			return true
		}
	}
	return false
}

func TestOrchestrator_Trigger_UnknownProcedure(t *testing.T) {
	o := newTestOrchestrator(Config{ApprovalTimeout: time.Minute}, &fakeMessenger{}, &fakeNotifier{})

	_, err := o.Trigger(context.Background(), "no-such-runbook", nil)

	assert.ErrorIs(t, err, ErrUnknownProcedure)
}

func TestOrchestrator_Sequencing_CompletesAllSteps(t *testing.T) {
	messenger := &fakeMessenger{}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(Config{ApprovalTimeout: time.Minute}, messenger, notifier)

	id, err := o.Trigger(context.Background(), "mass-alert-storm", map[string]string{"reason": "load test gone wrong"})
	require.NoError(t, err)

	resp := waitForStatus(t, o, id, domain.ResponseStatusCompleted)

	procedure := DefaultCatalog()["mass-alert-storm"]
	assert.Equal(t, len(procedure.Steps), resp.CompletedSteps)
	assert.True(t, logsContain(resp, "execution started"))
	assert.True(t, logsContain(resp, "no-op"), "steps without handlers are logged no-ops")
	assert.NotEmpty(t, resp.Notifications)

	messenger.mu.Lock()
	require.Len(t, messenger.sent, 1)
	assert.Equal(t, domain.MessageCategoryCrisis, messenger.sent[0].Category)
	assert.Contains(t, messenger.sent[0].Body, "load test gone wrong")
	messenger.mu.Unlock()

	notifier.mu.Lock()
	assert.Equal(t, 1, notifier.calls)
	notifier.mu.Unlock()
}

func TestOrchestrator_FailingStepFreezesProgress(t *testing.T) {
	messenger := &fakeMessenger{err: errors.New("smpp gateway down")}
	o := newTestOrchestrator(Config{ApprovalTimeout: time.Minute}, messenger, &fakeNotifier{})

	id, err := o.Trigger(context.Background(), "mass-alert-storm", nil)
	require.NoError(t, err)

	resp := waitForStatus(t, o, id, domain.ResponseStatusFailed)

	// The first step (notify operators) fails, so no step ever completes.
	assert.Equal(t, 0, resp.CompletedSteps)
	assert.True(t, logsContain(resp, "failed"))

	// A failed response is terminal and no longer active.
	for _, active := range o.ActiveResponses() {
		assert.NotEqual(t, id, active.ID)
	}
}

func TestOrchestrator_StepsRunStrictlyInOrder(t *testing.T) {
	// data-exposure messages operators before the privacy officer; the
	// recorded send order must match the catalog order.
	var order []string
	var mu sync.Mutex

	messenger := &orderRecordingMessenger{record: func(to string) {
		mu.Lock()
		order = append(order, to)
		mu.Unlock()
	}}
	o := newTestOrchestrator(Config{ApprovalTimeout: time.Minute, AutoApprove: false}, messenger, &fakeNotifier{})

	id, err := o.Trigger(context.Background(), "data-exposure", nil)
	require.NoError(t, err)
	require.NoError(t, o.Approve(context.Background(), id))

	waitForStatus(t, o, id, domain.ResponseStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"5551230001", "5551230002"}, order)
}

type orderRecordingMessenger struct {
	record func(to string)
}

func (f *orderRecordingMessenger) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	f.record(msg.To)
	return "msg-1", nil
}

func TestOrchestrator_ApprovalGate_WaitsForApprove(t *testing.T) {
	messenger := &fakeMessenger{}
	o := newTestOrchestrator(Config{ApprovalTimeout: time.Hour}, messenger, &fakeNotifier{})

	id, err := o.Trigger(context.Background(), "data-exposure", nil)
	require.NoError(t, err)

	resp, err := o.ResponseStatus(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseStatusInitiated, resp.Status)
	assert.True(t, logsContain(resp, "awaiting approval"))

	require.NoError(t, o.Approve(context.Background(), id))
	resp = waitForStatus(t, o, id, domain.ResponseStatusCompleted)
	assert.True(t, logsContain(resp, "approved by operator"))
	assert.False(t, logsContain(resp, "auto-approved"))

	// Approving a running or finished response is rejected.
	err = o.Approve(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotAwaitingApproval)
}

func TestOrchestrator_AutoApprove_AfterTimeout(t *testing.T) {
	o := newTestOrchestrator(Config{
		ApprovalTimeout: 10 * time.Millisecond,
		AutoApprove:     true,
	}, &fakeMessenger{}, &fakeNotifier{})

	id, err := o.Trigger(context.Background(), "data-exposure", nil)
	require.NoError(t, err)

	// Never call Approve: the timeout releases execution on its own.
	resp := waitForStatus(t, o, id, domain.ResponseStatusCompleted)
	assert.True(t, logsContain(resp, "auto-approved"), "audit log must mark the auto-approval explicitly")
}

func TestOrchestrator_AutoApproveDisabled_StaysInitiated(t *testing.T) {
	o := newTestOrchestrator(Config{
		ApprovalTimeout: 5 * time.Millisecond,
		AutoApprove:     false,
	}, &fakeMessenger{}, &fakeNotifier{})

	id, err := o.Trigger(context.Background(), "data-exposure", nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	resp, err := o.ResponseStatus(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseStatusInitiated, resp.Status, "without auto-approve the gate holds indefinitely")
}

func TestOrchestrator_ActiveResponses(t *testing.T) {
	o := newTestOrchestrator(Config{ApprovalTimeout: time.Hour}, &fakeMessenger{}, &fakeNotifier{})

	id, err := o.Trigger(context.Background(), "data-exposure", nil)
	require.NoError(t, err)

	active := o.ActiveResponses()
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)

	_, err = o.ResponseStatus("missing")
	assert.ErrorIs(t, err, ErrResponseNotFound)
}

func TestOrchestrator_ResponseSnapshotsAreIsolated(t *testing.T) {
	o := newTestOrchestrator(Config{ApprovalTimeout: time.Hour}, &fakeMessenger{}, &fakeNotifier{})

	id, err := o.Trigger(context.Background(), "data-exposure", map[string]string{"reason": "drill"})
	require.NoError(t, err)

	resp, err := o.ResponseStatus(id)
	require.NoError(t, err)
	resp.Logs = append(resp.Logs, domain.ResponseLogEntry{Message: "tampered"})
	resp.Metadata["reason"] = "tampered"

	fresh, err := o.ResponseStatus(id)
	require.NoError(t, err)
	assert.False(t, logsContain(fresh, "tampered"))
	assert.Equal(t, "drill", fresh.Metadata["reason"])
}
