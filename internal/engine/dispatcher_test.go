package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/internal/models"
)

func testMatch() models.MatchEvent {
	return models.MatchEvent{
		RuleID:   uuid.New(),
		RuleName: "test rule",
		Event:    models.Event{SID: "SM1", Category: models.CategoryMessage, Status: "failed"},
	}
}

func TestDispatchSuccess(t *testing.T) {
	ledger := newMemLedger()
	transport := &fakeTransport{}
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{models.ActionWebhook: transport}, testRetry(), testLogger())

	match := testMatch()
	action := models.Action{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionWebhook, Enabled: true}

	records, err := d.Dispatch(context.Background(), match, []models.Action{action})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.DispatchSuccess, records[0].Status)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Equal(t, 1, transport.sends())
}

func TestDispatchIdempotent(t *testing.T) {
	ledger := newMemLedger()
	transport := &fakeTransport{}
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{models.ActionWebhook: transport}, testRetry(), testLogger())

	match := testMatch()
	action := models.Action{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionWebhook, Enabled: true}

	_, err := d.Dispatch(context.Background(), match, []models.Action{action})
	require.NoError(t, err)

	// Redelivery of the same match must not execute the action again.
	records, err := d.Dispatch(context.Background(), match, []models.Action{action})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.DispatchSuccess, records[0].Status)
	assert.Equal(t, 1, transport.sends())
	assert.Equal(t, 1, ledger.count())
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	ledger := newMemLedger()
	transport := &fakeTransport{errs: []error{fmt.Errorf("connection reset"), fmt.Errorf("connection reset")}}
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{models.ActionWebhook: transport}, testRetry(), testLogger())

	match := testMatch()
	action := models.Action{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionWebhook, Enabled: true}

	records, err := d.Dispatch(context.Background(), match, []models.Action{action})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.DispatchSuccess, records[0].Status)
	assert.Equal(t, 3, records[0].Attempts)
	assert.Equal(t, 3, transport.sends())
}

func TestDispatchExhaustsAttempts(t *testing.T) {
	ledger := newMemLedger()
	transport := &fakeTransport{errs: []error{
		fmt.Errorf("unreachable"), fmt.Errorf("unreachable"), fmt.Errorf("unreachable"),
	}}
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{models.ActionWebhook: transport}, testRetry(), testLogger())

	match := testMatch()
	action := models.Action{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionWebhook, Enabled: true}

	records, err := d.Dispatch(context.Background(), match, []models.Action{action})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.DispatchFailed, records[0].Status)
	assert.Equal(t, 3, records[0].Attempts)
	assert.Contains(t, records[0].LastError, "exhausted 3 attempts")
}

func TestDispatchPermanentErrorNotRetried(t *testing.T) {
	ledger := newMemLedger()
	transport := &fakeTransport{errs: []error{Permanent(fmt.Errorf("missing recipients"))}}
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{models.ActionEmail: transport}, testRetry(), testLogger())

	match := testMatch()
	action := models.Action{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionEmail, Enabled: true}

	records, err := d.Dispatch(context.Background(), match, []models.Action{action})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.DispatchFailed, records[0].Status)
	assert.Equal(t, 1, transport.sends(), "a permanent failure must not be retried")
}

func TestDispatchUnknownKindFailsPermanently(t *testing.T) {
	ledger := newMemLedger()
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{}, testRetry(), testLogger())

	match := testMatch()
	action := models.Action{ID: uuid.New(), RuleID: match.RuleID, Kind: "pager", Enabled: true}

	records, err := d.Dispatch(context.Background(), match, []models.Action{action})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.DispatchFailed, records[0].Status)
	assert.Contains(t, records[0].LastError, "no transport")
}

func TestDispatchActionFailureIsolated(t *testing.T) {
	ledger := newMemLedger()
	failing := &fakeTransport{errs: []error{
		Permanent(fmt.Errorf("bad config")),
	}}
	healthy := &fakeTransport{}
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{
		models.ActionEmail:   failing,
		models.ActionWebhook: healthy,
	}, testRetry(), testLogger())

	match := testMatch()
	actions := []models.Action{
		{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionEmail, Enabled: true},
		{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionWebhook, Enabled: true},
	}

	records, err := d.Dispatch(context.Background(), match, actions)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byStatus := map[models.DispatchStatus]int{}
	for _, rec := range records {
		byStatus[rec.Status]++
	}
	assert.Equal(t, 1, byStatus[models.DispatchSuccess])
	assert.Equal(t, 1, byStatus[models.DispatchFailed])
	assert.Equal(t, 1, healthy.sends(), "failure of one action must not block the others")
}

func TestDispatchSkipsDisabledActions(t *testing.T) {
	ledger := newMemLedger()
	transport := &fakeTransport{}
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{models.ActionWebhook: transport}, testRetry(), testLogger())

	match := testMatch()
	action := models.Action{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionWebhook, Enabled: false}

	records, err := d.Dispatch(context.Background(), match, []models.Action{action})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, transport.sends())
	assert.Equal(t, 0, ledger.count(), "no ledger entry for an action that never ran")
}

func TestDispatchLedgerErrorSurfaces(t *testing.T) {
	ledger := newMemLedger()
	ledger.failAll = true
	transport := &fakeTransport{}
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{models.ActionWebhook: transport}, testRetry(), testLogger())

	match := testMatch()
	action := models.Action{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionWebhook, Enabled: true}

	_, err := d.Dispatch(context.Background(), match, []models.Action{action})
	assert.Error(t, err)
	assert.Equal(t, 0, transport.sends(), "no send without a pending record")
}

func TestResumeContinuesFromRecordedAttempts(t *testing.T) {
	ledger := newMemLedger()
	transport := &fakeTransport{}
	d := NewDispatcher(ledger, map[models.ActionKind]Transport{models.ActionWebhook: transport}, testRetry(), testLogger())

	match := testMatch()
	action := models.Action{ID: uuid.New(), RuleID: match.RuleID, Kind: models.ActionWebhook, Enabled: true}

	// A record left behind with two attempts already burned.
	pending := models.DispatchRecord{
		ID: uuid.New(), RuleID: match.RuleID, EventSID: match.Event.SID, ActionID: action.ID,
		Status: models.DispatchPending, Attempts: 2,
	}
	_, created, err := ledger.CreatePending(context.Background(), pending)
	require.NoError(t, err)
	require.True(t, created)

	final, err := d.Resume(context.Background(), pending, match, action)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchSuccess, final.Status)
	assert.Equal(t, 3, final.Attempts, "only the remaining attempt budget is spent")
	assert.Equal(t, 1, transport.sends())
}
