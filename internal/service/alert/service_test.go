package alert

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/repository/memory"
	"github.com/techmajster/time8-product-sub008/pkg/correlation"
	"github.com/techmajster/time8-product-sub008/pkg/messaging"
	redisbroker "github.com/techmajster/time8-product-sub008/pkg/messaging/redis"
)

type fakeMailer struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	err      error
}

func (f *fakeMailer) SendCustom(ctx context.Context, to []string, subject, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, content)
	return f.err
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *model.Alert) error { return errors.New("db down") }
func (failingRepo) ListByCorrelationID(context.Context, string) ([]*model.Alert, error) {
	return nil, nil
}

func newBroker(t *testing.T) messaging.Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisbroker.NewClient(context.Background(), redisbroker.Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	broker := redisbroker.NewRedisBroker(client, nil)
	t.Cleanup(func() { broker.Close() })
	return broker
}

func newService(t *testing.T, store *memory.Store, mailer *fakeMailer, broker messaging.Broker) *Service {
	svc := NewService(store.Alerts(), nil, nil)
	svc.Register(model.AlertSeverityWarning, NewBrokerChannel(broker, "seat-alerts.warning"))
	svc.Register(model.AlertSeverityCritical,
		NewBrokerChannel(broker, "seat-alerts.critical"),
		NewEmailChannel(mailer, []string{"oncall@time8.io"}),
	)
	return svc
}

func TestEmit_InfoIsPersistedOnly(t *testing.T) {
	store := memory.NewStore()
	mailer := &fakeMailer{}
	svc := newService(t, store, mailer, newBroker(t))

	ctx := correlation.WithID(context.Background(), "run-1")
	err := svc.Emit(ctx, &model.Alert{
		Severity: model.AlertSeverityInfo,
		Type:     model.AlertTypeReconcileClean,
		Title:    "Reconciliation clean",
		JobName:  "reconcile-seats",
	})
	require.NoError(t, err)

	alerts := store.AlertLog()
	require.Len(t, alerts, 1)
	assert.Equal(t, "run-1", alerts[0].CorrelationID)
	assert.Equal(t, "reconcile-seats", alerts[0].Context["job_name"])
	assert.Contains(t, alerts[0].Context, "timestamp")
	assert.Empty(t, mailer.subjects)
}

func TestEmit_CriticalFansOut(t *testing.T) {
	store := memory.NewStore()
	mailer := &fakeMailer{}
	broker := newBroker(t)
	svc := newService(t, store, mailer, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := broker.Subscribe(ctx, "seat-alerts.critical")
	require.NoError(t, err)

	subID := uuid.New()
	err = svc.Emit(ctx, &model.Alert{
		Severity:       model.AlertSeverityCritical,
		Type:           model.AlertTypeSeatDrift,
		Title:          "Seat drift detected",
		Message:        "local 8, provider 6",
		SubscriptionID: &subID,
		Context:        model.JSONMap{"local_seats": 8, "provider_seats": 6, "difference": 2},
	})
	require.NoError(t, err)

	select {
	case raw := <-msgs:
		var msg struct {
			Type    string      `json:"type"`
			Payload model.Alert `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "seat_alert.seat_drift", msg.Type)
		assert.EqualValues(t, 2, msg.Payload.Context["difference"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for critical alert")
	}

	require.Len(t, mailer.subjects, 1)
	assert.Equal(t, "[CRITICAL] Seat drift detected", mailer.subjects[0])
	assert.Contains(t, mailer.bodies[0], "difference: 2")
	assert.Contains(t, mailer.bodies[0], subID.String())
	assert.Len(t, store.AlertLog(), 1)
}

func TestEmit_WarningSkipsEmail(t *testing.T) {
	store := memory.NewStore()
	mailer := &fakeMailer{}
	svc := newService(t, store, mailer, newBroker(t))

	require.NoError(t, svc.Emit(context.Background(), &model.Alert{
		Severity: model.AlertSeverityWarning,
		Type:     model.AlertTypeReconcileFetch,
		Title:    "Provider lookup failed",
	}))
	assert.Empty(t, mailer.subjects)
	assert.Len(t, store.AlertLog(), 1)
}

func TestEmit_ChannelFailureDoesNotFail(t *testing.T) {
	store := memory.NewStore()
	mailer := &fakeMailer{err: errors.New("smtp down")}
	svc := newService(t, store, mailer, newBroker(t))

	err := svc.Emit(context.Background(), &model.Alert{
		Severity: model.AlertSeverityCritical,
		Type:     model.AlertTypeSeatPersistFailed,
		Title:    "Seat change not persisted",
	})
	require.NoError(t, err)
	assert.Len(t, store.AlertLog(), 1)
}

func TestEmit_PersistFailureStillEscalates(t *testing.T) {
	mailer := &fakeMailer{}
	svc := NewService(failingRepo{}, nil, nil)
	svc.Register(model.AlertSeverityCritical, NewEmailChannel(mailer, []string{"oncall@time8.io"}))

	err := svc.Emit(context.Background(), &model.Alert{
		Severity: model.AlertSeverityCritical,
		Type:     model.AlertTypeSeatDrift,
		Title:    "Seat drift detected",
	})
	require.Error(t, err)
	assert.Len(t, mailer.subjects, 1)
}
