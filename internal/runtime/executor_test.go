package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	idspkg "github.com/kemock/kem/internal/runtime/ids"
	"github.com/kemock/kem/internal/runtime/metadata"
	"github.com/kemock/kem/internal/runtime/operations"
	"github.com/kemock/kem/transport"
)

func TestPlanSchedule(t *testing.T) {
	conf := ExecutorConfig{StartupGracePeriod: 3 * time.Second, MinRepeatInterval: 5 * time.Second}
	op := func(delay, interval int64) *operations.ProducerOperation {
		return &operations.ProducerOperation{Operation: operations.Operation{DelayMs: delay, FixedScheduleTimeMs: interval}}
	}

	tests := []struct {
		name    string
		op      *operations.ProducerOperation
		trigger Trigger
		want    schedulePlan
	}{
		{"startup raised to grace period", op(100, 0), TriggerStartup, schedulePlan{initialDelay: 3 * time.Second}},
		{"startup keeps longer delay", op(4000, 0), TriggerStartup, schedulePlan{initialDelay: 4 * time.Second}},
		{"event keeps short delay", op(100, 0), TriggerEvent, schedulePlan{initialDelay: 100 * time.Millisecond}},
		{"manual keeps short delay", op(100, 0), TriggerManual, schedulePlan{initialDelay: 100 * time.Millisecond}},
		{"short interval fires once", op(0, 4999), TriggerEvent, schedulePlan{}},
		{"interval at threshold repeats", op(0, 5000), TriggerEvent, schedulePlan{interval: 5 * time.Second, repeat: true}},
		{"startup repeating", op(0, 10000), TriggerStartup, schedulePlan{initialDelay: 3 * time.Second, interval: 10 * time.Second, repeat: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, planSchedule(tt.op, tt.trigger, conf))
		})
	}
}

func newTestExecutor(t *testing.T, tr transport.Transport, conf ExecutorConfig, hooks EmissionHooks) *Executor {
	t.Helper()
	if conf.ClientID == "" {
		conf.ClientID = "KEM"
	}
	e, err := NewExecutor(conf, tr, newUserRegistry(t), newTestLogger(), hooks)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewExecutorRequiresCollaborators(t *testing.T) {
	reg := newUserRegistry(t)
	tr := transport.Transport{Publisher: newRecordingPublisher()}

	_, err := NewExecutor(ExecutorConfig{}, tr, nil, newTestLogger(), EmissionHooks{})
	assert.ErrorIs(t, err, errspkg.ErrSchemaRegistryRequired)
	_, err = NewExecutor(ExecutorConfig{}, tr, reg, nil, EmissionHooks{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
	_, err = NewExecutor(ExecutorConfig{}, transport.Transport{}, reg, newTestLogger(), EmissionHooks{})
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
}

func TestEmitStampsMetadata(t *testing.T) {
	pub := newRecordingPublisher()
	e := newTestExecutor(t, transport.Transport{Publisher: pub}, ExecutorConfig{}, EmissionHooks{})
	fixed := time.UnixMilli(1_700_000_000_000)
	e.now = func() time.Time { return fixed }

	p := userProducer("create-user", "users")
	p.ValueSerializer = operations.ValueJSON
	ctx := WithCorrelationID(context.Background(), "corr-1")
	require.NoError(t, e.Emit(ctx, p, TriggerStartup))

	msgs := pub.Published("users")
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "user-1", msg.Metadata.Get(metadata.KeyMessageKey))
	assert.Equal(t, "create-user", msg.Metadata.Get(metadata.KeyOperationID))
	assert.Equal(t, "com.acme.User", msg.Metadata.Get(metadata.KeySchema))
	assert.Equal(t, "json", msg.Metadata.Get(metadata.KeyValueSerializer))
	assert.Equal(t, "startup", msg.Metadata.Get(metadata.KeyTrigger))
	assert.Equal(t, "corr-1", msg.Metadata.Get(metadata.KeyCorrelationID))

	ts, ok := metadata.FromWatermill(msg.Metadata).Timestamp()
	require.True(t, ok)
	assert.True(t, fixed.Equal(ts))

	at, ok := idspkg.MessageTime(msg.UUID)
	require.True(t, ok)
	assert.True(t, fixed.Equal(at))
	assert.JSONEq(t, `{"id":42,"name":"Ada","status":"ACTIVE","tags":["admin"]}`, string(msg.Payload))
}

func TestEmitLegacyProperties(t *testing.T) {
	pub := newRecordingPublisher()
	e := newTestExecutor(t, transport.Transport{Publisher: pub}, ExecutorConfig{}, EmissionHooks{})

	p := userProducer("legacy", "users")
	p.Record = nil
	p.ValueSerializer = operations.ValueJSON
	p.Properties = &operations.PropertiesSpec{
		Namespace: "com.acme",
		Name:      "User",
		Values:    map[string]any{"id": "5", "name": "Bob", "status": "BANNED"},
	}
	require.NoError(t, e.Emit(context.Background(), p, TriggerEvent))

	msgs := pub.Published("users")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"id":5,"name":"Bob","status":"BANNED","tags":[]}`, string(msgs[0].Payload))
}

func TestEmitFailuresReachHooks(t *testing.T) {
	var mu sync.Mutex
	var failures []error
	var done int
	hooks := EmissionHooks{
		OnDone: func(EmissionContext) {
			mu.Lock()
			done++
			mu.Unlock()
		},
		OnError: func(_ EmissionContext, err error) {
			mu.Lock()
			failures = append(failures, err)
			mu.Unlock()
		},
	}

	pub := newRecordingPublisher()
	pub.err = errors.New("broker down")
	e := newTestExecutor(t, transport.Transport{Publisher: pub}, ExecutorConfig{}, hooks)

	err := e.Emit(context.Background(), userProducer("create-user", "users"), TriggerEvent)
	var publishErr *errspkg.PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, "users", publishErr.Topic)

	bad := userProducer("bad", "users")
	bad.Record.Value = map[string]any{"id": "not-a-number"}
	err = e.Emit(context.Background(), bad, TriggerEvent)
	var matErr *errspkg.MaterializationError
	assert.ErrorAs(t, err, &matErr)

	unknown := userProducer("unknown", "users")
	unknown.Record.Name = "Missing"
	err = e.Emit(context.Background(), unknown, TriggerEvent)
	assert.ErrorIs(t, err, errspkg.ErrUnknownSchemaType)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, failures, 3)
	assert.Zero(t, done)
}

func TestExecuteEventDelay(t *testing.T) {
	pub := newRecordingPublisher()
	e := newTestExecutor(t, transport.Transport{Publisher: pub}, ExecutorConfig{
		StartupGracePeriod: time.Hour,
		MinRepeatInterval:  5 * time.Second,
	}, EmissionHooks{})

	p := userProducer("delayed", "users")
	p.DelayMs = 100

	start := time.Now()
	require.NoError(t, e.Execute(context.Background(), p, TriggerEvent))
	assert.Zero(t, pub.Count(), "Execute does not block on the emission")

	pub.waitFor(t, 1, 2*time.Second)
	assert.GreaterOrEqual(t, pub.FirstAt().Sub(start), 100*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, pub.Count(), "one-shot schedule emits once")
}

func TestExecuteStartupWaitsGracePeriod(t *testing.T) {
	pub := newRecordingPublisher()
	e := newTestExecutor(t, transport.Transport{Publisher: pub}, ExecutorConfig{
		StartupGracePeriod: 200 * time.Millisecond,
		MinRepeatInterval:  5 * time.Second,
	}, EmissionHooks{})

	p := userProducer("startup", "users")
	p.DelayMs = 10

	start := time.Now()
	require.NoError(t, e.Execute(context.Background(), p, TriggerStartup))
	pub.waitFor(t, 1, 2*time.Second)
	assert.GreaterOrEqual(t, pub.FirstAt().Sub(start), 200*time.Millisecond)
}

func TestExecuteRepeatsUntilCancelled(t *testing.T) {
	pub := newRecordingPublisher()
	e := newTestExecutor(t, transport.Transport{Publisher: pub}, ExecutorConfig{
		MinRepeatInterval: 20 * time.Millisecond,
	}, EmissionHooks{})

	p := userProducer("ticker", "users")
	p.FixedScheduleTimeMs = 30

	require.NoError(t, e.Execute(context.Background(), p, TriggerEvent))
	pub.waitFor(t, 3, 2*time.Second)

	e.Cancel("ticker")
	time.Sleep(50 * time.Millisecond)
	after := pub.Count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, pub.Count(), "no emissions after Cancel")
}

func TestExecuteAfterClose(t *testing.T) {
	pub := newRecordingPublisher()
	e := newTestExecutor(t, transport.Transport{Publisher: pub}, ExecutorConfig{}, EmissionHooks{})

	p := userProducer("late", "users")
	p.DelayMs = 10_000
	require.NoError(t, e.Execute(context.Background(), p, TriggerEvent))

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Execute(context.Background(), p, TriggerEvent), errspkg.ErrExecutorClosed)
	assert.Zero(t, pub.Count())
	assert.False(t, pub.IsClosed(), "the shared publisher belongs to the transport")
}

func TestPublisherPerOperation(t *testing.T) {
	var mu sync.Mutex
	created := map[string]*recordingPublisher{}
	tr := transport.Transport{
		NewPublisher: func(clientID string) (message.Publisher, error) {
			mu.Lock()
			defer mu.Unlock()
			pub := newRecordingPublisher()
			created[clientID] = pub
			return pub, nil
		},
	}
	e := newTestExecutor(t, tr, ExecutorConfig{ClientID: "APP"}, EmissionHooks{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Emit(context.Background(), userProducer("first", "users"), TriggerEvent)
		}()
	}
	wg.Wait()
	require.NoError(t, e.Emit(context.Background(), userProducer("second", "audit"), TriggerEvent))

	mu.Lock()
	require.Len(t, created, 2)
	first, second := created["APP-1"], created["APP-2"]
	mu.Unlock()
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Len(t, first.Published("users"), 8)
	assert.Len(t, second.Published("audit"), 1)

	require.NoError(t, e.Close())
	assert.True(t, first.IsClosed())
	assert.True(t, second.IsClosed())
}

func TestSlowClientCreationDoesNotBlockOtherOperations(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	tr := transport.Transport{
		NewPublisher: func(clientID string) (message.Publisher, error) {
			if clientID == "APP-1" {
				once.Do(func() { close(entered) })
				<-release
			}
			return newRecordingPublisher(), nil
		},
	}
	e := newTestExecutor(t, tr, ExecutorConfig{ClientID: "APP"}, EmissionHooks{})

	slowDone := make(chan error, 1)
	go func() { slowDone <- e.Emit(context.Background(), userProducer("slow", "users"), TriggerEvent) }()
	<-entered

	other := userProducer("other", "users")
	other.DelayMs = 60_000
	executed := make(chan error, 1)
	go func() { executed <- e.Execute(context.Background(), other, TriggerEvent) }()
	select {
	case err := <-executed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Execute waited for another operation's client")
	}

	require.NoError(t, e.Emit(context.Background(), userProducer("fast", "audit"), TriggerEvent))

	close(release)
	require.NoError(t, <-slowDone)
}

func TestPublisherCreationRetriesAfterFailure(t *testing.T) {
	var calls []string
	tr := transport.Transport{
		NewPublisher: func(clientID string) (message.Publisher, error) {
			calls = append(calls, clientID)
			if len(calls) == 1 {
				return nil, errors.New("broker down")
			}
			return newRecordingPublisher(), nil
		},
	}
	e := newTestExecutor(t, tr, ExecutorConfig{ClientID: "APP"}, EmissionHooks{})
	p := userProducer("retry", "users")

	var pubErr *errspkg.PublishError
	require.ErrorAs(t, e.Emit(context.Background(), p, TriggerEvent), &pubErr)
	require.NoError(t, e.Emit(context.Background(), p, TriggerEvent))
	require.NoError(t, e.Emit(context.Background(), p, TriggerEvent))
	assert.Equal(t, []string{"APP-1", "APP-2"}, calls)
}
