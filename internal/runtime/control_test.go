package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/jsoncodec"
	"github.com/kemock/kem/internal/runtime/metadata"
	"github.com/kemock/kem/internal/runtime/operations"
	"github.com/kemock/kem/transport"
)

func newControlService(t *testing.T, mutate func(*operations.Definitions)) (*Service, *gochannel.GoChannel) {
	t.Helper()
	gc := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	defs := echoDefinitions()
	if mutate != nil {
		mutate(defs)
	}
	conf := loopbackConfig()
	conf.ControlCORSAllowedOrigins = []string{"https://ui.example"}

	svc, err := NewService(conf, defs, newUserRegistry(t), newTestLogger(), context.Background(), ServiceDependencies{
		Transports:           loopbackRegistry(transport.Transport{Publisher: gc, Subscriber: gc}),
		MetricsRegisterer:    prometheus.NewRegistry(),
		DisableSignalHandler: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, gc
}

func serve(t *testing.T, h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestControlRoutes(t *testing.T) {
	svc, _ := newControlService(t, nil)

	rec := serve(t, svc.ControlHandler(), http.MethodGet, "/api/routes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var view RoutesView
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []string{"users", "mail"}, view.Topics)
	assert.Equal(t, []string{"users"}, view.ConsumerTopics)
	assert.Equal(t, []string{"seed"}, view.StartupProducers)
	assert.Equal(t, []string{"send-mail"}, view.TriggeredProducers)
	assert.Equal(t, map[string][]string{"on-user": {"send-mail"}}, view.Launches)
}

func TestControlHandlersBeforeStart(t *testing.T) {
	svc, _ := newControlService(t, nil)

	rec := serve(t, svc.ControlHandler(), http.MethodGet, "/api/handlers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &names))
	assert.Empty(t, names)
}

func TestControlEmitNow(t *testing.T) {
	svc, gc := newControlService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	users, err := gc.Subscribe(ctx, "users")
	require.NoError(t, err)

	rec := serve(t, svc.ControlHandler(), http.MethodPost, "/api/producers/seed/emit",
		http.Header{HeaderCorrelationID: {"abc"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TriggerResponse
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, TriggerResponse{OperationID: "seed", Trigger: "manual"}, resp)

	select {
	case msg := <-users:
		msg.Ack()
		assert.Equal(t, "manual", msg.Metadata.Get(metadata.KeyTrigger))
		assert.Equal(t, "abc", msg.Metadata.Get(metadata.KeyCorrelationID))
	case <-time.After(2 * time.Second):
		t.Fatal("no message emitted")
	}

	rec = serve(t, svc.ControlHandler(), http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]OperationStats
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats["seed"].Emitted)
}

func TestControlTriggerSchedules(t *testing.T) {
	svc, gc := newControlService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mail, err := gc.Subscribe(ctx, "mail")
	require.NoError(t, err)

	rec := serve(t, svc.ControlHandler(), http.MethodPost, "/api/producers/send-mail/trigger", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	select {
	case msg := <-mail:
		msg.Ack()
		assert.Equal(t, "send-mail", msg.Metadata.Get(metadata.KeyOperationID))
	case <-time.After(2 * time.Second):
		t.Fatal("triggered producer did not emit")
	}
}

func TestControlTriggerErrors(t *testing.T) {
	svc, _ := newControlService(t, func(d *operations.Definitions) {
		d.Producers[0].KeySerializer = operations.KeyLong
	})
	h := svc.ControlHandler()

	rec := serve(t, h, http.MethodPost, "/api/producers/nope/trigger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "nope")

	rec = serve(t, h, http.MethodPost, "/api/producers/seed/emit", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/producers/seed/emit", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	require.NoError(t, svc.Close())
	rec = serve(t, h, http.MethodPost, "/api/producers/send-mail/trigger", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestControlCORS(t *testing.T) {
	svc, _ := newControlService(t, nil)
	h := svc.ControlHandler()

	rec := serve(t, h, http.MethodOptions, "/api/routes", http.Header{"Origin": {"https://UI.example"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://UI.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(t, h, http.MethodGet, "/api/routes", http.Header{"Origin": {"https://evil.example"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServiceTriggerUnknownProducer(t *testing.T) {
	svc, _ := newControlService(t, nil)
	assert.ErrorIs(t, svc.Trigger(context.Background(), "ghost"), errspkg.ErrUnknownProducer)
	assert.ErrorIs(t, svc.EmitNow(context.Background(), "ghost"), errspkg.ErrUnknownProducer)

	var nilSvc *Service
	assert.ErrorIs(t, nilSvc.Trigger(context.Background(), "seed"), errspkg.ErrServiceRequired)
}
