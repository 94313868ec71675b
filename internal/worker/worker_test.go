package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/events"
	"github.com/deskflow/helpdesk-engine/internal/mail"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	"github.com/deskflow/helpdesk-engine/internal/repository/memory"
	"github.com/deskflow/helpdesk-engine/internal/service"
	"github.com/deskflow/helpdesk-engine/internal/sla"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

type stubProvider struct {
	pages    map[string][]string
	next     map[string]string
	payloads map[string]*mail.Payload
	fetched  []string
	failOn   string
}

func (p *stubProvider) List(ctx context.Context, cursor string) ([]string, string, error) {
	return p.pages[cursor], p.next[cursor], nil
}

func (p *stubProvider) Fetch(ctx context.Context, id string) (*mail.Payload, error) {
	if id == p.failOn {
		return nil, errors.New("provider timeout")
	}
	p.fetched = append(p.fetched, id)
	if payload, ok := p.payloads[id]; ok {
		copied := *payload
		return &copied, nil
	}
	return &mail.Payload{Text: "body of " + id}, nil
}

func (p *stubProvider) Send(ctx context.Context, raw []byte) (string, error) {
	return "", nil
}

type stubIngester struct {
	ids  []string
	fail map[string]error
}

func (s *stubIngester) IngestPayload(ctx context.Context, payload mail.Payload) (*service.IngestResult, error) {
	if err := s.fail[payload.ID]; err != nil {
		return nil, err
	}
	s.ids = append(s.ids, payload.ID)
	return &service.IngestResult{Outcome: service.IngestCreated}, nil
}

func TestMailPoller_AdvancesCursorAfterBatch(t *testing.T) {
	provider := &stubProvider{
		pages: map[string][]string{"": {"a", "b"}, "c1": {"c"}},
		next:  map[string]string{"": "c1", "c1": "c2"},
	}
	ingester := &stubIngester{}
	poller := NewMailPoller(provider, ingester, time.Minute, zap.NewNop(), nil)

	n, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "c1", poller.Cursor())

	n, err = poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a", "b", "c"}, ingester.ids)
}

func TestMailPoller_KeepsCursorOnFailure(t *testing.T) {
	provider := &stubProvider{
		pages:  map[string][]string{"": {"a", "b"}},
		next:   map[string]string{"": "c1"},
		failOn: "b",
	}
	ingester := &stubIngester{}
	poller := NewMailPoller(provider, ingester, time.Minute, zap.NewNop(), nil)

	n, err := poller.PollOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "", poller.Cursor())
	assert.Equal(t, []string{"a"}, ingester.ids)
}

func TestMailPoller_SkipsRejectedMessages(t *testing.T) {
	provider := &stubProvider{
		pages: map[string][]string{"": {"bad", "good"}},
		next:  map[string]string{"": "c1"},
	}
	ingester := &stubIngester{fail: map[string]error{
		"bad": apperrors.NewValidationError("message has no usable id", nil),
	}}
	metrics := observability.NewMetrics()
	poller := NewMailPoller(provider, ingester, time.Minute, zap.NewNop(), metrics)

	n, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "c1", poller.Cursor())
	assert.Equal(t, []string{"good"}, ingester.ids)
	assert.Equal(t, int64(1), metrics.Counter(observability.CounterInboundRejected))
}

func TestMailPoller_InProgressHoldsCursor(t *testing.T) {
	provider := &stubProvider{
		pages: map[string][]string{"": {"busy", "next"}},
		next:  map[string]string{"": "c1"},
	}
	ingester := &stubIngester{fail: map[string]error{"busy": domain.ErrMarkerInProgress}}
	poller := NewMailPoller(provider, ingester, time.Minute, zap.NewNop(), nil)

	n, err := poller.PollOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrMarkerInProgress)
	assert.Equal(t, 0, n)
	assert.Equal(t, "", poller.Cursor())
	assert.Empty(t, ingester.ids)
}

func TestMailPoller_UnreadableMessageStillOpensTicket(t *testing.T) {
	store := memory.NewStore()
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     store.Tickets(),
		MessageRepo:    store.Messages(),
		EventRepo:      store.Events(),
		Sequence:       store.Sequence(),
		Tx:             store,
		Policies:       sla.NewProvider(nil, nil),
		Dispatcher:     events.NewInMemoryDispatcher(),
		Logger:         zap.NewNop(),
		OrganizationID: "acme",
	})
	correlator := service.NewCorrelator(service.CorrelatorDependencies{
		Tickets:  tickets,
		Messages: store.Messages(),
		Markers:  store.Markers(),
		Mailbox:  "support@acme.test",
		Logger:   zap.NewNop(),
	})
	good := "From: jane@customer.example\r\nSubject: Printer jam\r\nMessage-Id: <good@customer.example>\r\n\r\nIt jams."
	provider := &stubProvider{
		pages: map[string][]string{"": {"bad", "good"}},
		next:  map[string]string{"": "c1"},
		payloads: map[string]*mail.Payload{
			"bad":  {Raw: base64.RawURLEncoding.EncodeToString([]byte("this is not a header line\r\n\r\nhelp me"))},
			"good": {Raw: base64.RawURLEncoding.EncodeToString([]byte(good))},
		},
	}
	poller := NewMailPoller(provider, correlator, time.Minute, zap.NewNop(), nil)

	n, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "c1", poller.Cursor())

	first, err := tickets.GetTicketByNumber(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "(no subject)", first.Subject)
	assert.Equal(t, "help me", first.Description)

	second, err := tickets.GetTicketByNumber(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Printer jam", second.Subject)
}

type countingPublisher struct {
	channels []string
}

func (p *countingPublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	p.channels = append(p.channels, channel)
	return redis.NewIntCmd(ctx)
}

func TestStartNotificationWorker(t *testing.T) {
	StartNotificationWorker(nil, nil)

	dispatcher := events.NewInMemoryDispatcher()
	publisher := &countingPublisher{}
	notifications := service.NewNotificationService(dispatcher, zap.NewNop(), publisher, "tickets:events", nil)
	StartNotificationWorker(notifications, zap.NewNop())

	err := dispatcher.Publish(context.Background(), events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: "t-1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tickets:events"}, publisher.channels)
	assert.Equal(t, []string{"redis:tickets:events"}, notifications.Outputs())
}

type stubSweeper struct {
	calls int
}

func (s *stubSweeper) Sweep(ctx context.Context, now time.Time) (service.SweepResult, error) {
	s.calls++
	return service.SweepResult{Scanned: 1}, nil
}

func TestSLAWorker_RunOnce(t *testing.T) {
	sweeper := &stubSweeper{}
	worker := NewSLAWorker(sweeper, "@every 1m", zap.NewNop())
	result, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, sweeper.calls)
}

func TestSLAWorker_RejectsBadSchedule(t *testing.T) {
	worker := NewSLAWorker(&stubSweeper{}, "not a schedule", zap.NewNop())
	err := worker.Run(context.Background())
	assert.Error(t, err)
}

func TestSLAWorker_StopsWithContext(t *testing.T) {
	worker := NewSLAWorker(&stubSweeper{}, "@every 1h", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

