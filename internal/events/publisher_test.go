package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/sanvibhowmick/forge/internal/config"
	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestPublisher_Subject(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	ev := pipeline.Event{RunID: "run-1", Stage: pipeline.StageVerify, Phase: pipeline.PhaseCompleted}

	assert.Equal(t, "forge.runs.run-1.VERIFY.completed", p.Subject(ev))
	assert.Equal(t, "forge.runs.run-1.>", p.RunSubject("run-1"))

	p = NewPublisher(nil, "ci.forge.", nil)
	assert.Equal(t, "ci.forge.run-1.VERIFY.completed", p.Subject(ev))
}

func TestPublisher_PublishAndSubscribe(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	p := NewPublisher(nc, "", nil)

	received := make(chan pipeline.Event, 4)
	sub, err := p.Subscribe("run-1", func(ev pipeline.Event) { received <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe() //nolint:errcheck
	require.NoError(t, nc.Flush())

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, p.HandleEvent(ctx, pipeline.Event{
		RunID: "run-1", Stage: pipeline.StageVerify, Phase: pipeline.PhaseCompleted,
		Iteration: 2, Status: domain.StatusFail, Summary: "verification 1: FAIL, next BUILD", Time: now,
	}))
	require.NoError(t, p.HandleEvent(ctx, pipeline.Event{
		RunID: "run-2", Stage: pipeline.StageDesign, Phase: pipeline.PhaseStarted, Time: now,
	}))
	require.NoError(t, p.Close())

	select {
	case ev := <-received:
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, pipeline.StageVerify, ev.Stage)
		assert.Equal(t, domain.StatusFail, ev.Status)
		assert.Equal(t, 2, ev.Iteration)
		assert.True(t, now.Equal(ev.Time))
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}

	select {
	case ev := <-received:
		t.Fatalf("received event of another run: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublisher_ClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	p := NewPublisher(nc, "forge.runs", nil)
	nc.Close()

	err := p.HandleEvent(context.Background(), pipeline.Event{RunID: "run-1", Stage: pipeline.StageBuild, Phase: pipeline.PhaseStarted})
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestConnect(t *testing.T) {
	server := startTestNATSServer(t)

	p, err := Connect(config.EventsConfig{Enabled: true, URL: server.ClientURL(), SubjectPrefix: "forge.runs"}, nil)
	require.NoError(t, err)
	assert.True(t, p.Conn().IsConnected() || p.Conn().IsReconnecting())
	require.NoError(t, p.Close())

	_, err = Connect(config.EventsConfig{Enabled: true}, nil)
	assert.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("{"))
	assert.Error(t, err)
}
