package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stpericial/stpericial-backend/pkg/config"
	"github.com/stpericial/stpericial-backend/pkg/logger"
)

func startRabbitMQ(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Server startup complete"),
				wait.ForListeningPort("5672/tcp"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func connectTest(t *testing.T, url string) *RabbitMQ {
	t.Helper()
	rmq, err := New(&config.RabbitMQConfig{
		URL:            url,
		PrefetchCount:  1,
		MaxRetries:     10,
		ReconnectDelay: 200 * time.Millisecond,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { rmq.Close() })
	return rmq
}

func TestRabbitMQ_Integration(t *testing.T) {
	url := startRabbitMQ(t)
	log := logger.Nop()
	request := DeliveryRequestedEvent{Kind: "general_report", ReportID: "g-1", RequesterEmail: "perito@stpericial.local"}

	t.Run("failing delivery ends in the dead letter queue", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rmq := connectTest(t, url)

		consumer, err := NewConsumer(rmq, "test.delivery.dlq", log)
		require.NoError(t, err)
		require.NoError(t, consumer.Subscribe(ExchangeReportEvents, EventDeliveryRequested))

		var attempts atomic.Int32
		consumer.RegisterHandler(EventDeliveryRequested, func(ctx context.Context, event *Event) error {
			attempts.Add(1)
			return errors.New("smtp unavailable")
		})
		require.NoError(t, consumer.Start(ctx))

		publisher, err := NewPublisher(rmq, ExchangeReportEvents, "report-service", log)
		require.NoError(t, err)
		require.NoError(t, publisher.Publish(ctx, EventDeliveryRequested, request))

		require.Eventually(t, func() bool {
			msg, ok, err := rmq.Channel().Get("dlq.test.delivery.dlq", true)
			return err == nil && ok && msg.RoutingKey == EventDeliveryRequested
		}, 30*time.Second, 200*time.Millisecond)
		assert.Equal(t, int32(MaxRedeliveries+1), attempts.Load())
	})

	t.Run("consumer resumes after the connection drops", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rmq := connectTest(t, url)

		consumer, err := NewConsumer(rmq, "test.delivery.reconnect", log)
		require.NoError(t, err)
		require.NoError(t, consumer.Subscribe(ExchangeReportEvents, EventDeliveryRequested))

		var handled atomic.Int32
		consumer.RegisterHandler(EventDeliveryRequested, func(ctx context.Context, event *Event) error {
			handled.Add(1)
			return nil
		})
		require.NoError(t, consumer.Start(ctx))
		go rmq.Watch(ctx, func() error { return consumer.Resubscribe(ctx) })

		rmq.mu.RLock()
		dropped := rmq.conn
		rmq.mu.RUnlock()
		require.NoError(t, dropped.Close())

		require.Eventually(t, func() bool {
			rmq.mu.RLock()
			defer rmq.mu.RUnlock()
			return rmq.conn != dropped && !rmq.conn.IsClosed()
		}, 30*time.Second, 100*time.Millisecond)

		publisher, err := NewPublisher(rmq, ExchangeReportEvents, "report-service", log)
		require.NoError(t, err)
		require.NoError(t, publisher.Publish(ctx, EventDeliveryRequested, request))

		require.Eventually(t, func() bool { return handled.Load() == 1 }, 30*time.Second, 100*time.Millisecond)
	})

	t.Run("reconnect stops once closed", func(t *testing.T) {
		rmq := connectTest(t, url)
		require.NoError(t, rmq.Close())

		err := rmq.Reconnect(context.Background())
		assert.Error(t, err)
	})
}
