package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
)

const brokerPollInterval = 500 * time.Millisecond

var errBrokerNotReady = errors.New("broker not ready")

// RabbitMQ implements Broker with the rabbitmq-server and rabbitmqctl CLIs.
type RabbitMQ struct {
	runner       Runner
	startTimeout time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewRabbitMQ creates a RabbitMQ broker. A nil runner uses ExecRunner defaults.
func NewRabbitMQ(runner Runner, logger *slog.Logger) *RabbitMQ {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RabbitMQ{
		runner:       runner,
		startTimeout: constants.BrokerStartTimeout,
		pollInterval: brokerPollInterval,
		logger:       logger,
	}
}

func (r *RabbitMQ) Running(ctx context.Context) bool {
	_, err := r.runner.Run(ctx, "rabbitmqctl", "status")
	return err == nil
}

func (r *RabbitMQ) EnsureRunning(ctx context.Context) error {
	if r.Running(ctx) {
		return nil
	}

	r.logger.Info("starting message broker")
	if _, err := r.runner.Run(ctx, "rabbitmq-server", "-detached"); err != nil {
		return fmt.Errorf("start rabbitmq: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.startTimeout)
	defer cancel()

	checkReady := func() (struct{}, error) {
		if r.Running(waitCtx) {
			return struct{}{}, nil
		}
		return struct{}{}, errBrokerNotReady
	}
	if _, err := backoff.Retry(waitCtx, checkReady,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.pollInterval)),
		backoff.WithMaxElapsedTime(r.startTimeout),
	); err != nil {
		return fmt.Errorf("rabbitmq not ready after %v: %w", r.startTimeout, err)
	}
	return nil
}

func (r *RabbitMQ) Configure(ctx context.Context, name string) error {
	if _, err := r.runner.Run(ctx, verdiBinary, "profile", "configure-rabbitmq", name); err != nil {
		return fmt.Errorf("configure rabbitmq: %w", err)
	}
	return nil
}
