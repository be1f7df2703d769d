// Package main provides the Drip API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/engine"
	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/scheduler"
	"github.com/dukex/drip/pkg/services"
	"github.com/gofiber/fiber/v3"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	queue       scheduler.DelayQueue
	tracer      trace.Tracer
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	queue scheduler.DelayQueue,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		queue:       queue,
		tracer:      otelhelper.NoopTracer(),
	}
}

// App wires the services on the API side. Events are published for the workers to dispatch; the
// engine is only used to cancel executions, so it runs without actions or conditions.
func (a *API) App() *fiber.App {
	delays := scheduler.New(a.logger, a.queue, a.persistence, nil)
	canceller := engine.New(a.logger, a.persistence, nil, nil, delays,
		engine.WithEventBus(a.eventBus),
		engine.WithTracer(a.tracer),
	)

	return cmd.NewAPIApp(a.logger, a.persistence, services.NewBusSink(a.eventBus), canceller)
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
