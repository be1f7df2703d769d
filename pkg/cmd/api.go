package cmd

import (
	"log/slog"

	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/services"
	"github.com/dukex/drip/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// NewAPIApp wires the services behind the HTTP API.
func NewAPIApp(
	logger *slog.Logger,
	store persistence.Persistence,
	sink services.EventSink,
	canceller services.Canceller,
) *fiber.App {
	handlers := web.NewAPIHandlers(
		services.NewWorkflow(logger, store, canceller),
		services.NewExecution(logger, store, canceller),
		services.NewEvents(logger, sink, store),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	return web.NewApp(handlers)
}
