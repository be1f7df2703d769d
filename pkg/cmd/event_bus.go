package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/drip/pkg/channels/gochannel"
	"github.com/dukex/drip/pkg/channels/kafka"
	"github.com/dukex/drip/pkg/eventbus"
)

// NewEventBus creates the event bus transport. gochannel only connects components running in
// the same process.
func NewEventBus(provider, brokers, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err = kafka.CreateChannel(watermillLogger, splitBrokers(brokers), serviceName)
	case "gochannel", "":
		pub, sub, err = gochannel.CreateChannel(watermillLogger)
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s pub/sub: %w", provider, err)
	}

	return eventbus.NewWatermillEventBus(logger, pub, sub), nil
}

func splitBrokers(brokers string) []string {
	var out []string

	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}

	return out
}
