// Package cmd holds shared wiring helpers for the flywheel binaries.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/flywheelhq/flywheel/pkg/channels/gochannel"
	"github.com/flywheelhq/flywheel/pkg/channels/kafka"
	"github.com/flywheelhq/flywheel/pkg/eventbus"
)

// NewEventBus builds the notification bus for the given provider. The kafka
// provider requires a non-empty brokers list; gochannel keeps everything
// in-process and is the default for local runs.
func NewEventBus(provider, brokers, serviceName string, logger *slog.Logger) eventbus.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, brokers, serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("unsupported event bus provider: " + provider)
	}
}
