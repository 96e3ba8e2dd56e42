// Package kafka connects the event bus to a Kafka cluster so several
// engine workers can share one run event stream.
package kafka

import (
	"fmt"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

// BrokersEnv lists the bootstrap brokers as a comma separated host:port
// list.
const BrokersEnv = "FLOWMOD_KAFKA_BROKERS"

const clientPrefix = "flowmod-"

// CreateChannel connects a publisher and a consumer-group subscriber to the
// brokers listed in BrokersEnv. Workers sharing a service name split the
// event stream between them; distinct service names each see every event.
func CreateChannel(logger watermill.LoggerAdapter, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers, err := ParseBrokers(os.Getenv(BrokersEnv))
	if err != nil {
		return nil, nil, err
	}

	subscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	subscriberConfig.ClientID = clientPrefix + serviceName
	subscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: subscriberConfig,
			ConsumerGroup:         ConsumerGroup(serviceName),
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	publisherConfig := sarama.NewConfig()
	publisherConfig.ClientID = clientPrefix + serviceName
	publisherConfig.Producer.Return.Successes = true

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: publisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	return publisher, subscriber, nil
}

// ConsumerGroup derives the consumer group name for one engine service.
func ConsumerGroup(serviceName string) string {
	return clientPrefix + serviceName + "-events"
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(raw string) ([]string, error) {
	var brokers []string

	for _, broker := range strings.Split(raw, ",") {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			brokers = append(brokers, broker)
		}
	}

	if len(brokers) == 0 {
		return nil, fmt.Errorf("%s environment variable is not set or empty", BrokersEnv)
	}

	return brokers, nil
}
