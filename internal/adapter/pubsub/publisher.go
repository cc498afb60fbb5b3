package pubsub

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/im-chat-delivery/config"
)

const queueSuffix = "im-chat-delivery"

// Provider owns the bus connections of the process. Without a broker URL both sides
// share one in-process channel.
type Provider struct {
	backend    string
	publisher  message.Publisher
	subscriber message.Subscriber
}

func NewProvider(cfg *config.Config, logger watermill.LoggerAdapter) (*Provider, error) {
	if cfg.Pubsub.AMQPURL == "" {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return &Provider{backend: "gochannel", publisher: ch, subscriber: ch}, nil
	}

	amqpCfg := amqp.NewDurablePubSubConfig(cfg.Pubsub.AMQPURL, amqp.GenerateQueueNameTopicNameWithSuffix(queueSuffix))

	pub, err := amqp.NewPublisher(amqpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(amqpCfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("amqp subscriber: %w", err)
	}

	return &Provider{backend: "amqp", publisher: pub, subscriber: sub}, nil
}

func (p *Provider) Backend() string                { return p.backend }
func (p *Provider) Publisher() message.Publisher   { return p.publisher }
func (p *Provider) Subscriber() message.Subscriber { return p.subscriber }

func (p *Provider) Close() error {
	if p.backend == "gochannel" {
		return p.publisher.Close()
	}
	return errors.Join(p.subscriber.Close(), p.publisher.Close())
}
