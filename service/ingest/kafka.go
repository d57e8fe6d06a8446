package ingest

import (
	"context"
	"strconv"
	"time"

	"PPRealtime/global/config"
	"PPRealtime/logger"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Topic is the Kafka topic a kind arrives on.
func Topic(prefix string, k Kind) string { return Subject(prefix, k) }

// NewKafkaConfig builds the consumer group config.
func NewKafkaConfig(c config.KafkaConfig, clientID string) (*sarama.Config, error) {
	conf := sarama.NewConfig()
	conf.Version = sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "kafka version %q", c.Version)
		}
		conf.Version = v
	}
	if clientID != "" {
		conf.ClientID = clientID
	}
	conf.Consumer.Offsets.Initial = sarama.OffsetNewest
	conf.Consumer.Return.Errors = true
	return conf, nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	prefix string
	topics map[string]Kind
	h      HandlerFunc
	log    *zap.Logger
}

func newConsumerGroupHandler(prefix string, h HandlerFunc, l *zap.Logger) *consumerGroupHandler {
	topics := make(map[string]Kind, len(Kinds))
	for _, k := range Kinds {
		topics[Topic(prefix, k)] = k
	}
	return &consumerGroupHandler{prefix: prefix, topics: topics, h: h, log: l}
}

func (g *consumerGroupHandler) Topics() []string {
	out := make([]string, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, Topic(g.prefix, k))
	}
	return out
}

func (g *consumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	g.log.Info("consumer group setup", zap.String("member", s.MemberID()), zap.Int32("generation", s.GenerationID()))
	return nil
}

func (g *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	g.log.Info("consumer group cleanup")
	return nil
}

// ConsumeClaim marks every message, handled or not: commands are
// fire-and-forget and a failed one is not retried.
func (g *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			g.consume(ctx, msg)
			session.MarkMessage(msg, "")
		}
	}
}

func (g *consumerGroupHandler) consume(ctx context.Context, msg *sarama.ConsumerMessage) {
	kind, ok := g.topics[msg.Topic]
	if !ok {
		g.log.Warn("no handler for topic", zap.String("topic", msg.Topic))
		return
	}
	var hdr map[string]string
	if len(msg.Headers) > 0 {
		hdr = make(map[string]string, len(msg.Headers))
		for _, rh := range msg.Headers {
			if rh != nil {
				hdr[string(rh.Key)] = string(rh.Value)
			}
		}
	}
	err := g.h(ctx, Message{
		Source: msg.Topic,
		Kind:   kind,
		Key:    string(msg.Key),
		ID:     deliveryID(msg),
		Data:   msg.Value,
		Header: hdr,
	})
	if err != nil {
		g.log.Error("kafka command failed",
			zap.String("topic", msg.Topic), zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset), zap.Error(err))
	}
}

func deliveryID(msg *sarama.ConsumerMessage) string {
	return msg.Topic + "/" + strconv.Itoa(int(msg.Partition)) + "/" + strconv.FormatInt(msg.Offset, 10)
}

// RunKafka consumes every command topic until ctx is done.
func RunKafka(ctx context.Context, c config.KafkaConfig, clientID string, h HandlerFunc, l *zap.Logger) error {
	l = logger.Named(l, "kafka")
	conf, err := NewKafkaConfig(c, clientID)
	if err != nil {
		return err
	}
	handler := newConsumerGroupHandler(c.TopicPrefix, h, l)
	topics := handler.Topics()

	if c.EnsureTopics {
		admin, err := sarama.NewClusterAdmin(c.Brokers, conf)
		if err != nil {
			return errors.Wrap(err, "kafka cluster admin")
		}
		err = EnsureTopics(admin, topics, c.Partitions, c.ReplicationFactor, l)
		_ = admin.Close()
		if err != nil {
			return err
		}
	}

	group, err := sarama.NewConsumerGroup(c.Brokers, c.GroupId, conf)
	if err != nil {
		return errors.Wrap(err, "kafka consumer group")
	}
	defer func() { _ = group.Close() }()

	go func() {
		for err := range group.Errors() {
			l.Warn("consumer group error", zap.Error(err))
		}
	}()

	l.Info("consuming", zap.Strings("topics", topics), zap.String("group", c.GroupId))
	for ctx.Err() == nil {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			l.Warn("consume", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	return nil
}
