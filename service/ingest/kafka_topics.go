package ingest

import (
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TopicAdmin is the part of sarama.ClusterAdmin used to prepare topics.
type TopicAdmin interface {
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
}

// EnsureTopics creates every topic in topics that does not exist yet.
// Existing topics are left untouched, partition count included.
func EnsureTopics(admin TopicAdmin, topics []string, partitions int32, rf int16, l *zap.Logger) error {
	if partitions <= 0 {
		partitions = 1
	}
	if rf <= 0 {
		rf = 1
	}
	minISR := "1"
	if rf >= 3 {
		minISR = "2"
	}

	for _, t := range topics {
		desc, err := admin.DescribeTopics([]string{t})
		if err == nil && len(desc) == 1 && desc[0].Err == sarama.ErrNoError {
			l.Debug("topic exists", zap.String("topic", t), zap.Int("partitions", len(desc[0].Partitions)))
			continue
		}
		td := &sarama.TopicDetail{
			NumPartitions:     partitions,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			var te *sarama.TopicError
			if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
				// another gateway won the race
				continue
			}
			if errors.Is(err, sarama.ErrTopicAlreadyExists) {
				continue
			}
			return errors.Wrapf(err, "create topic %s", t)
		}
		l.Info("topic created", zap.String("topic", t),
			zap.Int32("partitions", partitions), zap.Int16("replication_factor", rf))
	}
	return nil
}

func strPtr(s string) *string { return &s }
