// Package publish announces completed articles to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// EventArticlePublished is the event type for a stored article.
const EventArticlePublished = "article.published"

// Publisher announces a stored article.
type Publisher interface {
	PublishArticle(ctx context.Context, a *domain.Article) error
	Close() error
}

// Event is the message body sent for each article.
type Event struct {
	Type         string    `json:"type"`
	ArticleID    string    `json:"article_id"`
	JobID        string    `json:"job_id"`
	TrendID      string    `json:"trend_id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Category     string    `json:"category,omitempty"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewEvent builds the event for a.
func NewEvent(a *domain.Article) Event {
	return Event{
		Type:         EventArticlePublished,
		ArticleID:    a.ID,
		JobID:        a.JobID,
		TrendID:      a.TrendID,
		Title:        a.Title,
		Slug:         a.Slug,
		Category:     a.Category,
		QualityScore: a.QualityScore,
		CreatedAt:    a.CreatedAt,
	}
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaPublisher sends article events to a Kafka topic keyed by article ID.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_6_0_0
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) PublishArticle(ctx context.Context, a *domain.Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(NewEvent(a))
	if err != nil {
		return fmt.Errorf("encoding article event: %w", err)
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(a.ID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(EventArticlePublished)},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing article %s: %w", a.ID, err)
	}
	log.Debug().Str("article_id", a.ID).Int32("partition", partition).Int64("offset", offset).Msg("Published article event")
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}

// Noop discards events.
type Noop struct{}

func (Noop) PublishArticle(context.Context, *domain.Article) error {
	return nil
}

func (Noop) Close() error {
	return nil
}
