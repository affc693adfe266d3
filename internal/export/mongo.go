package export

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// upserter is the slice of *mongo.Collection the archive uses.
type upserter interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// MongoArchive keeps one document per recording, keyed by audio_id
type MongoArchive struct {
	client     *mongo.Client
	collection upserter
	now        func() time.Time
}

// ArchiveDocument is the stored shape of a composite view.
type ArchiveDocument struct {
	AudioID            int64             `bson:"audio_id"`
	Filename           string            `bson:"filename"`
	Status             string            `bson:"status"`
	ErrorMessage       *string           `bson:"error_message,omitempty"`
	ProcessingComplete bool              `bson:"processing_complete"`
	Language           *string           `bson:"language,omitempty"`
	FullText           string            `bson:"full_text,omitempty"`
	WordCount          int               `bson:"word_count"`
	Sentiment          string            `bson:"sentiment,omitempty"`
	SentimentScore     float64           `bson:"sentiment_confidence,omitempty"`
	Entities           []ArchiveEntity   `bson:"entities"`
	EntityCounts       map[string]int    `bson:"entity_counts"`
	Summary            string            `bson:"summary,omitempty"`
	KeyPhrases         []string          `bson:"key_phrases"`
	ActionItems        []string          `bson:"action_items,omitempty"`
	Topics             []string          `bson:"topics,omitempty"`
	Failures           map[string]string `bson:"failures,omitempty"`
	ProcessedAt        *time.Time        `bson:"processed_at,omitempty"`
	ArchivedAt         time.Time         `bson:"archived_at"`
}

// ArchiveEntity is one entity inside an ArchiveDocument
type ArchiveEntity struct {
	Text  string `bson:"text"`
	Label string `bson:"label"`
}

// NewMongoArchive connects to MongoDB and verifies the connection.
func NewMongoArchive(ctx context.Context, uri, database, collection string) (*MongoArchive, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoArchive{
		client:     client,
		collection: client.Database(database).Collection(collection),
		now:        time.Now,
	}, nil
}

// Name implements Exporter.
func (m *MongoArchive) Name() string { return "mongo" }

// Export implements Exporter by upserting the view's document.
func (m *MongoArchive) Export(ctx context.Context, view *analysis.CompositeView) error {
	doc := NewArchiveDocument(view, m.now())
	filter := bson.M{"audio_id": doc.AudioID}
	update := bson.M{"$set": doc}
	if _, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("archive audio %d: %w", doc.AudioID, err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (m *MongoArchive) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// NewArchiveDocument flattens a composite view for storage.
func NewArchiveDocument(view *analysis.CompositeView, now time.Time) ArchiveDocument {
	doc := ArchiveDocument{
		AudioID:            view.Audio.ID,
		Filename:           view.Audio.OriginalFilename,
		Status:             string(view.Audio.Status),
		ErrorMessage:       view.Audio.ErrorMessage,
		ProcessingComplete: view.ProcessingComplete,
		Entities:           []ArchiveEntity{},
		EntityCounts:       map[string]int{},
		KeyPhrases:         []string{},
		ProcessedAt:        view.Audio.ProcessedAt,
		ArchivedAt:         now.UTC(),
	}
	if t := view.Transcript; t != nil {
		doc.Language = t.Language
		doc.FullText = t.FullText
		doc.WordCount = t.WordCount
	}
	if s := view.Sentiment; s != nil {
		doc.Sentiment = string(s.OverallSentiment)
		doc.SentimentScore = s.Confidence
	}
	if e := view.Entities; e != nil {
		for _, ent := range e.Entities {
			doc.Entities = append(doc.Entities, ArchiveEntity{Text: ent.Text, Label: ent.Label})
		}
		doc.EntityCounts = types.CountLabels(e.Entities)
	}
	if s := view.Summary; s != nil {
		doc.Summary = s.Summary
		if s.KeyPhrases != nil {
			doc.KeyPhrases = s.KeyPhrases
		}
		doc.ActionItems = s.ActionItems
		doc.Topics = s.Topics
	}
	if len(view.Failures) > 0 {
		doc.Failures = make(map[string]string, len(view.Failures))
		for k, v := range view.Failures {
			doc.Failures[string(k)] = v
		}
	}
	return doc
}
