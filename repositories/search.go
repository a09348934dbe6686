package repositories

import (
	"context"
	"log/slog"

	"github.com/abadojack/whatlanggo"
	"github.com/blugelabs/bluge"
	"github.com/google/uuid"

	"agora/domain"
)

type ISearchRepository interface {
	Index(message domain.Message) error
	Search(ctx context.Context, chatID uuid.UUID, terms string, limit int) ([]SearchHit, error)
}

// SearchRepository maintains a Bluge full-text index over the message
// log. The index is a projection: the badger log stays the source of
// truth, and a lost index can be rebuilt from it.
type SearchRepository struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewSearchRepository(writer *bluge.Writer, log *slog.Logger) SearchRepository {
	return SearchRepository{writer: writer, log: log}
}

type SearchHit struct {
	MessageID uuid.UUID
	Score     float64
}

// Index upserts one message document. The detected content language is
// stored as a facet so operators can filter multilingual chats.
func (r SearchRepository) Index(message domain.Message) error {
	info := whatlanggo.Detect(message.Content)
	lang := whatlanggo.LangToString(info.Lang)

	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewKeywordField("chat_id", message.ChatID.String())).
		AddField(bluge.NewKeywordField("sender_id", message.SenderID.String())).
		AddField(bluge.NewTextField("content", message.Content)).
		AddField(bluge.NewKeywordField("lang", lang)).
		AddField(bluge.NewNumericField("seq", float64(message.Seq))).
		AddField(bluge.NewDateTimeField("sent_at", message.SentAt))

	return r.writer.Update(doc.ID(), doc)
}

// Search matches content terms within a single chat, best score first.
func (r SearchRepository) Search(ctx context.Context, chatID uuid.UUID,
	terms string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	reader, err := r.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(terms).SetField("content")).
		AddMust(bluge.NewTermQuery(chatID.String()).SetField("chat_id"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	match, err := iterator.Next()
	for err == nil && match != nil {
		hit := SearchHit{Score: match.Score}
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				if id, parseErr := uuid.Parse(string(value)); parseErr == nil {
					hit.MessageID = id
				}
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		if hit.MessageID != uuid.Nil {
			hits = append(hits, hit)
		}
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}
