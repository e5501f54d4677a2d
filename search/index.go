// Package search keeps a full-text index of the chat events of a room.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"peer-chat/domain"
	query "peer-chat/domain/search"
	"strconv"
	"strings"
	"sync"

	"github.com/blugelabs/bluge"
)

const (
	fieldContent = "content"
	fieldAuthor  = "author"
	fieldDisplay = "author_display"
	fieldKind    = "kind"
	fieldLamport = "lamport"

	defaultLimit = 10
)

type Hit struct {
	ID      domain.EventID
	Author  string
	Kind    domain.Kind
	Content string
	Lamport uint64
	Score   float64
}

// Index is an in-memory bluge index. Only text and system events are indexed.
type Index struct {
	log    *slog.Logger
	mu     sync.Mutex
	writer *bluge.Writer
}

func NewIndex(log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}
	return &Index{log: log, writer: writer}, nil
}

func (i *Index) Consume(ctx context.Context, e domain.ChatEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Kind != domain.KindText && e.Kind != domain.KindSystem {
		return nil
	}

	doc := bluge.NewDocument(e.ID.String()).
		AddField(bluge.NewTextField(fieldContent, e.Text()).StoreValue()).
		AddField(bluge.NewKeywordField(fieldAuthor, strings.ToLower(e.Author))).
		AddField(bluge.NewStoredOnlyField(fieldDisplay, []byte(e.Author))).
		AddField(bluge.NewKeywordField(fieldKind, string(e.Kind)).StoreValue()).
		AddField(bluge.NewNumericField(fieldLamport, float64(e.Lamport)).StoreValue().Sortable())

	i.mu.Lock()
	defer i.mu.Unlock()
	// Update on the event id keeps a replayed event from being indexed twice
	return i.writer.Update(doc.ID(), doc)
}

// Search returns the best hits, newest first. An empty query matches everything.
func (i *Index) Search(ctx context.Context, q *query.Query) ([]Hit, error) {
	i.mu.Lock()
	reader, err := i.writer.Reader()
	i.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("opening search reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	request := bluge.NewTopNSearch(limit, buildQuery(q)).SortBy([]string{"-" + fieldLamport})
	matches, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	match, err := matches.Next()
	for err == nil && match != nil {
		hit := Hit{Score: match.Score}
		var visitErr error
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.ID, visitErr = domain.ParseEventID(string(value))
			case fieldContent:
				hit.Content = string(value)
			case fieldDisplay:
				hit.Author = string(value)
			case fieldKind:
				hit.Kind = domain.Kind(value)
			case fieldLamport:
				lamport, decodeErr := bluge.DecodeNumericFloat64(value)
				if decodeErr == nil {
					hit.Lamport = uint64(lamport)
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if visitErr != nil {
			i.log.Warn("Skipping hit with malformed id", "error", visitErr)
		} else {
			hits = append(hits, hit)
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	i.log.Debug("Search done", "terms", q.Terms, "author", q.Author, "hits", len(hits))
	return hits, nil
}

func buildQuery(q *query.Query) bluge.Query {
	if q.IsEmpty() && q.Kind == "" {
		return bluge.NewMatchAllQuery()
	}
	boolean := bluge.NewBooleanQuery()
	if q.Terms != "" {
		boolean.AddMust(bluge.NewMatchQuery(q.Terms).
			SetField(fieldContent).
			SetOperator(bluge.MatchQueryOperatorAnd))
	}
	if q.Author != "" {
		boolean.AddMust(bluge.NewTermQuery(strings.ToLower(q.Author)).SetField(fieldAuthor))
	}
	if q.Kind != "" {
		boolean.AddMust(bluge.NewTermQuery(q.Kind).SetField(fieldKind))
	}
	if q.Terms == "" {
		boolean.AddMust(bluge.NewMatchAllQuery())
	}
	return boolean
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.writer.Close()
}

func (h Hit) String() string {
	return h.Author + " #" + strconv.FormatUint(h.Lamport, 10) + ": " + h.Content
}
