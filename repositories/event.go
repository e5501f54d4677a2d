//go:generate go run go.uber.org/mock/mockgen -source=event.go -destination=../mocks/mock_event_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"peer-chat/domain"

	"github.com/dgraph-io/badger/v4"
)

type IEventRepository interface {
	StoreEvent(room string, evt domain.ChatEvent) error
	GetEvents(room string, cursor *string) ([]domain.ChatEvent, *string, error)
	Count(room string) (int, error)
}

type EventRepository struct {
	db          *badger.DB
	log         *slog.Logger
	limitEvents *int
}

func NewEventRepository(db *badger.DB, log *slog.Logger, limitEvents *int) EventRepository {
	return EventRepository{db: db, log: log, limitEvents: limitEvents}
}

// OpenInMemory opens a Badger instance that lives as long as the process.
func OpenInMemory() (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING))
}

func roomPrefix(room string) string {
	return fmt.Sprintf("evt:%s:", url.QueryEscape(room))
}

// eventKey is "evt:{room}:{lamport}:{participant}:{seq}" with zero padded numbers,
// so that the lexicographic order of the keys is the total order of the log.
// The same event always lands on the same key, storing it twice is harmless.
func eventKey(room string, id domain.EventID, lamport uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s:%020d", roomPrefix(room), lamport, id.Participant, id.Seq))
}

func (r EventRepository) StoreEvent(room string, evt domain.ChatEvent) error {
	bytes, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(room, evt.ID, evt.Lamport), bytes)
	})
}

// GetEvents pages through a room from the newest event to the oldest.
// The returned cursor is handed back to fetch the next, older, page.
func (r EventRepository) GetEvents(room string, cursor *string) ([]domain.ChatEvent, *string, error) {
	var values [][]byte
	var lastKey string
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := roomPrefix(room)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Past every padded lamport, the reverse scan starts on the newest key
			seekKey = append(prefix, 0xff)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[len(prefixStr):]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if r.limitEvents != nil && len(values) == *r.limitEvents {
				r.log.Debug(fmt.Sprintf("Maximum of %d events reached", *r.limitEvents))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	events := make([]domain.ChatEvent, 0, len(values))
	for _, v := range values {
		var evt domain.ChatEvent
		if err = json.Unmarshal(v, &evt); err != nil {
			return nil, nil, err
		}
		events = append(events, evt)
	}
	if len(events) == 0 {
		return events, nil, nil
	}
	return events, &lastKey, nil
}

func (r EventRepository) Count(room string) (int, error) {
	count := 0
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()
		prefix := []byte(roomPrefix(room))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
