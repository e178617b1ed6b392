package sqlstore

import (
	"strings"

	"github.com/google/uuid"
	repository "github.com/goliatone/go-repository-bun"
)

// keyedRecord is a model whose primary key is a UUID stored as text.
type keyedRecord[T any] interface {
	*T
	key() string
	setKey(id string)
}

func (r *connectedAppRecord) key() string     { return r.ID }
func (r *connectedAppRecord) setKey(id string) { r.ID = id }
func (r *reminderRecord) key() string         { return r.ID }
func (r *reminderRecord) setKey(id string)    { r.ID = id }

// keyedHandlers builds the repository handlers shared by every table keyed
// by a text UUID in its "id" column.
func keyedHandlers[T any, P keyedRecord[T]]() repository.ModelHandlers[P] {
	return repository.ModelHandlers[P]{
		NewRecord: func() P { return P(new(T)) },
		GetID: func(record P) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			parsed, err := uuid.Parse(strings.TrimSpace(record.key()))
			if err != nil {
				return uuid.Nil
			}
			return parsed
		},
		SetID: func(record P, id uuid.UUID) {
			if record != nil {
				record.setKey(id.String())
			}
		},
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record P) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.key())
		},
	}
}
