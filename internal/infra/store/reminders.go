package store

import (
	"context"
	"errors"
	"time"

	"agendabot/internal/domain/reminder"
	boterrors "agendabot/internal/shared/errors"
	jsonx "agendabot/internal/shared/json"
)

// RemindersDocument is the document name of the reminder records.
const RemindersDocument = "reminders"

type remindersDoc struct {
	Reminders *[]recordDoc `json:"reminders"`
}

type recordDoc struct {
	ReminderType reminder.Type `json:"reminder_type"`
	LastFire     time.Time     `json:"last_fire"`
}

// ReminderStore reads and writes the reminder records.
type ReminderStore struct {
	backend Backend
	now     func() time.Time
}

// NewReminderStore builds a store; now seeds first-ever reads and defaults
// to time.Now.
func NewReminderStore(backend Backend, now func() time.Time) *ReminderStore {
	if now == nil {
		now = time.Now
	}
	return &ReminderStore{backend: backend, now: now}
}

// Read loads the records. When the document was never written it returns
// one record per firing reminder type, last fired now.
func (s *ReminderStore) Read(ctx context.Context) ([]reminder.Record, error) {
	data, err := s.backend.Load(ctx, RemindersDocument)
	if errors.Is(err, ErrNotFound) {
		return reminder.DefaultRecords(s.now()), nil
	}
	if err != nil {
		return nil, boterrors.NewStoreError("read", RemindersDocument, err)
	}
	var doc remindersDoc
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return nil, boterrors.NewStoreError("decode", RemindersDocument, err)
	}
	if doc.Reminders == nil {
		return nil, boterrors.NewStoreError("decode", RemindersDocument, errMissingField("reminders"))
	}
	records := make([]reminder.Record, len(*doc.Reminders))
	for i, r := range *doc.Reminders {
		records[i] = reminder.Record{Type: r.ReminderType, LastFire: r.LastFire}
	}
	return records, nil
}

// Write replaces the reminder document with records.
func (s *ReminderStore) Write(ctx context.Context, records []reminder.Record) error {
	out := make([]recordDoc, len(records))
	for i, r := range records {
		out[i] = recordDoc{ReminderType: r.Type, LastFire: r.LastFire}
	}
	doc := remindersDoc{Reminders: &out}
	data, err := jsonx.MarshalIndent(doc, "", "  ")
	if err != nil {
		return boterrors.NewStoreError("encode", RemindersDocument, err)
	}
	if err := s.backend.Save(ctx, RemindersDocument, data); err != nil {
		return boterrors.NewStoreError("write", RemindersDocument, err)
	}
	return nil
}
