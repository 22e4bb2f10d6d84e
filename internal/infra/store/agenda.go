package store

import (
	"context"
	"errors"
	"fmt"

	"agendabot/internal/domain/agenda"
	boterrors "agendabot/internal/shared/errors"
	jsonx "agendabot/internal/shared/json"
)

// AgendaDocument is the document name of the agenda.
const AgendaDocument = "agenda"

type agendaDoc struct {
	Points *[]pointDoc `json:"points"`
}

type pointDoc struct {
	Title string `json:"title"`
	Adder string `json:"adder"`
}

// AgendaStore reads and writes the agenda document.
type AgendaStore struct {
	backend Backend
}

func NewAgendaStore(backend Backend) *AgendaStore {
	return &AgendaStore{backend: backend}
}

// Read loads the agenda. A document that was never written is the empty
// agenda; one that cannot be loaded or parsed is a StoreError.
func (s *AgendaStore) Read(ctx context.Context) (agenda.Agenda, error) {
	data, err := s.backend.Load(ctx, AgendaDocument)
	if errors.Is(err, ErrNotFound) {
		return agenda.Agenda{}, nil
	}
	if err != nil {
		return agenda.Agenda{}, boterrors.NewStoreError("read", AgendaDocument, err)
	}
	var doc agendaDoc
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return agenda.Agenda{}, boterrors.NewStoreError("decode", AgendaDocument, err)
	}
	if doc.Points == nil {
		return agenda.Agenda{}, boterrors.NewStoreError("decode", AgendaDocument, errMissingField("points"))
	}
	if len(*doc.Points) == 0 {
		return agenda.Agenda{}, nil
	}
	points := make([]agenda.Point, len(*doc.Points))
	for i, p := range *doc.Points {
		points[i] = agenda.Point{Title: p.Title, Adder: p.Adder}
	}
	return agenda.Agenda{Points: points}, nil
}

// Write replaces the agenda document with a.
func (s *AgendaStore) Write(ctx context.Context, a agenda.Agenda) error {
	points := make([]pointDoc, len(a.Points))
	for i, p := range a.Points {
		points[i] = pointDoc{Title: p.Title, Adder: p.Adder}
	}
	doc := agendaDoc{Points: &points}
	data, err := jsonx.MarshalIndent(doc, "", "  ")
	if err != nil {
		return boterrors.NewStoreError("encode", AgendaDocument, err)
	}
	if err := s.backend.Save(ctx, AgendaDocument, data); err != nil {
		return boterrors.NewStoreError("write", AgendaDocument, err)
	}
	return nil
}

func errMissingField(name string) error {
	return fmt.Errorf("missing field %q", name)
}
