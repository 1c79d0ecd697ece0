package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/bakejoy/api/internal/domain"
	pfirestore "github.com/bakejoy/api/internal/platform/firestore"
	"github.com/bakejoy/api/internal/repositories"
)

const internalNoteCollectionPattern = "orders/%s/internalNotes"

// InternalNoteRepository stores staff annotations in per-order subcollections.
type InternalNoteRepository struct {
	provider *pfirestore.Provider
}

// NewInternalNoteRepository constructs a Firestore-backed internal note repository.
func NewInternalNoteRepository(provider *pfirestore.Provider) (*InternalNoteRepository, error) {
	if provider == nil {
		return nil, errors.New("internal note repository requires firestore provider")
	}
	return &InternalNoteRepository{provider: provider}, nil
}

// Append stores a new note.
func (r *InternalNoteRepository) Append(ctx context.Context, note domain.InternalOrderNote) error {
	coll, err := r.collection(ctx, note.OrderID)
	if err != nil {
		return err
	}
	noteID := strings.TrimSpace(note.ID)
	if noteID == "" {
		return errors.New("internal note repository: note id is required")
	}

	doc := internalNoteDocument{
		Author:    strings.TrimSpace(note.Author),
		Text:      note.Text,
		CreatedAt: note.CreatedAt.UTC(),
	}
	if _, err := coll.Doc(noteID).Create(ctx, doc); err != nil {
		return pfirestore.WrapError("internal_notes.append", err)
	}
	return nil
}

// ListByOrder returns the notes attached to an order, newest first.
func (r *InternalNoteRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.InternalOrderNote, error) {
	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var notes []domain.InternalOrderNote
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("internal_notes.list", err)
		}
		var doc internalNoteDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode internal note %s: %w", snap.Ref.ID, err)
		}
		notes = append(notes, domain.InternalOrderNote{
			ID:        snap.Ref.ID,
			OrderID:   strings.TrimSpace(orderID),
			Author:    doc.Author,
			Text:      doc.Text,
			CreatedAt: doc.CreatedAt,
		})
	}
	return notes, nil
}

func (r *InternalNoteRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("internal note repository not initialised")
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return nil, errors.New("internal note repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(internalNoteCollectionPattern, oid)), nil
}

type internalNoteDocument struct {
	Author    string    `firestore:"author"`
	Text      string    `firestore:"text"`
	CreatedAt time.Time `firestore:"createdAt"`
}

var _ repositories.InternalNoteRepository = (*InternalNoteRepository)(nil)
