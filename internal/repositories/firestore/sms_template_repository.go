package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bakejoy/api/internal/domain"
	pfirestore "github.com/bakejoy/api/internal/platform/firestore"
	"github.com/bakejoy/api/internal/repositories"
)

const smsTemplateCollection = "smsTemplates"

// SMSTemplateRepository stores message templates keyed by the order status
// that triggers them. The trigger doubles as the document ID, so there is at
// most one template per event.
type SMSTemplateRepository struct {
	base     *pfirestore.BaseRepository[smsTemplateDocument]
	provider *pfirestore.Provider
}

// NewSMSTemplateRepository constructs a Firestore-backed template repository.
func NewSMSTemplateRepository(provider *pfirestore.Provider) (*SMSTemplateRepository, error) {
	if provider == nil {
		return nil, errors.New("sms template repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[smsTemplateDocument](provider, smsTemplateCollection)
	return &SMSTemplateRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Upsert writes the template under its trigger key.
func (r *SMSTemplateRepository) Upsert(ctx context.Context, template domain.SMSTemplate) error {
	if r == nil || r.base == nil {
		return errors.New("sms template repository not initialised")
	}
	trigger := strings.TrimSpace(string(template.EventTrigger))
	if trigger == "" {
		return errors.New("sms template repository: event trigger is required")
	}

	doc := smsTemplateDocument{
		Body:        template.Body,
		Description: strings.TrimSpace(template.Description),
		Active:      template.Active,
		CreatedAt:   template.CreatedAt.UTC(),
		UpdatedAt:   template.UpdatedAt.UTC(),
	}
	if _, err := r.base.Set(ctx, trigger, doc); err != nil {
		return err
	}
	return nil
}

// Delete removes the template for the trigger.
func (r *SMSTemplateRepository) Delete(ctx context.Context, trigger domain.OrderStatus) error {
	if r == nil || r.base == nil {
		return errors.New("sms template repository not initialised")
	}
	triggerID := strings.TrimSpace(string(trigger))
	if triggerID == "" {
		return errors.New("sms template repository: event trigger is required")
	}

	docRef, err := r.base.DocumentRef(ctx, triggerID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("sms_templates.delete", err)
	}
	return nil
}

// FindActiveByTrigger returns the template for the trigger only when it is
// enabled. A disabled template surfaces as not found.
func (r *SMSTemplateRepository) FindActiveByTrigger(ctx context.Context, trigger domain.OrderStatus) (domain.SMSTemplate, error) {
	template, err := r.FindByTrigger(ctx, trigger)
	if err != nil {
		return domain.SMSTemplate{}, err
	}
	if !template.Active {
		return domain.SMSTemplate{}, pfirestore.WrapError("sms_templates.find_active",
			status.Error(codes.NotFound, "no active template for trigger"))
	}
	return template, nil
}

// FindByTrigger loads the template for the trigger regardless of state.
func (r *SMSTemplateRepository) FindByTrigger(ctx context.Context, trigger domain.OrderStatus) (domain.SMSTemplate, error) {
	if r == nil || r.base == nil {
		return domain.SMSTemplate{}, errors.New("sms template repository not initialised")
	}
	triggerID := strings.TrimSpace(string(trigger))
	if triggerID == "" {
		return domain.SMSTemplate{}, errors.New("sms template repository: event trigger is required")
	}

	doc, err := r.base.Get(ctx, triggerID)
	if err != nil {
		return domain.SMSTemplate{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns every stored template ordered by trigger.
func (r *SMSTemplateRepository) List(ctx context.Context) ([]domain.SMSTemplate, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("sms template repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	templates := make([]domain.SMSTemplate, 0, len(docs))
	for _, doc := range docs {
		templates = append(templates, doc.Data.toDomain(doc.ID))
	}
	return templates, nil
}

type smsTemplateDocument struct {
	Body        string    `firestore:"body"`
	Description string    `firestore:"description,omitempty"`
	Active      bool      `firestore:"active"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d smsTemplateDocument) toDomain(trigger string) domain.SMSTemplate {
	return domain.SMSTemplate{
		EventTrigger: domain.OrderStatus(trigger),
		Body:         d.Body,
		Description:  d.Description,
		Active:       d.Active,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

var _ repositories.SMSTemplateRepository = (*SMSTemplateRepository)(nil)
