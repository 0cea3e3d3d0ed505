package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"ticket-pass/internal/status"
	"ticket-pass/models"
	"ticket-pass/utils"
)

// PassesCollection holds one record per issued ticket pass.
const PassesCollection = "ticket_passes"

type PassRegistry interface {
	Create(ctx context.Context, pass models.TicketPass) error
	Get(ctx context.Context, ticketID string) (models.TicketPass, error)
	GetByHint(ctx context.Context, hint string) (models.TicketPass, error)
}

// NewPassesCollection describes the ticket_passes collection. The base
// secret is only ever stored sealed. lookup_hint is what envelopes carry.
func NewPassesCollection() *core.Collection {
	collection := core.NewBaseCollection(PassesCollection)
	collection.Fields.Add(
		&core.TextField{Name: "ticket_id", Required: true, Max: 64},
		&core.TextField{Name: "event_id", Required: true},
		&core.TextField{Name: "event_name"},
		&core.TextField{Name: "date"},
		&core.TextField{Name: "seat"},
		&core.TextField{Name: "holder_id"},
		&core.NumberField{Name: "quantity", OnlyInt: true},
		&core.TextField{Name: "sealed_secret", Required: true, Hidden: true},
		&core.TextField{Name: "lookup_hint", Required: true, Hidden: true, Max: 64},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	collection.AddIndex("idx_ticket_passes_ticket_id", true, "ticket_id", "")
	collection.AddIndex("idx_ticket_passes_lookup_hint", true, "lookup_hint", "")
	collection.AddIndex("idx_ticket_passes_event_id", false, "event_id", "")
	return collection
}

type PocketBaseRegistry struct {
	app    core.App
	sealer SecretSealer
}

func NewPocketBaseRegistry(app core.App, sealer SecretSealer) *PocketBaseRegistry {
	return &PocketBaseRegistry{app: app, sealer: sealer}
}

func (r *PocketBaseRegistry) find(ticketID string) (*core.Record, error) {
	return r.findBy("ticket_id", ticketID)
}

func (r *PocketBaseRegistry) findBy(field, value string) (*core.Record, error) {
	if value == "" {
		return nil, status.ErrPassNotFound
	}
	record, err := r.app.FindFirstRecordByFilter(
		PassesCollection,
		field+" = {:value}",
		dbx.Params{"value": value},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrPassNotFound
	}
	return record, err
}

func (r *PocketBaseRegistry) Create(ctx context.Context, pass models.TicketPass) error {
	if err := pass.Descriptor.Validate(); err != nil {
		return err
	}
	if _, err := r.find(pass.Descriptor.TicketID); err == nil {
		return fmt.Errorf("%w: %s", status.ErrPassExists, pass.Descriptor.TicketID)
	} else if !errors.Is(err, status.ErrPassNotFound) {
		return err
	}

	collection, err := r.app.FindCachedCollectionByNameOrId(PassesCollection)
	if err != nil {
		return err
	}
	sealed, err := r.sealer.Seal(pass.BaseSecret)
	if err != nil {
		return err
	}

	d := pass.Descriptor
	record := core.NewRecord(collection)
	record.Set("ticket_id", d.TicketID)
	record.Set("event_id", d.EventID)
	record.Set("event_name", d.EventName)
	record.Set("date", d.Date)
	record.Set("seat", d.Seat)
	record.Set("holder_id", d.HolderID)
	record.Set("quantity", d.Quantity)
	record.Set("sealed_secret", sealed)
	hint := pass.LookupHint
	if hint == "" {
		hint = utils.GenerateLookupHint()
	}
	record.Set("lookup_hint", hint)

	return r.app.SaveWithContext(ctx, record)
}

func (r *PocketBaseRegistry) Get(ctx context.Context, ticketID string) (models.TicketPass, error) {
	record, err := r.find(ticketID)
	if err != nil {
		return models.TicketPass{}, err
	}
	return r.fromRecord(record)
}

// GetByHint resolves the lookup hint carried by a scanned envelope.
func (r *PocketBaseRegistry) GetByHint(ctx context.Context, hint string) (models.TicketPass, error) {
	record, err := r.findBy("lookup_hint", hint)
	if err != nil {
		return models.TicketPass{}, err
	}
	return r.fromRecord(record)
}

func (r *PocketBaseRegistry) fromRecord(record *core.Record) (models.TicketPass, error) {
	secret, err := r.sealer.Open(record.GetString("sealed_secret"))
	if err != nil {
		return models.TicketPass{}, err
	}

	return models.TicketPass{
		Descriptor: models.TicketDescriptor{
			TicketID:  record.GetString("ticket_id"),
			EventID:   record.GetString("event_id"),
			EventName: record.GetString("event_name"),
			Date:      record.GetString("date"),
			Seat:      record.GetString("seat"),
			HolderID:  record.GetString("holder_id"),
			Quantity:  record.GetInt("quantity"),
		},
		BaseSecret: secret,
		LookupHint: record.GetString("lookup_hint"),
		CreatedAt:  record.GetDateTime("created").Time(),
	}, nil
}
