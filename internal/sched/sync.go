package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/slatebook/slatebook/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BookUpsert is one pushed book row.
type BookUpsert struct {
	ID                string
	Name              string
	CreatedAtSeconds  int64
	ArchivedAtSeconds *int64
	Version           *int64
}

// EventUpsert is one pushed event row, reschedule chain links included.
type EventUpsert struct {
	ID              string
	BookID          string
	StartSeconds    int64
	EndSeconds      *int64
	PersonName      string
	RecordNumber    string
	EventTypesJSON  string
	IsRemoved       bool
	RemovalReason   *string
	OriginalEventID *string
	NewEventID      *string
	Version         *int64
}

// ChargeItemUpsert is one pushed charge item row.
type ChargeItemUpsert struct {
	ID           string
	PersonName   string
	RecordNumber string
	ItemName     string
	Quantity     int64
	IsDeleted    bool
	Version      *int64
}

// PersonRecordUpsert is one pushed person info row.
type PersonRecordUpsert struct {
	ID           string
	PersonName   string
	RecordNumber string
	Memo         string
	IsDeleted    bool
	Version      *int64
}

// SyncOutcome reports one item of a push. Rejected items carry the
// authoritative version and a serialized server copy so the client can
// surface the conflict without another fetch.
type SyncOutcome struct {
	EntityID      string
	Accepted      bool
	ServerVersion int64
	ServerData    string
}

// SyncBooks applies pushed book rows one at a time inside a single
// transaction. Version mismatches reject the item, not the request; a book
// owned by another device rejects the whole request.
func (s *Service) SyncBooks(ctx context.Context, deviceID string, items []BookUpsert) ([]SyncOutcome, error) {
	outcomes := make([]SyncOutcome, 0, len(items))
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			if item.ID == "" || item.Name == "" {
				return fmt.Errorf("%w: book item missing id or name", ErrValidation)
			}

			var existing Book
			exists := true
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", item.ID).Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				exists = false
			} else if err != nil {
				return newServiceError(opSyncBooks, "select_failed", err)
			}
			if exists && existing.OwnerDeviceID != deviceID {
				return ErrForbidden
			}

			nextVersion, ok := resolveUpsert(existing.Version, exists, item.Version)
			if !ok {
				outcomes = append(outcomes, rejectedOutcome(item.ID, existing.Version, existing))
				continue
			}

			now := s.clock().UTC().Unix()
			prevVersion := auditPrev(exists, existing.Version)
			existing.ID = item.ID
			existing.Name = item.Name
			existing.ArchivedAtSeconds = item.ArchivedAtSeconds
			existing.Version = nextVersion
			existing.UpdatedAtSeconds = now
			if !exists {
				existing.OwnerDeviceID = deviceID
				existing.CreatedAtSeconds = item.CreatedAtSeconds
				if existing.CreatedAtSeconds == 0 {
					existing.CreatedAtSeconds = now
				}
			}
			if err := tx.Save(&existing).Error; err != nil {
				return newServiceError(opSyncBooks, "save_failed", err)
			}
			if err := s.writeAudit(tx, deviceID, "book", item.ID, "upsert", prevVersion, nextVersion); err != nil {
				return newServiceError(opSyncBooks, "audit_insert_failed", err)
			}
			outcomes = append(outcomes, SyncOutcome{EntityID: item.ID, Accepted: true, ServerVersion: nextVersion})
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return outcomes, nil
}

// SyncEvents applies pushed event rows under the same contract as
// SyncBooks. The person key columns are recomputed server-side so sharing
// boundaries never depend on client normalization.
func (s *Service) SyncEvents(ctx context.Context, deviceID string, items []EventUpsert) ([]SyncOutcome, error) {
	outcomes := make([]SyncOutcome, 0, len(items))
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			if item.ID == "" || item.BookID == "" {
				return fmt.Errorf("%w: event item missing id or book id", ErrValidation)
			}
			if err := s.ownsBook(tx, deviceID, item.BookID); err != nil {
				return err
			}

			var existing Event
			exists := true
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", item.ID).Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				exists = false
			} else if err != nil {
				return newServiceError(opSyncEvents, "select_failed", err)
			}
			if exists && existing.BookID != item.BookID {
				return fmt.Errorf("%w: event %s not in book %s", ErrValidation, item.ID, item.BookID)
			}

			nextVersion, ok := resolveUpsert(existing.Version, exists, item.Version)
			if !ok {
				outcomes = append(outcomes, rejectedOutcome(item.ID, existing.Version, existing))
				continue
			}

			key := model.NormalizePersonKey(item.PersonName, item.RecordNumber)
			prevVersion := auditPrev(exists, existing.Version)
			existing = Event{
				ID:               item.ID,
				BookID:           item.BookID,
				StartSeconds:     item.StartSeconds,
				EndSeconds:       item.EndSeconds,
				PersonName:       item.PersonName,
				RecordNumber:     item.RecordNumber,
				PersonNameNorm:   key.Name,
				RecordNumberNorm: key.RecordNumber,
				EventTypesJSON:   item.EventTypesJSON,
				IsRemoved:        item.IsRemoved,
				RemovalReason:    item.RemovalReason,
				OriginalEventID:  item.OriginalEventID,
				NewEventID:       item.NewEventID,
				Version:          nextVersion,
				UpdatedAtSeconds: s.clock().UTC().Unix(),
			}
			if existing.EventTypesJSON == "" {
				existing.EventTypesJSON = "[]"
			}
			if err := tx.Save(&existing).Error; err != nil {
				return newServiceError(opSyncEvents, "save_failed", err)
			}
			if err := s.writeAudit(tx, deviceID, "event", item.ID, "upsert", prevVersion, nextVersion); err != nil {
				return newServiceError(opSyncEvents, "audit_insert_failed", err)
			}
			outcomes = append(outcomes, SyncOutcome{EntityID: item.ID, Accepted: true, ServerVersion: nextVersion})
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return outcomes, nil
}

// SyncPersons applies pushed charge items and person records. Rows are
// addressed by id; the composite person-key constraints stay enforced by
// the schema.
func (s *Service) SyncPersons(ctx context.Context, deviceID string, chargeItems []ChargeItemUpsert, records []PersonRecordUpsert) ([]SyncOutcome, []SyncOutcome, error) {
	chargeOutcomes := make([]SyncOutcome, 0, len(chargeItems))
	recordOutcomes := make([]SyncOutcome, 0, len(records))

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range chargeItems {
			if item.ID == "" || item.ItemName == "" {
				return fmt.Errorf("%w: charge item missing id or item name", ErrValidation)
			}

			var existing ChargeItem
			exists := true
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", item.ID).Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				exists = false
			} else if err != nil {
				return newServiceError(opSyncPersons, "charge_select_failed", err)
			}

			nextVersion, ok := resolveUpsert(existing.Version, exists, item.Version)
			if !ok {
				chargeOutcomes = append(chargeOutcomes, rejectedOutcome(item.ID, existing.Version, existing))
				continue
			}

			key := model.NormalizePersonKey(item.PersonName, item.RecordNumber)
			prevVersion := auditPrev(exists, existing.Version)
			existing = ChargeItem{
				ID:               item.ID,
				PersonNameNorm:   key.Name,
				RecordNumberNorm: key.RecordNumber,
				ItemName:         item.ItemName,
				Quantity:         item.Quantity,
				IsDeleted:        item.IsDeleted,
				Version:          nextVersion,
				UpdatedAtSeconds: s.clock().UTC().Unix(),
			}
			if err := tx.Save(&existing).Error; err != nil {
				return newServiceError(opSyncPersons, "charge_save_failed", err)
			}
			if err := s.writeAudit(tx, deviceID, "charge_item", item.ID, "upsert", prevVersion, nextVersion); err != nil {
				return newServiceError(opSyncPersons, "audit_insert_failed", err)
			}
			chargeOutcomes = append(chargeOutcomes, SyncOutcome{EntityID: item.ID, Accepted: true, ServerVersion: nextVersion})
		}

		for _, item := range records {
			if item.ID == "" || item.PersonName == "" {
				return fmt.Errorf("%w: person record missing id or name", ErrValidation)
			}

			var existing PersonRecord
			exists := true
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", item.ID).Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				exists = false
			} else if err != nil {
				return newServiceError(opSyncPersons, "record_select_failed", err)
			}

			nextVersion, ok := resolveUpsert(existing.Version, exists, item.Version)
			if !ok {
				recordOutcomes = append(recordOutcomes, rejectedOutcome(item.ID, existing.Version, existing))
				continue
			}

			key := model.NormalizePersonKey(item.PersonName, item.RecordNumber)
			prevVersion := auditPrev(exists, existing.Version)
			existing = PersonRecord{
				ID:               item.ID,
				PersonNameNorm:   key.Name,
				RecordNumberNorm: key.RecordNumber,
				PersonName:       item.PersonName,
				RecordNumber:     item.RecordNumber,
				Memo:             item.Memo,
				IsDeleted:        item.IsDeleted,
				Version:          nextVersion,
				UpdatedAtSeconds: s.clock().UTC().Unix(),
			}
			if err := tx.Save(&existing).Error; err != nil {
				return newServiceError(opSyncPersons, "record_save_failed", err)
			}
			if err := s.writeAudit(tx, deviceID, "person_record", item.ID, "upsert", prevVersion, nextVersion); err != nil {
				return newServiceError(opSyncPersons, "audit_insert_failed", err)
			}
			recordOutcomes = append(recordOutcomes, SyncOutcome{EntityID: item.ID, Accepted: true, ServerVersion: nextVersion})
		}
		return nil
	})
	if txErr != nil {
		return nil, nil, txErr
	}
	return chargeOutcomes, recordOutcomes, nil
}

func rejectedOutcome(id string, serverVersion int64, serverRow any) SyncOutcome {
	data := ""
	if encoded, err := json.Marshal(serverRow); err == nil {
		data = string(encoded)
	}
	return SyncOutcome{EntityID: id, Accepted: false, ServerVersion: serverVersion, ServerData: data}
}

func auditPrev(exists bool, version int64) *int64 {
	if !exists {
		return nil
	}
	return pointerTo(version)
}
