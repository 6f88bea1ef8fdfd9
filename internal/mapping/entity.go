package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crossmedia/fourallportal/internal/model"
	"github.com/crossmedia/fourallportal/internal/store"
)

// EntityStore is the part of the event store EntityMapper writes to.
type EntityStore interface {
	UpsertEntity(ctx context.Context, e store.Entity) (bool, error)
	DeleteEntity(ctx context.Context, moduleID int64, target string) (bool, error)
}

// EntityMapper mirrors remote objects into the entities table, one row per
// (module, target). It is the default dynamic mapper.
type EntityMapper struct {
	store  EntityStore
	logger *slog.Logger
}

// NewEntityMapper creates an entity mapper. A nil logger discards output.
func NewEntityMapper(s EntityStore, logger *slog.Logger) *EntityMapper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EntityMapper{store: s, logger: logger.With("component", "mapping")}
}

// Apply implements Mapper.
func (m *EntityMapper) Apply(ctx context.Context, module model.Module, ev model.Event) error {
	switch ev.Action {
	case model.ActionCreate, model.ActionUpdate:
		return m.upsert(ctx, module, ev)
	case model.ActionDelete:
		existed, err := m.store.DeleteEntity(ctx, module.ID, ev.Target)
		if err != nil {
			return storeError(err)
		}
		if !existed {
			m.logger.Debug("delete of unknown entity", "module", module.ModuleName, "target", ev.Target)
		}
		return nil
	default:
		return fmt.Errorf("event %d: unsupported action %q", ev.RemoteID, ev.Action)
	}
}

func (m *EntityMapper) upsert(ctx context.Context, module model.Module, ev model.Event) error {
	if len(ev.Payload) == 0 && ev.PayloadRef == "" {
		return fmt.Errorf("event %d: neither payload nor payload_ref", ev.RemoteID)
	}

	var payload []byte
	if len(ev.Payload) > 0 {
		var err error
		payload, err = CanonicalPayload(ev.Payload)
		if err != nil {
			return fmt.Errorf("event %d: %w", ev.RemoteID, err)
		}
	}
	hash, err := PayloadHash(ev.PayloadRef, payload)
	if err != nil {
		return fmt.Errorf("event %d: %w", ev.RemoteID, err)
	}

	changed, err := m.store.UpsertEntity(ctx, store.Entity{
		ModuleID:    module.ID,
		Target:      ev.Target,
		PayloadRef:  ev.PayloadRef,
		Payload:     string(payload),
		PayloadHash: hash,
	})
	if err != nil {
		return storeError(err)
	}
	m.logger.Debug("entity upsert", "module", module.ModuleName, "target", ev.Target, "changed", changed)
	return nil
}

// storeError marks database outages fatal so the run stops instead of
// failing every remaining event.
func storeError(err error) error {
	if store.IsUnavailable(err) {
		return model.Fatal(err)
	}
	return err
}
