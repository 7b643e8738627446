package reconciler

import (
	"context"
	"fmt"

	"github.com/olcf/harmony/pkg/config"
	"github.com/olcf/harmony/pkg/store"
)

// Setup seeds the event type and check code catalogs the reconciler
// validates against. It is safe to run on every start.
func Setup(ctx context.Context, st store.Store, cfg *config.ReconcilerConfig) error {
	types := make([]store.EventType, 0, len(cfg.EventTypes))
	for _, et := range cfg.EventTypes {
		types = append(types, store.EventType{Code: et.Code, Name: et.Name})
	}

	if err := st.SeedEventTypes(ctx, types); err != nil {
		return fmt.Errorf("seeding event types: %w", err)
	}

	codes := make([]store.CheckCode, 0, len(cfg.CheckCodes))
	for _, cc := range cfg.CheckCodes {
		codes = append(codes, store.CheckCode{Code: cc.Code, Description: cc.Description})
	}

	if err := st.SeedCheckCodes(ctx, codes); err != nil {
		return fmt.Errorf("seeding check codes: %w", err)
	}

	return nil
}
