package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// OperationObserver receives one observation per service call.
type OperationObserver interface {
	ObserveOperation(module, operation, outcome string, elapsed time.Duration)
}

// Service values stock with strict FIFO layers.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics OperationObserver
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics enables per-operation observations.
func (s *Service) WithMetrics(m OperationObserver) {
	s.metrics = m
}

// AddStock appends a cost layer and increases the position.
func (s *Service) AddStock(ctx context.Context, input AddStockInput) (layer Layer, err error) {
	defer s.observe("add_stock", time.Now(), &err)
	if err := validateKey(input.TenantID, input.ItemID, input.WarehouseID); err != nil {
		return Layer{}, err
	}
	if !input.Qty.IsPositive() {
		return Layer{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Layer{}, ErrInvalidUnitCost
	}
	if !fitsScale(input.Qty) || !fitsScale(input.UnitCost) {
		return Layer{}, ErrInvalidPrecision
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		layer, err = tx.InsertLayer(ctx, Layer{
			TenantID:    input.TenantID,
			ItemID:      input.ItemID,
			WarehouseID: input.WarehouseID,
			OriginalQty: input.Qty,
			UnitCost:    input.UnitCost,
			ReceivedAt:  receivedAt,
			Ref:         input.Ref,
		})
		if err != nil {
			return err
		}
		_, err = tx.AdjustPosition(ctx, input.TenantID, input.ItemID, input.WarehouseID, input.Qty, input.Qty.Mul(input.UnitCost))
		return err
	})
	if err != nil {
		return Layer{}, err
	}
	s.record(ctx, input.TenantID, input.ActorID, "inventory.receive", input.ItemID, input.WarehouseID, map[string]any{
		"qty":       input.Qty.String(),
		"unit_cost": input.UnitCost.String(),
		"ref_type":  input.Ref.Type,
		"ref_id":    input.Ref.ID,
	})
	return layer, nil
}

// RemoveStock consumes the oldest layers first and returns the cost of the
// issue. Availability is checked against the locked layers before any row is
// written, so a short issue changes nothing.
func (s *Service) RemoveStock(ctx context.Context, input RemoveStockInput) (result RemovalResult, err error) {
	defer s.observe("remove_stock", time.Now(), &err)
	if err := validateKey(input.TenantID, input.ItemID, input.WarehouseID); err != nil {
		return RemovalResult{}, err
	}
	if !input.Qty.IsPositive() {
		return RemovalResult{}, ErrInvalidQuantity
	}
	if !fitsScale(input.Qty) {
		return RemovalResult{}, ErrInvalidPrecision
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		layers, err := tx.LockOpenLayers(ctx, input.TenantID, input.ItemID, input.WarehouseID)
		if err != nil {
			return err
		}
		available := decimal.Zero
		for _, l := range layers {
			available = available.Add(l.RemainingQty)
		}
		if available.LessThan(input.Qty) {
			return &InsufficientStockError{
				ItemID:      input.ItemID,
				WarehouseID: input.WarehouseID,
				Requested:   input.Qty,
				Available:   available,
			}
		}
		result = consume(layers, input.Qty)
		for _, c := range result.Consumptions {
			if err := tx.ConsumeLayer(ctx, input.TenantID, c.LayerID, c.Qty); err != nil {
				return err
			}
		}
		if err := tx.InsertConsumptions(ctx, input.TenantID, input.Ref, result.Consumptions); err != nil {
			return err
		}
		_, err = tx.AdjustPosition(ctx, input.TenantID, input.ItemID, input.WarehouseID, input.Qty.Neg(), result.TotalCost.Neg())
		return err
	})
	if err != nil {
		return RemovalResult{}, err
	}
	s.record(ctx, input.TenantID, input.ActorID, "inventory.issue", input.ItemID, input.WarehouseID, map[string]any{
		"qty":      input.Qty.String(),
		"cost":     result.TotalCost.String(),
		"ref_type": input.Ref.Type,
		"ref_id":   input.Ref.ID,
	})
	return result, nil
}

// consume walks layers in order, taking min(remaining, needed) from each.
// Callers guarantee the layers cover qty.
func consume(layers []Layer, qty decimal.Decimal) RemovalResult {
	needed := qty
	result := RemovalResult{TotalCost: decimal.Zero}
	for _, l := range layers {
		if !needed.IsPositive() {
			break
		}
		take := decimal.Min(l.RemainingQty, needed)
		if !take.IsPositive() {
			continue
		}
		cost := take.Mul(l.UnitCost)
		result.Consumptions = append(result.Consumptions, Consumption{
			LayerID:     l.ID,
			ItemID:      l.ItemID,
			WarehouseID: l.WarehouseID,
			Qty:         take,
			UnitCost:    l.UnitCost,
			Cost:        cost,
			ReceivedAt:  l.ReceivedAt,
		})
		result.TotalCost = result.TotalCost.Add(cost)
		needed = needed.Sub(take)
	}
	if qty.IsPositive() {
		result.AverageCost = result.TotalCost.Div(qty)
	}
	return result
}

// RestoreConsumed puts the stock issued under ref back as new layers at the
// cost and receipt time of the layers it came from, so restored stock keeps
// its place in the FIFO queue. Used when the issuing document is voided.
func (s *Service) RestoreConsumed(ctx context.Context, tenantID int64, ref, restoreRef Reference, actorID int64) (restored []Layer, err error) {
	defer s.observe("restore", time.Now(), &err)
	if tenantID == 0 || ref.ID == "" {
		return nil, ErrItemRequired
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		consumptions, err := tx.ListConsumptions(ctx, tenantID, ref)
		if err != nil {
			return err
		}
		now := s.now()
		for _, c := range consumptions {
			receivedAt := c.ReceivedAt
			if receivedAt.IsZero() {
				receivedAt = now
			}
			layer, err := tx.InsertLayer(ctx, Layer{
				TenantID:    tenantID,
				ItemID:      c.ItemID,
				WarehouseID: c.WarehouseID,
				OriginalQty: c.Qty,
				UnitCost:    c.UnitCost,
				ReceivedAt:  receivedAt,
				Ref:         restoreRef,
			})
			if err != nil {
				return err
			}
			if _, err := tx.AdjustPosition(ctx, tenantID, c.ItemID, c.WarehouseID, c.Qty, c.Qty.Mul(c.UnitCost)); err != nil {
				return err
			}
			restored = append(restored, layer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(restored) > 0 && s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "inventory.restore",
			Entity:   "inventory_ref",
			EntityID: ref.Type + ":" + ref.ID,
			Meta:     map[string]any{"layers": len(restored)},
			At:       s.now(),
		})
	}
	return restored, nil
}

// ReverseReceipt takes back every layer received under ref. Only untouched
// receipts can be reversed; the layers are consumed in full under reverseRef.
func (s *Service) ReverseReceipt(ctx context.Context, tenantID int64, ref, reverseRef Reference, actorID int64) (result RemovalResult, err error) {
	defer s.observe("reverse_receipt", time.Now(), &err)
	if tenantID == 0 || ref.ID == "" {
		return RemovalResult{}, ErrItemRequired
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		layers, err := tx.LockLayersByRef(ctx, tenantID, ref)
		if err != nil {
			return err
		}
		if len(layers) == 0 {
			return ErrReceiptNotFound
		}
		qty := decimal.Zero
		for _, l := range layers {
			if !l.RemainingQty.Equal(l.OriginalQty) {
				return fmt.Errorf("%w: layer %d", ErrReceiptConsumed, l.ID)
			}
			qty = qty.Add(l.OriginalQty)
		}
		result = consume(layers, qty)
		for _, c := range result.Consumptions {
			if err := tx.ConsumeLayer(ctx, tenantID, c.LayerID, c.Qty); err != nil {
				return err
			}
			if _, err := tx.AdjustPosition(ctx, tenantID, c.ItemID, c.WarehouseID, c.Qty.Neg(), c.Cost.Neg()); err != nil {
				return err
			}
		}
		return tx.InsertConsumptions(ctx, tenantID, reverseRef, result.Consumptions)
	})
	if err != nil {
		return RemovalResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "inventory.reverse",
			Entity:   "inventory_ref",
			EntityID: ref.Type + ":" + ref.ID,
			Meta:     map[string]any{"layers": len(result.Consumptions), "cost": result.TotalCost.String()},
			At:       s.now(),
		})
	}
	return result, nil
}

// Position returns the stock position of an item in a warehouse.
func (s *Service) Position(ctx context.Context, tenantID, itemID, warehouseID int64) (Position, error) {
	if err := validateKey(tenantID, itemID, warehouseID); err != nil {
		return Position{}, err
	}
	var pos Position
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pos, err = tx.GetPosition(ctx, tenantID, itemID, warehouseID)
		return err
	})
	return pos, err
}

// Layers lists every layer of an item in a warehouse, oldest first.
func (s *Service) Layers(ctx context.Context, tenantID, itemID, warehouseID int64) ([]Layer, error) {
	if err := validateKey(tenantID, itemID, warehouseID); err != nil {
		return nil, err
	}
	var layers []Layer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		layers, err = tx.ListLayers(ctx, tenantID, itemID, warehouseID)
		return err
	})
	return layers, err
}

// VerifyConservation lists positions whose quantity differs from the sum of
// their remaining layers.
func (s *Service) VerifyConservation(ctx context.Context, tenantID int64) ([]ConservationIssue, error) {
	if tenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	var issues []ConservationIssue
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		issues, err = tx.ConservationIssues(ctx, tenantID)
		return err
	})
	return issues, err
}

func (s *Service) record(ctx context.Context, tenantID, actorID int64, action string, itemID, warehouseID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["item_id"] = itemID
	meta["warehouse_id"] = warehouseID
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_position",
		EntityID: fmt.Sprintf("%d:%d", itemID, warehouseID),
		Meta:     meta,
		At:       s.now(),
	})
}

func (s *Service) observe(operation string, started time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if *err != nil {
		outcome = "error"
		if errors.Is(*err, ErrInsufficientStock) {
			outcome = "insufficient_stock"
		}
	}
	s.metrics.ObserveOperation("inventory", operation, outcome, time.Since(started))
}
