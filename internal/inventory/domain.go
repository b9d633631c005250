package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Reference points at the business document behind a movement.
type Reference struct {
	Type string
	ID   string
}

// Layer is one FIFO cost layer created by a receipt.
type Layer struct {
	ID           int64
	TenantID     int64
	ItemID       int64
	WarehouseID  int64
	OriginalQty  decimal.Decimal
	RemainingQty decimal.Decimal
	UnitCost     decimal.Decimal
	ReceivedAt   time.Time
	Ref          Reference
}

// Position summarises stock of an item in a warehouse.
type Position struct {
	TenantID    int64
	ItemID      int64
	WarehouseID int64
	Quantity    decimal.Decimal
	StockValue  decimal.Decimal
	UpdatedAt   time.Time
}

// Consumption records how much of a layer an issue consumed.
type Consumption struct {
	LayerID     int64
	ItemID      int64
	WarehouseID int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	Cost        decimal.Decimal
	ReceivedAt  time.Time
}

// AddStockInput describes a receipt.
type AddStockInput struct {
	TenantID    int64
	ItemID      int64
	WarehouseID int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	Ref         Reference
	ReceivedAt  time.Time
	ActorID     int64
}

// RemoveStockInput describes an issue.
type RemoveStockInput struct {
	TenantID    int64
	ItemID      int64
	WarehouseID int64
	Qty         decimal.Decimal
	Ref         Reference
	ActorID     int64
}

// RemovalResult is the cost of an issue.
type RemovalResult struct {
	TotalCost    decimal.Decimal
	AverageCost  decimal.Decimal
	Consumptions []Consumption
}

// ConservationIssue reports a position that disagrees with its layers.
type ConservationIssue struct {
	ItemID        int64
	WarehouseID   int64
	PositionQty   decimal.Decimal
	LayerQty      decimal.Decimal
	PositionValue decimal.Decimal
	LayerValue    decimal.Decimal
}

var (
	// ErrInsufficientStock indicates an issue larger than available layers.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrInvalidPrecision indicates a quantity or cost finer than storage keeps.
	ErrInvalidPrecision = errors.New("inventory: at most 4 decimal places")
	// ErrItemRequired indicates a missing tenant, item or warehouse.
	ErrItemRequired = errors.New("inventory: tenant, item and warehouse required")
	// ErrPositionNotFound indicates no stock was ever received.
	ErrPositionNotFound = errors.New("inventory: position not found")
	// ErrReceiptNotFound indicates no layers carry the receipt reference.
	ErrReceiptNotFound = errors.New("inventory: receipt not found")
	// ErrReceiptConsumed blocks reversing a receipt whose stock was issued.
	ErrReceiptConsumed = errors.New("inventory: receipt already consumed")
)

// InsufficientStockError carries requested and available quantities.
type InsufficientStockError struct {
	ItemID      int64
	WarehouseID int64
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: item %d warehouse %d requested %s available %s",
		ErrInsufficientStock, e.ItemID, e.WarehouseID, e.Requested.String(), e.Available.String())
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// storedScale is the decimal scale of quantity and cost columns.
const storedScale = 4

func fitsScale(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(storedScale))
}

func validateKey(tenantID, itemID, warehouseID int64) error {
	if tenantID == 0 || itemID == 0 || warehouseID == 0 {
		return ErrItemRequired
	}
	return nil
}
