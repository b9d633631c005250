package integration

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// Mapping modules and keys resolved through account_mappings.
const (
	ModuleSales    = "SALES"
	ModulePurchase = "PURCHASE"
	ModulePayment  = "PAYMENT"
	ModuleStock    = "INVENTORY"

	KeyReceivable = "AR"
	KeyRevenue    = "REVENUE"
	KeyCOGS       = "COGS"
	KeyInventory  = "INVENTORY"
	KeyPayable    = "AP"
	KeyCash       = "CASH"
	KeyAdjustment = "ADJUSTMENT"
)

// SalesLine is one invoiced line. Lines without an item are services and
// carry no cost of goods.
type SalesLine struct {
	ItemID      int64
	WarehouseID int64
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
	Description string
}

// Amount is qty times unit price.
func (l SalesLine) Amount() decimal.Decimal {
	return l.Qty.Mul(l.UnitPrice)
}

// SalesInvoice is a customer invoice to post.
type SalesInvoice struct {
	TenantID   int64
	Number     string
	CustomerID int64
	Date       time.Time
	DueDate    time.Time
	Lines      []SalesLine
	ActorID    int64
}

// PurchaseLine is one received line of a supplier bill.
type PurchaseLine struct {
	ItemID      int64
	WarehouseID int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
}

// PurchaseBill is a supplier bill to post.
type PurchaseBill struct {
	TenantID   int64
	Number     string
	SupplierID int64
	Date       time.Time
	DueDate    time.Time
	Lines      []PurchaseLine
	ActorID    int64
}

// Settlement is a customer receipt or supplier payment split over open
// documents.
type Settlement struct {
	TenantID       int64
	CounterpartyID int64
	Amount         decimal.Decimal
	Reference      string
	Date           time.Time
	Allocations    []subledger.Allocation
	ActorID        int64
}

// StockAdjustment books a count correction. A positive Qty adds a layer at
// UnitCost; a negative Qty issues FIFO stock at its layer cost.
type StockAdjustment struct {
	TenantID    int64
	ItemID      int64
	WarehouseID int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	Reference   string
	Date        time.Time
	Reason      string
	ActorID     int64
}

// DocumentPosting is the outcome of posting a business document.
type DocumentPosting struct {
	Entry    accounting.JournalEntry
	Document subledger.Document
	COGS     decimal.Decimal
}

// SettlementPosting is the outcome of a receipt or payment.
type SettlementPosting struct {
	Entry   accounting.JournalEntry
	Payment subledger.Payment
}

// AdjustmentPosting is the outcome of a stock adjustment.
type AdjustmentPosting struct {
	Entry   accounting.JournalEntry
	Layer   *inventory.Layer
	Removal *inventory.RemovalResult
	Value   decimal.Decimal
}

// VoidResult reports what a document void reversed.
type VoidResult struct {
	Entry          accounting.JournalEntry
	Document       *subledger.Document
	RestoredLayers []inventory.Layer
	Reversed       *inventory.RemovalResult
}

var (
	// ErrEmptyDocument indicates a document without lines or amount.
	ErrEmptyDocument = errors.New("integration: document has no amount")
	// ErrDocumentRequired indicates missing header fields.
	ErrDocumentRequired = errors.New("integration: tenant, number, counterparty and dates required")
	// ErrSettlementVoid blocks voiding receipts and payments; post a reversing document instead.
	ErrSettlementVoid = errors.New("integration: settlements cannot be voided")
	// ErrAdjustmentVoid blocks voiding stock adjustments; post an opposite adjustment instead.
	ErrAdjustmentVoid = errors.New("integration: stock adjustments cannot be voided")
	// ErrMoneyPrecision indicates a settlement amount finer than the cent journals carry.
	ErrMoneyPrecision = errors.New("integration: settlement amounts carry at most two decimals")
)

func (in SalesInvoice) validate() error {
	if in.TenantID == 0 || in.Number == "" || in.CustomerID == 0 || in.Date.IsZero() || in.DueDate.IsZero() {
		return ErrDocumentRequired
	}
	if len(in.Lines) == 0 {
		return ErrEmptyDocument
	}
	for _, l := range in.Lines {
		if !l.Qty.IsPositive() || l.UnitPrice.IsNegative() {
			return inventory.ErrInvalidQuantity
		}
	}
	return nil
}

func (in PurchaseBill) validate() error {
	if in.TenantID == 0 || in.Number == "" || in.SupplierID == 0 || in.Date.IsZero() || in.DueDate.IsZero() {
		return ErrDocumentRequired
	}
	if len(in.Lines) == 0 {
		return ErrEmptyDocument
	}
	return nil
}

func (in Settlement) validate() error {
	if in.TenantID == 0 || in.CounterpartyID == 0 || in.Reference == "" || in.Date.IsZero() {
		return ErrDocumentRequired
	}
	if !in.Amount.IsPositive() {
		return subledger.ErrInvalidAmount
	}
	if !isMoney(in.Amount) {
		return ErrMoneyPrecision
	}
	for _, a := range in.Allocations {
		if !isMoney(a.Amount) {
			return ErrMoneyPrecision
		}
	}
	return nil
}

func (in StockAdjustment) validate() error {
	if in.TenantID == 0 || in.ItemID == 0 || in.WarehouseID == 0 || in.Reference == "" || in.Date.IsZero() {
		return ErrDocumentRequired
	}
	if in.Qty.IsZero() || in.UnitCost.IsNegative() {
		return inventory.ErrInvalidQuantity
	}
	return nil
}

// money rounds to the two decimals journals carry.
func money(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func isMoney(v decimal.Decimal) bool {
	return v.Equal(money(v))
}
