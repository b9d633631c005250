package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// Ledger exposes the posting engine operations required by integrations.
type Ledger interface {
	AssertOpenPeriod(ctx context.Context, tenantID int64, date time.Time) (accounting.Period, error)
	Post(ctx context.Context, input accounting.PostingInput) (accounting.PostingResult, error)
	Void(ctx context.Context, input accounting.VoidInput) (accounting.PostingResult, error)
	GetEntry(ctx context.Context, tenantID, entryID int64) (accounting.JournalEntry, error)
	ResolveMapping(ctx context.Context, tenantID int64, module, key string) (int64, error)
}

// Stock exposes FIFO movements.
type Stock interface {
	AddStock(ctx context.Context, input inventory.AddStockInput) (inventory.Layer, error)
	RemoveStock(ctx context.Context, input inventory.RemoveStockInput) (inventory.RemovalResult, error)
	RestoreConsumed(ctx context.Context, tenantID int64, ref, restoreRef inventory.Reference, actorID int64) ([]inventory.Layer, error)
	ReverseReceipt(ctx context.Context, tenantID int64, ref, reverseRef inventory.Reference, actorID int64) (inventory.RemovalResult, error)
}

// Subledger exposes receivable and payable bookkeeping.
type Subledger interface {
	CreateReceivable(ctx context.Context, in subledger.CreateInput) (subledger.Document, error)
	CreatePayable(ctx context.Context, in subledger.CreateInput) (subledger.Document, error)
	AllocatePayment(ctx context.Context, in subledger.PaymentInput) (subledger.Payment, error)
	CancelByJournal(ctx context.Context, tenantID, entryID, actorID int64) (subledger.Document, error)
}

// TxRunner runs fn in one transaction that nested repositories join.
type TxRunner interface {
	Atomically(ctx context.Context, fn func(context.Context) error) error
}

// Hooks turn business documents into ledger postings. Every hook runs the
// period gate, stock movement, posting and subledger write in one transaction.
type Hooks struct {
	tx        TxRunner
	ledger    Ledger
	stock     Stock
	subledger Subledger
	metrics   accounting.OperationObserver
}

// NewHooks constructs integration hooks.
func NewHooks(tx TxRunner, ledger Ledger, stock Stock, sub Subledger) *Hooks {
	return &Hooks{tx: tx, ledger: ledger, stock: stock, subledger: sub}
}

// WithMetrics enables per-operation observations.
func (h *Hooks) WithMetrics(m accounting.OperationObserver) {
	h.metrics = m
}

func (h *Hooks) resolve(ctx context.Context, tenantID int64, module string, keys ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		id, err := h.ledger.ResolveMapping(ctx, tenantID, module, key)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", module, key, err)
		}
		out[module+"/"+key] = id
	}
	return out, nil
}

// PostSalesInvoice issues stock for item lines, posts Dr AR / Cr revenue and
// Dr COGS / Cr inventory, and opens the receivable.
func (h *Hooks) PostSalesInvoice(ctx context.Context, in SalesInvoice) (out DocumentPosting, err error) {
	defer h.observe("sales_invoice", time.Now(), &err)
	if err := in.validate(); err != nil {
		return DocumentPosting{}, err
	}
	revenue := decimal.Zero
	stocked := false
	for _, l := range in.Lines {
		revenue = revenue.Add(l.Amount())
		stocked = stocked || l.ItemID != 0
	}
	revenue = money(revenue)
	if !revenue.IsPositive() {
		return DocumentPosting{}, ErrEmptyDocument
	}

	err = h.tx.Atomically(ctx, func(ctx context.Context) error {
		if _, err := h.ledger.AssertOpenPeriod(ctx, in.TenantID, in.Date); err != nil {
			return err
		}
		keys := []string{KeyReceivable, KeyRevenue}
		if stocked {
			keys = append(keys, KeyCOGS, KeyInventory)
		}
		accounts, err := h.resolve(ctx, in.TenantID, ModuleSales, keys...)
		if err != nil {
			return err
		}

		ref := inventory.Reference{Type: shared.KindSalesInvoice, ID: in.Number}
		cost := decimal.Zero
		for _, l := range in.Lines {
			if l.ItemID == 0 {
				continue
			}
			removed, err := h.stock.RemoveStock(ctx, inventory.RemoveStockInput{
				TenantID:    in.TenantID,
				ItemID:      l.ItemID,
				WarehouseID: l.WarehouseID,
				Qty:         l.Qty,
				Ref:         ref,
				ActorID:     in.ActorID,
			})
			if err != nil {
				return err
			}
			cost = cost.Add(removed.TotalCost)
		}
		out.COGS = money(cost)

		legs := []accounting.LegInput{
			{AccountID: accounts[ModuleSales+"/"+KeyReceivable], Debit: revenue, Description: "receivable " + in.Number},
			{AccountID: accounts[ModuleSales+"/"+KeyRevenue], Credit: revenue, Description: "revenue " + in.Number},
		}
		if out.COGS.IsPositive() {
			legs = append(legs,
				accounting.LegInput{AccountID: accounts[ModuleSales+"/"+KeyCOGS], Debit: out.COGS, Description: "cost of goods " + in.Number},
				accounting.LegInput{AccountID: accounts[ModuleSales+"/"+KeyInventory], Credit: out.COGS, Description: "inventory " + in.Number},
			)
		}
		posted, err := h.ledger.Post(ctx, accounting.PostingInput{
			TenantID:     in.TenantID,
			Date:         in.Date,
			Description:  "Sales invoice " + in.Number,
			Kind:         shared.KindSalesInvoice,
			SourceModule: ModuleSales,
			SourceRef:    in.Number,
			ActorID:      in.ActorID,
			Legs:         legs,
		})
		if err != nil {
			return err
		}
		out.Entry = posted.Entry

		entryID := posted.Entry.ID
		out.Document, err = h.subledger.CreateReceivable(ctx, subledger.CreateInput{
			TenantID:       in.TenantID,
			CounterpartyID: in.CustomerID,
			InvoiceRef:     in.Number,
			Amount:         revenue,
			DueDate:        in.DueDate,
			JournalEntryID: &entryID,
			ActorID:        in.ActorID,
		})
		return err
	})
	if err != nil {
		return DocumentPosting{}, err
	}
	return out, nil
}

// PostPurchaseBill receives every line as a FIFO layer at its unit cost, posts
// Dr inventory / Cr AP and opens the payable.
func (h *Hooks) PostPurchaseBill(ctx context.Context, in PurchaseBill) (out DocumentPosting, err error) {
	defer h.observe("purchase_bill", time.Now(), &err)
	if err := in.validate(); err != nil {
		return DocumentPosting{}, err
	}
	total := decimal.Zero
	for _, l := range in.Lines {
		total = total.Add(l.Qty.Mul(l.UnitCost))
	}
	total = money(total)
	if !total.IsPositive() {
		return DocumentPosting{}, ErrEmptyDocument
	}

	err = h.tx.Atomically(ctx, func(ctx context.Context) error {
		if _, err := h.ledger.AssertOpenPeriod(ctx, in.TenantID, in.Date); err != nil {
			return err
		}
		accounts, err := h.resolve(ctx, in.TenantID, ModulePurchase, KeyInventory, KeyPayable)
		if err != nil {
			return err
		}
		ref := inventory.Reference{Type: shared.KindPurchaseBill, ID: in.Number}
		for _, l := range in.Lines {
			if _, err := h.stock.AddStock(ctx, inventory.AddStockInput{
				TenantID:    in.TenantID,
				ItemID:      l.ItemID,
				WarehouseID: l.WarehouseID,
				Qty:         l.Qty,
				UnitCost:    l.UnitCost,
				Ref:         ref,
				ReceivedAt:  in.Date,
				ActorID:     in.ActorID,
			}); err != nil {
				return err
			}
		}
		posted, err := h.ledger.Post(ctx, accounting.PostingInput{
			TenantID:     in.TenantID,
			Date:         in.Date,
			Description:  "Purchase bill " + in.Number,
			Kind:         shared.KindPurchaseBill,
			SourceModule: ModulePurchase,
			SourceRef:    in.Number,
			ActorID:      in.ActorID,
			Legs: []accounting.LegInput{
				{AccountID: accounts[ModulePurchase+"/"+KeyInventory], Debit: total, Description: "inventory " + in.Number},
				{AccountID: accounts[ModulePurchase+"/"+KeyPayable], Credit: total, Description: "payable " + in.Number},
			},
		})
		if err != nil {
			return err
		}
		out.Entry = posted.Entry

		entryID := posted.Entry.ID
		out.Document, err = h.subledger.CreatePayable(ctx, subledger.CreateInput{
			TenantID:       in.TenantID,
			CounterpartyID: in.SupplierID,
			InvoiceRef:     in.Number,
			Amount:         total,
			DueDate:        in.DueDate,
			JournalEntryID: &entryID,
			ActorID:        in.ActorID,
		})
		return err
	})
	if err != nil {
		return DocumentPosting{}, err
	}
	return out, nil
}

// ReceivePayment posts Dr cash / Cr AR and allocates the receipt over
// receivables.
func (h *Hooks) ReceivePayment(ctx context.Context, in Settlement) (SettlementPosting, error) {
	return h.settle(ctx, "receive_payment", in, subledger.KindReceivable)
}

// PayBill posts Dr AP / Cr cash and allocates the payment over payables.
func (h *Hooks) PayBill(ctx context.Context, in Settlement) (SettlementPosting, error) {
	return h.settle(ctx, "pay_bill", in, subledger.KindPayable)
}

func (h *Hooks) settle(ctx context.Context, op string, in Settlement, kind subledger.Kind) (out SettlementPosting, err error) {
	defer h.observe(op, time.Now(), &err)
	if err := in.validate(); err != nil {
		return SettlementPosting{}, err
	}
	payment := subledger.PaymentInput{
		TenantID:       in.TenantID,
		Kind:           kind,
		CounterpartyID: in.CounterpartyID,
		Amount:         in.Amount,
		Reference:      in.Reference,
		PaidAt:         in.Date,
		Allocations:    in.Allocations,
		ActorID:        in.ActorID,
	}
	if err := payment.Validate(); err != nil {
		return SettlementPosting{}, err
	}

	err = h.tx.Atomically(ctx, func(ctx context.Context) error {
		cash, err := h.ledger.ResolveMapping(ctx, in.TenantID, ModulePayment, KeyCash)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", ModulePayment, KeyCash, err)
		}
		posting := accounting.PostingInput{
			TenantID:  in.TenantID,
			Date:      in.Date,
			SourceRef: in.Reference,
			ActorID:   in.ActorID,
		}
		amount := in.Amount
		if kind == subledger.KindReceivable {
			ar, err := h.ledger.ResolveMapping(ctx, in.TenantID, ModuleSales, KeyReceivable)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", ModuleSales, KeyReceivable, err)
			}
			posting.Kind = shared.KindReceipt
			posting.SourceModule = "RECEIPT"
			posting.Description = "Customer receipt " + in.Reference
			posting.Legs = []accounting.LegInput{
				{AccountID: cash, Debit: amount},
				{AccountID: ar, Credit: amount},
			}
		} else {
			ap, err := h.ledger.ResolveMapping(ctx, in.TenantID, ModulePurchase, KeyPayable)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", ModulePurchase, KeyPayable, err)
			}
			posting.Kind = shared.KindDisbursement
			posting.SourceModule = "DISBURSEMENT"
			posting.Description = "Supplier payment " + in.Reference
			posting.Legs = []accounting.LegInput{
				{AccountID: ap, Debit: amount},
				{AccountID: cash, Credit: amount},
			}
		}
		posted, err := h.ledger.Post(ctx, posting)
		if err != nil {
			return err
		}
		out.Entry = posted.Entry
		out.Payment, err = h.subledger.AllocatePayment(ctx, payment)
		return err
	})
	if err != nil {
		return SettlementPosting{}, err
	}
	return out, nil
}

// AdjustStock corrects on-hand stock and books the value change against the
// adjustment account: an increase adds a layer and posts Dr inventory / Cr
// adjustment, a decrease issues FIFO stock and posts the reverse at the
// consumed cost.
func (h *Hooks) AdjustStock(ctx context.Context, in StockAdjustment) (out AdjustmentPosting, err error) {
	defer h.observe("adjust_stock", time.Now(), &err)
	if err := in.validate(); err != nil {
		return AdjustmentPosting{}, err
	}

	err = h.tx.Atomically(ctx, func(ctx context.Context) error {
		if _, err := h.ledger.AssertOpenPeriod(ctx, in.TenantID, in.Date); err != nil {
			return err
		}
		accounts, err := h.resolve(ctx, in.TenantID, ModuleStock, KeyInventory, KeyAdjustment)
		if err != nil {
			return err
		}
		ref := inventory.Reference{Type: shared.KindAdjustment, ID: in.Reference}
		increase := in.Qty.IsPositive()
		if increase {
			layer, err := h.stock.AddStock(ctx, inventory.AddStockInput{
				TenantID:    in.TenantID,
				ItemID:      in.ItemID,
				WarehouseID: in.WarehouseID,
				Qty:         in.Qty,
				UnitCost:    in.UnitCost,
				Ref:         ref,
				ReceivedAt:  in.Date,
				ActorID:     in.ActorID,
			})
			if err != nil {
				return err
			}
			out.Layer = &layer
			out.Value = money(in.Qty.Mul(in.UnitCost))
		} else {
			removed, err := h.stock.RemoveStock(ctx, inventory.RemoveStockInput{
				TenantID:    in.TenantID,
				ItemID:      in.ItemID,
				WarehouseID: in.WarehouseID,
				Qty:         in.Qty.Neg(),
				Ref:         ref,
				ActorID:     in.ActorID,
			})
			if err != nil {
				return err
			}
			out.Removal = &removed
			out.Value = money(removed.TotalCost)
		}
		if !out.Value.IsPositive() {
			return ErrEmptyDocument
		}

		stock := accounting.LegInput{AccountID: accounts[ModuleStock+"/"+KeyInventory], Description: "inventory " + in.Reference}
		offset := accounting.LegInput{AccountID: accounts[ModuleStock+"/"+KeyAdjustment], Description: in.Reason}
		if increase {
			stock.Debit, offset.Credit = out.Value, out.Value
		} else {
			offset.Debit, stock.Credit = out.Value, out.Value
		}
		posted, err := h.ledger.Post(ctx, accounting.PostingInput{
			TenantID:     in.TenantID,
			Date:         in.Date,
			Description:  "Stock adjustment " + in.Reference,
			Kind:         shared.KindAdjustment,
			SourceModule: ModuleStock,
			SourceRef:    in.Reference,
			ActorID:      in.ActorID,
			Legs:         []accounting.LegInput{stock, offset},
		})
		if err != nil {
			return err
		}
		out.Entry = posted.Entry
		return nil
	})
	if err != nil {
		return AdjustmentPosting{}, err
	}
	return out, nil
}

// VoidDocument voids a posted document journal and undoes its side effects in
// the same transaction: the linked receivable or payable is cancelled, stock
// issued by a sales invoice returns as new layers at the consumed cost, and
// stock received by a purchase bill is taken back.
func (h *Hooks) VoidDocument(ctx context.Context, tenantID, entryID, actorID int64, reason string) (out VoidResult, err error) {
	defer h.observe("void_document", time.Now(), &err)
	err = h.tx.Atomically(ctx, func(ctx context.Context) error {
		entry, err := h.ledger.GetEntry(ctx, tenantID, entryID)
		if err != nil {
			return err
		}
		if entry.Kind == shared.KindReceipt || entry.Kind == shared.KindDisbursement {
			return ErrSettlementVoid
		}
		if entry.Kind == shared.KindAdjustment {
			return ErrAdjustmentVoid
		}
		voided, err := h.ledger.Void(ctx, accounting.VoidInput{TenantID: tenantID, EntryID: entryID, ActorID: actorID, Reason: reason, Document: true})
		if err != nil {
			return err
		}
		out.Entry = voided.Entry

		if entry.Kind != shared.KindSalesInvoice && entry.Kind != shared.KindPurchaseBill {
			return nil
		}
		doc, err := h.subledger.CancelByJournal(ctx, tenantID, entryID, actorID)
		if err != nil {
			return err
		}
		out.Document = &doc

		ref := inventory.Reference{Type: entry.Kind, ID: entry.SourceRef}
		voidRef := inventory.Reference{Type: "VOID", ID: entry.Number}
		if entry.Kind == shared.KindSalesInvoice {
			out.RestoredLayers, err = h.stock.RestoreConsumed(ctx, tenantID, ref, voidRef, actorID)
			return err
		}
		reversed, err := h.stock.ReverseReceipt(ctx, tenantID, ref, voidRef, actorID)
		if err != nil {
			return err
		}
		out.Reversed = &reversed
		return nil
	})
	if err != nil {
		return VoidResult{}, err
	}
	return out, nil
}

func (h *Hooks) observe(operation string, started time.Time, err *error) {
	if h.metrics == nil {
		return
	}
	h.metrics.ObserveOperation("integration", operation, accounting.Outcome(*err), time.Since(started))
}
