package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertLayer(ctx context.Context, layer Layer) (Layer, error)
	LockOpenLayers(ctx context.Context, tenantID, itemID, warehouseID int64) ([]Layer, error)
	LockLayersByRef(ctx context.Context, tenantID int64, ref Reference) ([]Layer, error)
	ConsumeLayer(ctx context.Context, tenantID, layerID int64, qty decimal.Decimal) error
	InsertConsumptions(ctx context.Context, tenantID int64, ref Reference, consumptions []Consumption) error
	ListConsumptions(ctx context.Context, tenantID int64, ref Reference) ([]Consumption, error)
	AdjustPosition(ctx context.Context, tenantID, itemID, warehouseID int64, qty, value decimal.Decimal) (Position, error)
	GetPosition(ctx context.Context, tenantID, itemID, warehouseID int64) (Position, error)
	ListLayers(ctx context.Context, tenantID, itemID, warehouseID int64) ([]Layer, error)
	ConservationIssues(ctx context.Context, tenantID int64) ([]ConservationIssue, error)
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.Runner) *Repository {
	return &Repository{runner: runner}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside the ambient or a new repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.runner == nil {
		return errors.New("inventory repository not initialised")
	}
	return r.runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const layerColumns = `id, tenant_id, item_id, warehouse_id, original_qty, remaining_qty, unit_cost, received_at, ref_type, ref_id`

func scanLayers(rows pgx.Rows) ([]Layer, error) {
	defer rows.Close()
	var layers []Layer
	for rows.Next() {
		var l Layer
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ItemID, &l.WarehouseID, &l.OriginalQty, &l.RemainingQty,
			&l.UnitCost, &l.ReceivedAt, &l.Ref.Type, &l.Ref.ID); err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

func (r *txRepo) InsertLayer(ctx context.Context, l Layer) (Layer, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_layers (tenant_id, item_id, warehouse_id, original_qty, remaining_qty, unit_cost, received_at, ref_type, ref_id)
VALUES ($1,$2,$3,$4,$4,$5,$6,$7,$8) RETURNING id`,
		l.TenantID, l.ItemID, l.WarehouseID, l.OriginalQty, l.UnitCost, l.ReceivedAt, l.Ref.Type, l.Ref.ID).Scan(&l.ID)
	if err != nil {
		return Layer{}, err
	}
	l.RemainingQty = l.OriginalQty
	return l, nil
}

func (r *txRepo) LockOpenLayers(ctx context.Context, tenantID, itemID, warehouseID int64) ([]Layer, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+layerColumns+` FROM inventory_layers
WHERE tenant_id=$1 AND item_id=$2 AND warehouse_id=$3 AND remaining_qty > 0
ORDER BY received_at ASC, id ASC FOR UPDATE`, tenantID, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	return scanLayers(rows)
}

func (r *txRepo) LockLayersByRef(ctx context.Context, tenantID int64, ref Reference) ([]Layer, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+layerColumns+` FROM inventory_layers
WHERE tenant_id=$1 AND ref_type=$2 AND ref_id=$3 ORDER BY id FOR UPDATE`, tenantID, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	return scanLayers(rows)
}

func (r *txRepo) ConsumeLayer(ctx context.Context, tenantID, layerID int64, qty decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_layers SET remaining_qty = remaining_qty - $3
WHERE tenant_id=$1 AND id=$2 AND remaining_qty >= $3`, tenantID, layerID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *txRepo) InsertConsumptions(ctx context.Context, tenantID int64, ref Reference, consumptions []Consumption) error {
	rows := make([][]any, 0, len(consumptions))
	for _, c := range consumptions {
		rows = append(rows, []any{tenantID, c.LayerID, c.Qty, c.UnitCost, ref.Type, ref.ID})
	}
	_, err := r.tx.CopyFrom(ctx, pgx.Identifier{"inventory_consumptions"},
		[]string{"tenant_id", "layer_id", "qty", "unit_cost", "ref_type", "ref_id"}, pgx.CopyFromRows(rows))
	return err
}

func (r *txRepo) ListConsumptions(ctx context.Context, tenantID int64, ref Reference) ([]Consumption, error) {
	rows, err := r.tx.Query(ctx, `SELECT c.layer_id, l.item_id, l.warehouse_id, c.qty, c.unit_cost, l.received_at
FROM inventory_consumptions c JOIN inventory_layers l ON l.id = c.layer_id
WHERE c.tenant_id=$1 AND c.ref_type=$2 AND c.ref_id=$3 ORDER BY c.id`, tenantID, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Consumption
	for rows.Next() {
		var c Consumption
		if err := rows.Scan(&c.LayerID, &c.ItemID, &c.WarehouseID, &c.Qty, &c.UnitCost, &c.ReceivedAt); err != nil {
			return nil, err
		}
		c.Cost = c.Qty.Mul(c.UnitCost)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AdjustPosition increments quantity and value in one statement. The
// quantity CHECK constraint rejects a negative result.
func (r *txRepo) AdjustPosition(ctx context.Context, tenantID, itemID, warehouseID int64, qty, value decimal.Decimal) (Position, error) {
	p := Position{TenantID: tenantID, ItemID: itemID, WarehouseID: warehouseID}
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_positions (tenant_id, item_id, warehouse_id, quantity, stock_value)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id, item_id, warehouse_id) DO UPDATE
SET quantity = inventory_positions.quantity + EXCLUDED.quantity,
    stock_value = inventory_positions.stock_value + EXCLUDED.stock_value,
    updated_at = NOW()
RETURNING quantity, stock_value, updated_at`, tenantID, itemID, warehouseID, qty, value).Scan(&p.Quantity, &p.StockValue, &p.UpdatedAt)
	if err != nil {
		return Position{}, err
	}
	return p, nil
}

func (r *txRepo) GetPosition(ctx context.Context, tenantID, itemID, warehouseID int64) (Position, error) {
	p := Position{TenantID: tenantID, ItemID: itemID, WarehouseID: warehouseID}
	err := r.tx.QueryRow(ctx, `SELECT quantity, stock_value, updated_at FROM inventory_positions
WHERE tenant_id=$1 AND item_id=$2 AND warehouse_id=$3`, tenantID, itemID, warehouseID).Scan(&p.Quantity, &p.StockValue, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Position{}, ErrPositionNotFound
		}
		return Position{}, err
	}
	return p, nil
}

func (r *txRepo) ListLayers(ctx context.Context, tenantID, itemID, warehouseID int64) ([]Layer, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+layerColumns+` FROM inventory_layers
WHERE tenant_id=$1 AND item_id=$2 AND warehouse_id=$3 ORDER BY received_at ASC, id ASC`, tenantID, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	return scanLayers(rows)
}

func (r *txRepo) ConservationIssues(ctx context.Context, tenantID int64) ([]ConservationIssue, error) {
	rows, err := r.tx.Query(ctx, `SELECT p.item_id, p.warehouse_id, p.quantity, COALESCE(l.qty, 0), p.stock_value, COALESCE(l.value, 0)
FROM inventory_positions p
LEFT JOIN (
  SELECT item_id, warehouse_id, SUM(remaining_qty) AS qty, SUM(remaining_qty * unit_cost) AS value
  FROM inventory_layers WHERE tenant_id=$1 GROUP BY item_id, warehouse_id
) l ON l.item_id = p.item_id AND l.warehouse_id = p.warehouse_id
WHERE p.tenant_id=$1 AND (p.quantity <> COALESCE(l.qty, 0) OR ABS(p.stock_value - COALESCE(l.value, 0)) > 0.01)
ORDER BY p.item_id, p.warehouse_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConservationIssue
	for rows.Next() {
		var c ConservationIssue
		if err := rows.Scan(&c.ItemID, &c.WarehouseID, &c.PositionQty, &c.LayerQty, &c.PositionValue, &c.LayerValue); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
