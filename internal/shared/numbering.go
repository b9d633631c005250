package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Document kinds with their default number prefixes.
const (
	KindJournalVoucher = "JV"
	KindClosing        = "CL"
	KindSalesInvoice   = "SI"
	KindPurchaseBill   = "PB"
	KindReceipt        = "RC"
	KindDisbursement   = "DB"
	KindReversal       = "RV"
	KindAdjustment     = "IA"
)

// ErrInvalidDocumentKind indicates an empty kind or prefix.
var ErrInvalidDocumentKind = errors.New("numbering: kind and prefix required")

// Querier is the subset of pgx.Tx used by the counter.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// YearMonth renders the counter bucket for date, e.g. 202401.
func YearMonth(date time.Time) string {
	return date.Format("200601")
}

// FormatDocumentNumber renders PREFIX/YYYYMM/00001.
func FormatDocumentNumber(prefix string, date time.Time, seq int64) string {
	return fmt.Sprintf("%s/%s/%05d", strings.ToUpper(strings.TrimSpace(prefix)), YearMonth(date), seq)
}

// NextDocumentNumber increments the (tenant, month, kind) counter and returns
// the formatted number. The counter row is locked until q's transaction ends,
// so numbers are gap-free for committed documents and never duplicated.
func NextDocumentNumber(ctx context.Context, q Querier, tenantID int64, prefix, kind string, date time.Time) (string, error) {
	if strings.TrimSpace(prefix) == "" || strings.TrimSpace(kind) == "" {
		return "", ErrInvalidDocumentKind
	}
	var seq int64
	err := q.QueryRow(ctx, `INSERT INTO document_counters (tenant_id, year_month, kind, last_number)
VALUES ($1, $2, $3, 1)
ON CONFLICT (tenant_id, year_month, kind) DO UPDATE SET last_number = document_counters.last_number + 1
RETURNING last_number`, tenantID, YearMonth(date), strings.ToUpper(kind)).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("numbering: next %s: %w", kind, err)
	}
	return FormatDocumentNumber(prefix, date, seq), nil
}
