package shared

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

type counterRow struct {
	seq int64
	err error
}

func (r counterRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.seq
	return nil
}

type counterQuerier struct {
	mu   sync.Mutex
	seqs map[string]int64
	args [][]any
}

func (q *counterQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seqs == nil {
		q.seqs = make(map[string]int64)
	}
	key := args[1].(string) + ":" + args[2].(string)
	q.seqs[key]++
	q.args = append(q.args, args)
	return counterRow{seq: q.seqs[key]}
}

func TestFormatDocumentNumber(t *testing.T) {
	date := time.Date(2024, time.March, 17, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "JV/202403/00001", FormatDocumentNumber("jv", date, 1))
	require.Equal(t, "SI/202403/00123", FormatDocumentNumber(" SI ", date, 123))
	require.Equal(t, "SI/202403/123456", FormatDocumentNumber("SI", date, 123456))
}

func TestNextDocumentNumberSequencesPerMonthAndKind(t *testing.T) {
	q := &counterQuerier{}
	ctx := context.Background()
	jan := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	n1, err := NextDocumentNumber(ctx, q, 1, "JV", KindJournalVoucher, jan)
	require.NoError(t, err)
	n2, err := NextDocumentNumber(ctx, q, 1, "JV", KindJournalVoucher, jan)
	require.NoError(t, err)
	n3, err := NextDocumentNumber(ctx, q, 1, "JV", KindJournalVoucher, feb)
	require.NoError(t, err)
	n4, err := NextDocumentNumber(ctx, q, 1, "SI", KindSalesInvoice, jan)
	require.NoError(t, err)

	require.Equal(t, "JV/202401/00001", n1)
	require.Equal(t, "JV/202401/00002", n2)
	require.Equal(t, "JV/202402/00001", n3)
	require.Equal(t, "SI/202401/00001", n4)
	require.Equal(t, int64(1), q.args[0][0])
}

func TestNextDocumentNumberErrors(t *testing.T) {
	_, err := NextDocumentNumber(context.Background(), &counterQuerier{}, 1, "", "JV", time.Now())
	require.ErrorIs(t, err, ErrInvalidDocumentKind)

	boom := errors.New("conn reset")
	_, err = NextDocumentNumber(context.Background(), failingQuerier{err: boom}, 1, "JV", "JV", time.Now())
	require.ErrorIs(t, err, boom)
}

type failingQuerier struct{ err error }

func (q failingQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return counterRow{err: q.err}
}

func TestPeriodTransitionsAndBounds(t *testing.T) {
	require.NoError(t, ValidatePeriodTransition(PeriodStatusOpen, PeriodStatusClosedPermanent))
	require.ErrorIs(t, ValidatePeriodTransition(PeriodStatusClosedPermanent, PeriodStatusOpen), ErrInvalidPeriodTransition)
	require.ErrorIs(t, ValidatePeriodTransition(PeriodStatusOpen, PeriodStatusOpen), ErrInvalidPeriodTransition)

	start, end, err := PeriodBounds(2024, 2)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), end)

	_, _, err = PeriodBounds(2024, 13)
	require.ErrorIs(t, err, ErrInvalidYearMonth)
}

func TestPageRequest(t *testing.T) {
	require.Equal(t, 20, PageRequest{}.Limit())
	require.Equal(t, 0, PageRequest{}.Offset())
	require.Equal(t, 100, PageRequest{Page: 3, PerPage: 50}.Offset())
	require.Equal(t, 200, PageRequest{PerPage: 1000}.Limit())
	require.Equal(t, 3, NewPagination(1, 10, 25).TotalPages)
}

type failingSink struct {
	calls int
}

func (s *failingSink) Record(ctx context.Context, log AuditLog) error {
	s.calls++
	return errors.New("audit table missing")
}

func TestAuditRecorderNeverFails(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sink := &failingSink{}
	recorder := NewAuditRecorder(sink, logger)

	err := recorder.Record(context.Background(), AuditLog{TenantID: 1, Action: "journal.post", Entity: "journal_entry", EntityID: "1"})
	require.NoError(t, err)
	require.Equal(t, 1, sink.calls)
	require.Contains(t, buf.String(), "audit record failed")
	require.Contains(t, buf.String(), "journal.post")
}

func TestAuditRecorderWaitsForCommit(t *testing.T) {
	sink := &failingSink{}
	recorder := NewAuditRecorder(sink, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	ctx := db.ContextWithTx(context.Background(), nil)

	require.NoError(t, recorder.Record(ctx, AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
	require.Equal(t, 0, sink.calls)
}

func TestActorContext(t *testing.T) {
	require.Equal(t, int64(0), ActorFromContext(context.Background()))
	require.Equal(t, int64(9), ActorFromContext(ContextWithActor(context.Background(), 9)))
	require.Equal(t, "finance:tenant:3:period:202401:lock", FinanceLockKey(3, 2024, 1))
}
