package subledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryState struct {
	docs        map[int64]Document
	payments    []Payment
	allocations map[int64][]Allocation
	nextID      int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		docs:        make(map[int64]Document, len(s.docs)),
		payments:    append([]Payment(nil), s.payments...),
		allocations: make(map[int64][]Allocation, len(s.allocations)),
		nextID:      s.nextID,
	}
	for k, v := range s.docs {
		out.docs[k] = v
	}
	for k, v := range s.allocations {
		out.allocations[k] = append([]Allocation(nil), v...)
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{}.clone()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{s: &r.state}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

type memoryTx struct {
	s *memoryState
}

func (t *memoryTx) InsertDocument(ctx context.Context, d Document) (Document, error) {
	for _, existing := range t.s.docs {
		if existing.TenantID == d.TenantID && existing.Kind == d.Kind && existing.InvoiceRef == d.InvoiceRef {
			return Document{}, ErrDuplicateInvoice
		}
	}
	t.s.nextID++
	d.ID = t.s.nextID
	t.s.docs[d.ID] = d
	return d, nil
}

func (t *memoryTx) GetDocument(ctx context.Context, tenantID, id int64) (Document, error) {
	d, ok := t.s.docs[id]
	if !ok || d.TenantID != tenantID {
		return Document{}, ErrDocumentNotFound
	}
	return d, nil
}

func (t *memoryTx) GetDocumentByJournal(ctx context.Context, tenantID, entryID int64) (Document, error) {
	for _, d := range t.s.docs {
		if d.TenantID == tenantID && d.JournalEntryID != nil && *d.JournalEntryID == entryID {
			return d, nil
		}
	}
	return Document{}, ErrDocumentNotFound
}

func (t *memoryTx) LockDocuments(ctx context.Context, tenantID int64, ids []int64) ([]Document, error) {
	var out []Document
	for _, id := range ids {
		if d, ok := t.s.docs[id]; ok && d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) AddPaid(ctx context.Context, tenantID, id int64, amount decimal.Decimal, status Status) (Document, error) {
	d := t.s.docs[id]
	if d.AmountPaid.Add(amount).GreaterThan(d.TotalAmount) {
		return Document{}, ErrOverpayment
	}
	d.AmountPaid = d.AmountPaid.Add(amount)
	d.Status = status
	t.s.docs[id] = d
	return d, nil
}

func (t *memoryTx) SetStatus(ctx context.Context, tenantID, id int64, status Status) error {
	d := t.s.docs[id]
	d.Status = status
	t.s.docs[id] = d
	return nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	t.s.nextID++
	p.ID = t.s.nextID
	t.s.payments = append(t.s.payments, p)
	return p, nil
}

func (t *memoryTx) InsertAllocations(ctx context.Context, paymentID int64, allocations []Allocation) error {
	t.s.allocations[paymentID] = append(t.s.allocations[paymentID], allocations...)
	return nil
}

func (t *memoryTx) OpenDocuments(ctx context.Context, tenantID int64, kind Kind) ([]Document, error) {
	var out []Document
	for _, d := range t.s.docs {
		if d.TenantID == tenantID && d.Kind == kind && (d.Status == StatusUnpaid || d.Status == StatusPartiallyPaid) {
			out = append(out, d)
		}
	}
	return out, nil
}

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var today = time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)

func newService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	svc.WithNow(func() time.Time { return today })
	return svc, repo
}

func receivable(t *testing.T, svc *Service, counterparty int64, ref string, amount int64, due time.Time) Document {
	t.Helper()
	doc, err := svc.CreateReceivable(context.Background(), CreateInput{
		TenantID: 1, CounterpartyID: counterparty, InvoiceRef: ref, Amount: money(amount), DueDate: due,
	})
	require.NoError(t, err)
	return doc
}

func TestPartialThenFullPayment(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	doc := receivable(t, svc, 5, "SI/202406/00001", 1_000_000, today)
	require.Equal(t, StatusUnpaid, doc.Status)

	doc, err := svc.ApplyPayment(ctx, 1, doc.ID, money(500_000), 0)
	require.NoError(t, err)
	require.True(t, doc.AmountRemaining.Equal(money(500_000)))
	require.Equal(t, StatusPartiallyPaid, doc.Status)

	doc, err = svc.ApplyPayment(ctx, 1, doc.ID, money(500_000), 0)
	require.NoError(t, err)
	require.True(t, doc.AmountRemaining.IsZero())
	require.Equal(t, StatusPaid, doc.Status)
}

func TestApplyPaymentRejectsOverpayment(t *testing.T) {
	svc, _ := newService()
	doc := receivable(t, svc, 5, "INV-1", 100, today)

	_, err := svc.ApplyPayment(context.Background(), 1, doc.ID, money(101), 0)
	require.ErrorIs(t, err, ErrOverpayment)
	var over *OverpaymentError
	require.True(t, errors.As(err, &over))
	require.True(t, over.Remaining.Equal(money(100)))

	got, err := svc.GetDocument(context.Background(), 1, doc.ID)
	require.NoError(t, err)
	require.True(t, got.AmountPaid.IsZero())

	_, err = svc.ApplyPayment(context.Background(), 1, 999, money(1), 0)
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestAllocatePaymentIsAllOrNothing(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()
	a := receivable(t, svc, 5, "INV-A", 300, today)
	b := receivable(t, svc, 5, "INV-B", 200, today)

	_, err := svc.AllocatePayment(ctx, PaymentInput{
		TenantID: 1, Kind: KindReceivable, CounterpartyID: 5, Amount: money(550),
		Allocations: []Allocation{{DocumentID: a.ID, Amount: money(300)}, {DocumentID: b.ID, Amount: money(250)}},
	})
	require.ErrorIs(t, err, ErrOverpayment)
	require.True(t, repo.state.docs[a.ID].AmountPaid.IsZero())
	require.Empty(t, repo.state.payments)

	_, err = svc.AllocatePayment(ctx, PaymentInput{
		TenantID: 1, Kind: KindReceivable, CounterpartyID: 5, Amount: money(400),
		Allocations: []Allocation{{DocumentID: a.ID, Amount: money(300)}, {DocumentID: b.ID, Amount: money(50)}},
	})
	require.ErrorIs(t, err, ErrAllocationMismatch)

	payment, err := svc.AllocatePayment(ctx, PaymentInput{
		TenantID: 1, Kind: KindReceivable, CounterpartyID: 5, Amount: money(350),
		Allocations: []Allocation{{DocumentID: b.ID, Amount: money(50)}, {DocumentID: a.ID, Amount: money(300)}},
	})
	require.NoError(t, err)
	require.Len(t, payment.Documents, 2)
	require.Equal(t, StatusPaid, repo.state.docs[a.ID].Status)
	require.Equal(t, StatusPartiallyPaid, repo.state.docs[b.ID].Status)
	require.Len(t, repo.state.allocations[payment.ID], 2)
}

func TestAllocatePaymentChecksOwnership(t *testing.T) {
	svc, _ := newService()
	doc := receivable(t, svc, 5, "INV-C", 100, today)

	_, err := svc.AllocatePayment(context.Background(), PaymentInput{
		TenantID: 1, Kind: KindReceivable, CounterpartyID: 6, Amount: money(10),
		Allocations: []Allocation{{DocumentID: doc.ID, Amount: money(10)}},
	})
	require.ErrorIs(t, err, ErrCounterpartyMismatch)

	_, err = svc.AllocatePayment(context.Background(), PaymentInput{
		TenantID: 1, Kind: KindPayable, CounterpartyID: 5, Amount: money(10),
		Allocations: []Allocation{{DocumentID: doc.ID, Amount: money(10)}},
	})
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestBucketBoundaries(t *testing.T) {
	cases := map[int]AgingBucket{
		-5: BucketCurrent, 0: BucketCurrent, 1: Bucket1To30, 30: Bucket1To30, 31: Bucket31To60,
		60: Bucket31To60, 61: Bucket61To90, 90: Bucket61To90, 91: BucketOver90, 400: BucketOver90,
	}
	for days, want := range cases {
		require.Equal(t, want, BucketFor(days), "days %d", days)
	}
	require.Equal(t, 1, DaysOverdue(today, today.AddDate(0, 0, -1)))
	require.Equal(t, 0, DaysOverdue(today.Add(23*time.Hour), today))
}

func TestAgingReportPlacesEachDocumentOnce(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	dues := []int{0, -1, -30, -31, -60, -61, -90, -91, 10}
	total := decimal.Zero
	for i, offset := range dues {
		amount := int64(100 * (i + 1))
		receivable(t, svc, int64(1+i%2), "INV-"+string(rune('A'+i)), amount, today.AddDate(0, 0, offset))
		total = total.Add(money(amount))
	}
	paid := receivable(t, svc, 1, "INV-PAID", 999, today)
	_, err := svc.ApplyPayment(ctx, 1, paid.ID, money(999), 0)
	require.NoError(t, err)
	_, err = svc.CreatePayable(ctx, CreateInput{TenantID: 1, CounterpartyID: 1, InvoiceRef: "PB-1", Amount: money(5), DueDate: today})
	require.NoError(t, err)

	rows, err := svc.AgingReport(ctx, 1, KindReceivable, today)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	grand := decimal.Zero
	for _, row := range rows {
		sum := row.Current.Add(row.Days1To30).Add(row.Days31To60).Add(row.Days61To90).Add(row.Over90)
		require.True(t, sum.Equal(row.Total))
		grand = grand.Add(row.Total)
	}
	require.True(t, grand.Equal(total))

	// counterparty 1 holds offsets 0, -30, -60, -90, 10 -> amounts 100, 300, 500, 700, 900
	require.True(t, rows[0].Current.Equal(money(100+900)))
	require.True(t, rows[0].Days1To30.Equal(money(300)))
	require.True(t, rows[0].Days31To60.Equal(money(500)))
	require.True(t, rows[0].Days61To90.Equal(money(700)))
	// counterparty 2 holds offsets -1, -31, -61, -91 -> amounts 200, 400, 600, 800
	require.True(t, rows[1].Days1To30.Equal(money(200)))
	require.True(t, rows[1].Over90.Equal(money(800)))
}

func TestCancelByJournal(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	entryA, entryB := int64(11), int64(12)
	a, err := svc.CreateReceivable(ctx, CreateInput{TenantID: 1, CounterpartyID: 1, InvoiceRef: "A", Amount: money(10), DueDate: today, JournalEntryID: &entryA})
	require.NoError(t, err)
	b, err := svc.CreateReceivable(ctx, CreateInput{TenantID: 1, CounterpartyID: 1, InvoiceRef: "B", Amount: money(10), DueDate: today, JournalEntryID: &entryB})
	require.NoError(t, err)
	_, err = svc.ApplyPayment(ctx, 1, b.ID, money(1), 0)
	require.NoError(t, err)

	cancelled, err := svc.CancelByJournal(ctx, 1, entryA, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, a.ID, cancelled.ID)

	_, err = svc.CancelByJournal(ctx, 1, entryB, 0)
	require.ErrorIs(t, err, ErrDocumentHasPayments)

	_, err = svc.ApplyPayment(ctx, 1, a.ID, money(1), 0)
	require.ErrorIs(t, err, ErrDocumentCancelled)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	_, err := svc.CreateReceivable(ctx, CreateInput{TenantID: 1, CounterpartyID: 1, InvoiceRef: "X", Amount: money(0), DueDate: today})
	require.ErrorIs(t, err, ErrInvalidAmount)
	receivable(t, svc, 1, "DUP", 5, today)
	_, err = svc.CreateReceivable(ctx, CreateInput{TenantID: 1, CounterpartyID: 1, InvoiceRef: "DUP", Amount: money(5), DueDate: today})
	require.ErrorIs(t, err, ErrDuplicateInvoice)
}

func TestAmountsBeyondStoredScaleRejected(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	fine := decimal.RequireFromString("99.99996")

	_, err := svc.CreateReceivable(ctx, CreateInput{TenantID: 1, CounterpartyID: 1, InvoiceRef: "FINE", Amount: fine, DueDate: today})
	require.ErrorIs(t, err, ErrInvalidPrecision)

	doc := receivable(t, svc, 1, "INV-P", 100, today)
	_, err = svc.ApplyPayment(ctx, 1, doc.ID, fine, 0)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = svc.AllocatePayment(ctx, PaymentInput{
		TenantID: 1, Kind: KindReceivable, CounterpartyID: 1, Amount: fine,
		Allocations: []Allocation{{DocumentID: doc.ID, Amount: fine}},
	})
	require.ErrorIs(t, err, ErrInvalidPrecision)

	got, err := svc.GetDocument(ctx, 1, doc.ID)
	require.NoError(t, err)
	require.True(t, got.AmountPaid.IsZero())
	require.Equal(t, StatusUnpaid, got.Status)

	got, err = svc.ApplyPayment(ctx, 1, doc.ID, decimal.RequireFromString("99.9999"), 0)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, got.Status)
	require.True(t, got.AmountRemaining.Equal(decimal.RequireFromString("0.0001")))
}

type observerSpy struct {
	calls []string
}

func (o *observerSpy) ObserveOperation(module, operation, outcome string, elapsed time.Duration) {
	o.calls = append(o.calls, module+"/"+operation+"/"+outcome)
}

func TestMetricsObserveOutcomes(t *testing.T) {
	svc, _ := newService()
	spy := &observerSpy{}
	svc.WithMetrics(spy)
	doc := receivable(t, svc, 5, "INV-M", 100, today)

	_, err := svc.ApplyPayment(context.Background(), 1, doc.ID, money(150), 0)
	require.ErrorIs(t, err, ErrOverpayment)
	_, err = svc.ApplyPayment(context.Background(), 1, doc.ID, money(100), 0)
	require.NoError(t, err)

	require.Equal(t, []string{
		"subledger/create/ok",
		"subledger/apply_payment/overpayment",
		"subledger/apply_payment/ok",
	}, spy.calls)
}
