package ap

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/accounting"
	"github.com/odyssey-erp/odyssey-billing/internal/accounting/ledgertest"
)

var payDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func newTestService(repo *memoryAPRepo) (*Service, *fakeMetrics) {
	m := &fakeMetrics{}
	ledger := accounting.NewLedger()
	ledger.WithNow(func() time.Time { return payDate })
	svc := NewService(repo.factory(), ledger, m)
	svc.WithNow(func() time.Time { return payDate })
	return svc, m
}

func pay(amount string) PayBillInput {
	return PayBillInput{
		BillID:        1,
		Amount:        decimal.RequireFromString(amount),
		BankAccountID: ledgertest.BankAccountID,
		PaidAt:        payDate,
		Method:        "bank_transfer",
	}
}

func TestPayBillPostsBalancedEntry(t *testing.T) {
	repo := newMemoryAPRepo()
	repo.seedBill("1000")
	svc, metrics := newTestService(repo)

	result, err := svc.PayBill(context.Background(), testTenant, pay("400"))
	require.NoError(t, err)
	require.Equal(t, "BPY-2403-000001", result.Payment.Number)
	require.Equal(t, BillStatusPartial, result.Bill.Status)
	require.True(t, result.Bill.BalanceDue().Equal(decimal.NewFromInt(600)))

	entry := repo.ledger.Entries[result.Payment.JournalEntryID]
	require.Equal(t, accounting.JournalStatusPosted, entry.Status)
	require.Equal(t, accounting.ReferenceBillPayment, entry.ReferenceType)
	require.Len(t, entry.Lines, 2)
	debit, credit := entry.Totals()
	require.True(t, debit.Equal(credit))
	require.Equal(t, ledgertest.PayableID, entry.Lines[0].AccountID)
	require.Equal(t, ledgertest.BankChartID, entry.Lines[1].AccountID)

	require.True(t, repo.ledger.Balance(ledgertest.PayableID).Equal(decimal.NewFromInt(2600)))
	require.True(t, repo.ledger.Balance(ledgertest.BankChartID).Equal(decimal.NewFromInt(9600)))
	require.True(t, repo.ledger.BankBalance(ledgertest.BankAccountID).Equal(decimal.NewFromInt(9600)))
	require.Equal(t, 1, metrics.postings[string(accounting.ReferenceBillPayment)])

	result, err = svc.PayBill(context.Background(), testTenant, pay("600"))
	require.NoError(t, err)
	require.Equal(t, BillStatusPaid, result.Bill.Status)
	require.Equal(t, "BPY-2403-000002", result.Payment.Number)

	_, err = svc.PayBill(context.Background(), testTenant, pay("1"))
	require.ErrorIs(t, err, ErrBillNotPayable)
}

func TestPayBillRejectsAndRollsBack(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*memoryAPRepo, *PayBillInput)
		want  error
	}{
		{"exceeds balance", func(_ *memoryAPRepo, in *PayBillInput) { in.Amount = decimal.NewFromInt(1001) }, accounting.ErrAmountExceedsBalance},
		{"zero amount", func(_ *memoryAPRepo, in *PayBillInput) { in.Amount = decimal.Zero }, accounting.ErrInvalidAmount},
		{"missing bill", func(_ *memoryAPRepo, in *PayBillInput) { in.BillID = 42 }, ErrBillNotFound},
		{"missing bank", func(_ *memoryAPRepo, in *PayBillInput) { in.BankAccountID = 77 }, accounting.ErrBankAccountNotFound},
		{"missing mapping", func(r *memoryAPRepo, _ *PayBillInput) {
			delete(r.ledger.Mappings, accounting.MappingModuleAP+":"+accounting.MappingKeyControl)
		}, accounting.ErrMappingNotFound},
		{"post failure", func(r *memoryAPRepo, _ *PayBillInput) { r.ledger.FailOn = "MarkJournalPosted" }, ledgertest.ErrInjected},
		{"void bill", func(r *memoryAPRepo, _ *PayBillInput) {
			b := r.bills[1]
			b.Status = BillStatusVoid
			r.bills[1] = b
		}, ErrBillNotPayable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryAPRepo()
			repo.seedBill("1000")
			svc, _ := newTestService(repo)
			in := pay("250")
			tc.setup(repo, &in)

			_, err := svc.PayBill(context.Background(), testTenant, in)
			require.ErrorIs(t, err, tc.want)
			require.Empty(t, repo.payments)
			require.Empty(t, repo.ledger.Entries)
			require.Empty(t, repo.sequences)
			require.True(t, repo.bills[1].PaidAmount.IsZero())
			require.True(t, repo.ledger.Balance(ledgertest.BankChartID).Equal(decimal.NewFromInt(10000)))
			require.True(t, repo.ledger.Balance(ledgertest.PayableID).Equal(decimal.NewFromInt(3000)))
		})
	}
}

func TestCreateAndVoidBill(t *testing.T) {
	repo := newMemoryAPRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	bill, err := svc.CreateBill(ctx, testTenant, CreateBillInput{StoreID: 1, Number: "S-77", SupplierID: 4, Total: decimal.RequireFromString("99.999")})
	require.NoError(t, err)
	require.Equal(t, BillStatusOpen, bill.Status)
	require.Equal(t, "100", bill.Total.String())
	require.Equal(t, payDate, bill.BillDate)

	_, err = svc.CreateBill(ctx, testTenant, CreateBillInput{StoreID: 1, Number: "S-77", SupplierID: 4, Total: decimal.NewFromInt(5)})
	require.Error(t, err)

	_, err = svc.CreateBill(ctx, testTenant, CreateBillInput{StoreID: 1, SupplierID: 4, Total: decimal.NewFromInt(5)})
	require.Error(t, err)

	voided, err := svc.VoidBill(ctx, testTenant, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillStatusVoid, voided.Status)
	_, err = svc.VoidBill(ctx, testTenant, bill.ID)
	require.ErrorIs(t, err, ErrBillNotPayable)
}

func TestVoidBillWithPaymentsFails(t *testing.T) {
	repo := newMemoryAPRepo()
	repo.seedBill("1000")
	svc, _ := newTestService(repo)

	_, err := svc.PayBill(context.Background(), testTenant, pay("10"))
	require.NoError(t, err)
	_, err = svc.VoidBill(context.Background(), testTenant, 1)
	require.ErrorIs(t, err, ErrBillHasPayments)

	detail, err := svc.GetBill(context.Background(), testTenant, 1)
	require.NoError(t, err)
	require.Len(t, detail.Payments, 1)
	require.True(t, detail.BalanceDue.Equal(decimal.NewFromInt(990)))
}

func TestIsLedgerError(t *testing.T) {
	require.True(t, IsLedgerError(accounting.ErrMappingNotFound))
	require.False(t, IsLedgerError(ErrBillNotFound))
}
