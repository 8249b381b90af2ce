package reconciliation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/platform/internal/shared/types"
)

var orderEpoch = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func order(id string, amount int64, account string, age int) PendingOrder {
	return PendingOrder{
		ID:          types.ID(id),
		ProductCode: "MJL_2.5mg_1m",
		Amount:      amount,
		AccountName: account,
		CreatedAt:   orderEpoch.Add(time.Duration(age) * time.Hour),
	}
}

func deposit(line int, name string, amount int64) DepositRow {
	return DepositRow{Line: line, Description: name, Amount: amount, NormalizedName: NormalizeName(name)}
}

func TestMatch_WidthVariants(t *testing.T) {
	for _, name := range []string{"タナカ タロウ", "ﾀﾅｶ ﾀﾛｳ", "ﾀﾅｶﾀﾛｳ"} {
		t.Run(name, func(t *testing.T) {
			res := Match([]DepositRow{deposit(2, name, 50000)}, []PendingOrder{
				order("o-1", 50000, "タナカ タロウ", 0),
			})
			require.Len(t, res.Matched, 1)
			assert.Equal(t, types.ID("o-1"), res.Matched[0].Order.ID)
			assert.Nil(t, res.Matched[0].UpdateSuccess)
			assert.Nil(t, res.Matched[0].NewPaymentID)
			assert.Empty(t, res.Unmatched)
			assert.Equal(t, Summary{Total: 1, Matched: 1}, res.Summary)
		})
	}
}

func TestMatch_EmptyAccountNameNeverSelected(t *testing.T) {
	o := order("o-1", 50000, "", 0)
	o.ShippingName = "タナカ タロウ"

	res := Match([]DepositRow{deposit(2, "ﾀﾅｶ ﾀﾛｳ", 50000)}, []PendingOrder{o})
	assert.Empty(t, res.Matched)
	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, ReasonNoMatchingOrder, res.Unmatched[0].Reason)
}

func TestMatch_ShippingNameMatches(t *testing.T) {
	o := order("o-1", 12000, "ヤマダ タロウ", 0)
	o.ShippingName = "ヤマダ ハナコ"

	res := Match([]DepositRow{deposit(2, "ﾔﾏﾀﾞ ﾊﾅｺ", 12000)}, []PendingOrder{o})
	require.Len(t, res.Matched, 1)
}

func TestMatch_DuplicateDepositsConsumeDistinctOrders(t *testing.T) {
	orders := []PendingOrder{
		order("o-late", 50000, "タナカ タロウ", 5),
		order("o-early", 50000, "タナカ タロウ", 1),
	}
	deposits := []DepositRow{
		deposit(2, "ﾀﾅｶ ﾀﾛｳ", 50000),
		deposit(3, "ﾀﾅｶ ﾀﾛｳ", 50000),
		deposit(4, "ﾀﾅｶ ﾀﾛｳ", 50000),
	}

	res := Match(deposits, orders)
	require.Len(t, res.Matched, 2)
	assert.Equal(t, types.ID("o-early"), res.Matched[0].Order.ID)
	assert.Equal(t, 2, res.Matched[0].Transfer.Line)
	assert.Equal(t, types.ID("o-late"), res.Matched[1].Order.ID)
	assert.Equal(t, 3, res.Matched[1].Transfer.Line)

	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, 4, res.Unmatched[0].Transfer.Line)
	assert.Equal(t, ReasonNoMatchingOrder, res.Unmatched[0].Reason)
	assert.Equal(t, Summary{Total: 3, Matched: 2, Unmatched: 1}, res.Summary)
}

func TestMatch_TieBreakByID(t *testing.T) {
	orders := []PendingOrder{
		order("o-b", 8800, "サトウ", 0),
		order("o-a", 8800, "サトウ", 0),
	}
	res := Match([]DepositRow{deposit(2, "ｻﾄｳ", 8800)}, orders)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, types.ID("o-a"), res.Matched[0].Order.ID)
}

func TestMatch_AmountMustBeEqual(t *testing.T) {
	res := Match([]DepositRow{deposit(2, "ﾀﾅｶ ﾀﾛｳ", 49999)}, []PendingOrder{
		order("o-1", 50000, "タナカ タロウ", 0),
	})
	assert.Empty(t, res.Matched)
	assert.Equal(t, ReasonNoMatchingOrder, res.Unmatched[0].Reason)
}

func TestMatch_NoPendingOrders(t *testing.T) {
	res := Match([]DepositRow{deposit(2, "ﾀﾅｶ ﾀﾛｳ", 50000), deposit(3, "ｻﾄｳ", 100)}, nil)
	require.Len(t, res.Unmatched, 2)
	for _, u := range res.Unmatched {
		assert.Equal(t, ReasonNoPendingOrders, u.Reason)
	}
	assert.NotNil(t, res.Matched)
}

func TestMatch_EmptyPayerNameNeverMatches(t *testing.T) {
	res := Match([]DepositRow{deposit(2, "  ", 50000)}, []PendingOrder{
		order("o-1", 50000, "タナカ タロウ", 0),
	})
	assert.Empty(t, res.Matched)
}

func TestMatch_DoesNotReorderInput(t *testing.T) {
	orders := []PendingOrder{order("o-2", 1, "A", 2), order("o-1", 1, "A", 1)}
	Match([]DepositRow{deposit(2, "A", 1)}, orders)
	assert.Equal(t, types.ID("o-2"), orders[0].ID)
}
