package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func buy(shares, price, fees string, at time.Time) *Transaction {
	return NewTransaction("h1", TransactionBuy, dec(shares), dec(price), dec(fees), at, "")
}

func sell(shares, price, fees string, at time.Time) *Transaction {
	return NewTransaction("h1", TransactionSell, dec(shares), dec(price), dec(fees), at, "")
}

var baseTime = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func TestHoldingWeightedAverageBuy(t *testing.T) {
	h := NewHolding("PF1", "AAPL")

	if err := h.Apply(buy("25", "240", "1", baseTime)); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if err := h.Apply(buy("25", "251", "1", baseTime.Add(time.Hour))); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	if !h.Quantity.Equal(dec("50")) {
		t.Errorf("quantity = %s, want 50", h.Quantity)
	}
	if !h.AverageCost.Equal(dec("245.5")) {
		t.Errorf("average cost = %s, want 245.5", h.AverageCost)
	}
	// 手续费不摊入均价，单独累计
	if !h.FeesPaid.Equal(dec("2")) {
		t.Errorf("fees paid = %s, want 2", h.FeesPaid)
	}
}

func TestHoldingSellRealizesGain(t *testing.T) {
	h := NewHolding("PF1", "AAPL")
	if err := h.Apply(buy("25", "240", "0", baseTime)); err != nil {
		t.Fatal(err)
	}
	if err := h.Apply(buy("25", "251", "0", baseTime.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	if err := h.Apply(sell("10", "260", "0", baseTime.Add(2*time.Hour))); err != nil {
		t.Fatalf("sell: %v", err)
	}

	// 10 * (260 - 245.50) = 145
	if !h.RealizedGain.Equal(dec("145")) {
		t.Errorf("realized gain = %s, want 145", h.RealizedGain)
	}
	if !h.Quantity.Equal(dec("40")) {
		t.Errorf("quantity = %s, want 40", h.Quantity)
	}
	// 卖出不改变剩余持仓的均价
	if !h.AverageCost.Equal(dec("245.5")) {
		t.Errorf("average cost = %s, want 245.5", h.AverageCost)
	}
}

func TestHoldingSellFeeReducesGain(t *testing.T) {
	h := NewHolding("PF1", "MSFT")
	if err := h.Apply(buy("10", "100", "0", baseTime)); err != nil {
		t.Fatal(err)
	}
	if err := h.Apply(sell("5", "110", "3", baseTime.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	// 5 * (110 - 100) - 3 = 47
	if !h.RealizedGain.Equal(dec("47")) {
		t.Errorf("realized gain = %s, want 47", h.RealizedGain)
	}
}

func TestHoldingOversellRejected(t *testing.T) {
	h := NewHolding("PF1", "AAPL")
	if err := h.Apply(buy("10", "100", "0", baseTime)); err != nil {
		t.Fatal(err)
	}

	err := h.Apply(sell("11", "100", "0", baseTime.Add(time.Hour)))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}

	// 被拒绝的交易不得改变任何派生状态
	if !h.Quantity.Equal(dec("10")) || !h.AverageCost.Equal(dec("100")) || !h.RealizedGain.IsZero() {
		t.Errorf("state mutated after rejected sell: qty=%s avg=%s gain=%s", h.Quantity, h.AverageCost, h.RealizedGain)
	}
}

func TestHoldingAverageResetsWhenFlat(t *testing.T) {
	h := NewHolding("PF1", "AAPL")
	if err := h.Apply(buy("10", "100", "0", baseTime)); err != nil {
		t.Fatal(err)
	}
	if err := h.Apply(sell("10", "120", "0", baseTime.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	if !h.IsEmpty() {
		t.Fatalf("quantity = %s, want 0", h.Quantity)
	}
	if !h.AverageCost.IsZero() {
		t.Errorf("average cost = %s, want 0 after flat", h.AverageCost)
	}
	if !h.RealizedGain.Equal(dec("200")) {
		t.Errorf("realized gain = %s, want 200", h.RealizedGain)
	}

	// 清仓后再建仓，均价按新买入计算
	if err := h.Apply(buy("5", "90", "0", baseTime.Add(2*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if !h.AverageCost.Equal(dec("90")) {
		t.Errorf("average cost = %s, want 90 after re-entry", h.AverageCost)
	}
}

func TestHoldingInvalidTransactions(t *testing.T) {
	h := NewHolding("PF1", "AAPL")

	cases := []*Transaction{
		NewTransaction("h1", TransactionBuy, dec("0"), dec("100"), dec("0"), baseTime, ""),
		NewTransaction("h1", TransactionBuy, dec("-5"), dec("100"), dec("0"), baseTime, ""),
		NewTransaction("h1", TransactionBuy, dec("5"), dec("-1"), dec("0"), baseTime, ""),
		NewTransaction("h1", TransactionSell, dec("5"), dec("100"), dec("-1"), baseTime, ""),
		NewTransaction("h1", "SPLIT", dec("5"), dec("100"), dec("0"), baseTime, ""),
	}
	for i, txn := range cases {
		if err := h.Apply(txn); !errors.Is(err, ErrInvalidTransaction) {
			t.Errorf("case %d: err = %v, want ErrInvalidTransaction", i, err)
		}
	}
}

func TestReplayDeterministic(t *testing.T) {
	txns := []*Transaction{
		buy("25", "240", "1", baseTime),
		buy("25", "251", "1", baseTime.Add(time.Hour)),
		sell("10", "260", "2", baseTime.Add(2*time.Hour)),
		buy("5", "230", "0", baseTime.Add(3*time.Hour)),
	}

	first, err := Replay(txns)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Replay(txns)
		if err != nil {
			t.Fatal(err)
		}
		if !first.Quantity.Equal(again.Quantity) ||
			!first.AverageCost.Equal(again.AverageCost) ||
			!first.RealizedGain.Equal(again.RealizedGain) ||
			!first.FeesPaid.Equal(again.FeesPaid) {
			t.Fatalf("replay %d diverged: %+v vs %+v", i, first, again)
		}
	}
}

func TestReplayOrdersByExecutedAtThenSeq(t *testing.T) {
	// 同一时刻的交易按入账序号决出先后
	s := sell("10", "120", "0", baseTime)
	s.Seq = 2
	b := buy("10", "100", "0", baseTime)
	b.Seq = 1

	state, err := Replay([]*Transaction{s, b})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !state.Quantity.IsZero() {
		t.Errorf("quantity = %s, want 0", state.Quantity)
	}
	if !state.RealizedGain.Equal(dec("200")) {
		t.Errorf("realized gain = %s, want 200", state.RealizedGain)
	}
}

func TestRebuildOverwritesCorruptedState(t *testing.T) {
	h := NewHolding("PF1", "AAPL")
	txns := []*Transaction{
		buy("10", "100", "0", baseTime),
		sell("4", "110", "0", baseTime.Add(time.Hour)),
	}

	// 模拟派生字段损坏
	h.Quantity = dec("999")
	h.AverageCost = dec("1")

	if err := h.Rebuild(txns); err != nil {
		t.Fatal(err)
	}
	if !h.Quantity.Equal(dec("6")) {
		t.Errorf("quantity = %s, want 6", h.Quantity)
	}
	if !h.AverageCost.Equal(dec("100")) {
		t.Errorf("average cost = %s, want 100", h.AverageCost)
	}
	if !h.RealizedGain.Equal(dec("40")) {
		t.Errorf("realized gain = %s, want 40", h.RealizedGain)
	}
}
