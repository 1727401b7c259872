package ladder

import (
	"testing"

	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBuild_ConcreteScenario(t *testing.T) {
	t.Parallel()

	l := New(dec("0.1"), 4, dec("0.5"), dec("0.1"))
	l.Build(dec("100000"))

	if !l.IsCorrect() {
		t.Fatal("ladder should satisfy invariants after build")
	}

	want := []types.Level{
		{Side: types.LevelBuy, Price: dec("99500.0")},
		{Side: types.LevelBuy, Price: dec("99750.0")},
		{Side: types.LevelWait, Price: dec("100000.0")},
		{Side: types.LevelSell, Price: dec("100250.0")},
		{Side: types.LevelSell, Price: dec("100500.0")},
	}
	got := l.Levels()
	if len(got) != len(want) {
		t.Fatalf("len(levels) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Side != want[i].Side || !got[i].Price.Equal(want[i].Price) {
			t.Errorf("levels[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBuild_AnyAnchorSatisfiesInvariants(t *testing.T) {
	t.Parallel()

	anchors := []string{"1", "0.0001", "50000", "123456.789", "99999999"}
	for _, a := range anchors {
		l := New(dec("0.01"), 6, dec("1"), dec("0.1"))
		l.Build(dec(a))
		if !l.IsCorrect() {
			t.Errorf("anchor %s: ladder invariants should hold", a)
		}
		if len(l.Levels()) != 7 {
			t.Errorf("anchor %s: len(levels) = %d, want 7", a, len(l.Levels()))
		}
	}
}

func TestAnchorPrice(t *testing.T) {
	t.Parallel()

	l := New(dec("0.1"), 4, dec("0.5"), dec("0.1"))
	l.Build(dec("100000"))
	if got := l.AnchorPrice(); !got.Equal(dec("100000.0")) {
		t.Errorf("AnchorPrice() = %s, want 100000.0", got)
	}
}

func TestIsEmptyBeforeBuild(t *testing.T) {
	t.Parallel()

	l := New(dec("0.1"), 4, dec("0.5"), dec("0.1"))
	if !l.IsEmpty() {
		t.Error("freshly constructed ladder should be empty")
	}
	l.Build(dec("100000"))
	if l.IsEmpty() {
		t.Error("ladder should not be empty after build")
	}
}

func TestRebuild(t *testing.T) {
	t.Parallel()

	l := New(dec("0.1"), 4, dec("0.5"), dec("0.1"))
	l.Build(dec("100000"))
	l.Rebuild(dec("105000"))

	if !l.IsCorrect() {
		t.Fatal("ladder should satisfy invariants after rebuild")
	}
	if got := l.AnchorPrice(); !got.Equal(dec("105000.0")) {
		t.Errorf("AnchorPrice() after rebuild = %s, want 105000.0", got)
	}
}
