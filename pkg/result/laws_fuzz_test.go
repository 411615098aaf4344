package result_test

import (
	"errors"
	"testing"

	"github.com/amirasaad/persistence/pkg/result"
)

var errOdd = errors.New("odd")

func half(n int) result.Result[int, error] {
	if n%2 != 0 {
		return result.Fail[int](errOdd)
	}
	return result.Ok[int, error](n / 2)
}

func inc(n int) result.Result[int, error] {
	return result.Ok[int, error](n + 1)
}

func equal(a, b result.Result[int, error]) bool {
	av, aok := a.Value()
	bv, bok := b.Value()
	if aok != bok {
		return false
	}
	if aok {
		return av == bv
	}
	ae, _ := a.Err()
	be, _ := b.Err()
	return errors.Is(ae, be) || errors.Is(be, ae)
}

// FuzzMonadLaws checks left identity, right identity and associativity of Bind.
func FuzzMonadLaws(f *testing.F) {
	f.Add(0, false)
	f.Add(7, false)
	f.Add(12, true)
	f.Add(-4, false)
	f.Fuzz(func(t *testing.T, n int, failing bool) {
		if !equal(result.Bind(result.Ok[int, error](n), half), half(n)) {
			t.Errorf("left identity broken for %d", n)
		}

		m := result.Ok[int, error](n)
		if failing {
			m = result.Fail[int](errOdd)
		}
		if !equal(result.Bind(m, func(v int) result.Result[int, error] { return result.Ok[int, error](v) }), m) {
			t.Errorf("right identity broken for %v", m)
		}

		lhs := result.Bind(result.Bind(m, half), inc)
		rhs := result.Bind(m, func(v int) result.Result[int, error] { return result.Bind(half(v), inc) })
		if !equal(lhs, rhs) {
			t.Errorf("associativity broken for %v: %v != %v", m, lhs, rhs)
		}
	})
}
