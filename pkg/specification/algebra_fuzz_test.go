package specification_test

import (
	"testing"

	"github.com/amirasaad/persistence/pkg/specification"
)

func generated() []specification.Spec[item] {
	return []specification.Spec[item]{
		fQty.Gt(0),
		fQty.Lte(10),
		fName.HasPrefix("a"),
		fName.Contains("z"),
		fPrice.Gte(1.5),
		fNote.IsNull(),
		fActive.Eq(true),
		fQty.In(1, 2, 3).Not(),
		specification.All[item](),
		specification.None[item](),
	}
}

// FuzzAlgebra checks the boolean laws of composition against generated candidates.
func FuzzAlgebra(f *testing.F) {
	f.Add("abc", 3, 2.0, true, false)
	f.Add("zz", -1, 0.5, false, true)
	f.Add("", 11, 1.5, true, true)
	f.Fuzz(func(t *testing.T, name string, qty int, price float64, active bool, withNote bool) {
		x := item{Name: name, Qty: qty, Price: price, Active: active}
		if withNote {
			x.Note = &name
		}
		specs := generated()
		for _, a := range specs {
			if a.Not().Not().IsSatisfiedBy(x) != a.IsSatisfiedBy(x) {
				t.Fatalf("double negation broken for %s", a)
			}
			for _, b := range specs {
				av, bv := a.IsSatisfiedBy(x), b.IsSatisfiedBy(x)
				if a.And(b).IsSatisfiedBy(x) != (av && bv) {
					t.Fatalf("AND broken for %s, %s", a, b)
				}
				if a.Or(b).IsSatisfiedBy(x) != (av || bv) {
					t.Fatalf("OR broken for %s, %s", a, b)
				}
				if a.And(b).Not().IsSatisfiedBy(x) != a.Not().Or(b.Not()).IsSatisfiedBy(x) {
					t.Fatalf("De Morgan (and) broken for %s, %s", a, b)
				}
				if a.Or(b).Not().IsSatisfiedBy(x) != a.Not().And(b.Not()).IsSatisfiedBy(x) {
					t.Fatalf("De Morgan (or) broken for %s, %s", a, b)
				}
				for _, c := range specs {
					if a.And(b).And(c).IsSatisfiedBy(x) != a.And(b.And(c)).IsSatisfiedBy(x) {
						t.Fatalf("AND associativity broken for %s, %s, %s", a, b, c)
					}
					if a.Or(b).Or(c).IsSatisfiedBy(x) != a.Or(b.Or(c)).IsSatisfiedBy(x) {
						t.Fatalf("OR associativity broken for %s, %s, %s", a, b, c)
					}
				}
			}
		}
	})
}
