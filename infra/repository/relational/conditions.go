package relational

import (
	"fmt"
	"strings"

	"github.com/amirasaad/persistence/pkg/specification"
	"gorm.io/gorm/clause"
)

// Conditions translates specifications into GORM clause expressions. Values are
// always bound as parameters; column names come from the mapping whitelist.
type Conditions struct{}

var _ specification.Builder[clause.Expression] = Conditions{}

type literal string

func (l literal) Build(b clause.Builder) { _, _ = b.WriteString(string(l)) }

func (Conditions) True() clause.Expression  { return literal("1 = 1") }
func (Conditions) False() clause.Expression { return literal("1 = 0") }

func (Conditions) Compare(column string, op specification.Operator, value any) (clause.Expression, error) {
	switch op {
	case specification.OpEq, specification.OpNe, specification.OpGt, specification.OpGte,
		specification.OpLt, specification.OpLte, specification.OpIn, specification.OpNotIn,
		specification.OpIsNull, specification.OpNotNull:
		return predicate{column: column, op: op, value: value}, nil
	case specification.OpContains:
		return predicate{column: column, op: op, value: "%" + escapeLike(value.(string)) + "%"}, nil
	case specification.OpHasPrefix:
		return predicate{column: column, op: op, value: escapeLike(value.(string)) + "%"}, nil
	}
	return nil, fmt.Errorf("%w: operator %q", specification.ErrInvalidOperand, op)
}

func (Conditions) And(left, right clause.Expression) clause.Expression {
	return group{op: "AND", left: left, right: right}
}

func (Conditions) Or(left, right clause.Expression) clause.Expression {
	return group{op: "OR", left: left, right: right}
}

func (Conditions) Not(inner clause.Expression) clause.Expression { return negation{inner: inner} }

var sqlOps = map[specification.Operator]string{
	specification.OpEq:        " = ",
	specification.OpNe:        " <> ",
	specification.OpGt:        " > ",
	specification.OpGte:       " >= ",
	specification.OpLt:        " < ",
	specification.OpLte:       " <= ",
	specification.OpIn:        " IN ",
	specification.OpNotIn:     " NOT IN ",
	specification.OpContains:  " LIKE ",
	specification.OpHasPrefix: " LIKE ",
}

type predicate struct {
	column string
	op     specification.Operator
	value  any
}

func (p predicate) Build(b clause.Builder) {
	b.WriteQuoted(clause.Column{Name: p.column})
	switch p.op {
	case specification.OpIsNull:
		_, _ = b.WriteString(" IS NULL")
		return
	case specification.OpNotNull:
		_, _ = b.WriteString(" IS NOT NULL")
		return
	}
	_, _ = b.WriteString(sqlOps[p.op])
	b.AddVar(b, p.value)
	if p.op == specification.OpContains || p.op == specification.OpHasPrefix {
		_, _ = b.WriteString(` ESCAPE '\'`)
	}
}

// group parenthesizes every binary node so precedence never depends on the
// shape of the tree.
type group struct {
	op          string
	left, right clause.Expression
}

func (g group) Build(b clause.Builder) {
	_ = b.WriteByte('(')
	g.left.Build(b)
	_, _ = b.WriteString(" " + g.op + " ")
	g.right.Build(b)
	_ = b.WriteByte(')')
}

type negation struct {
	inner clause.Expression
}

func (n negation) Build(b clause.Builder) {
	_, _ = b.WriteString("NOT (")
	n.inner.Build(b)
	_ = b.WriteByte(')')
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
