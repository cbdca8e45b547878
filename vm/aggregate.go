package vm

import (
	"daemondb/internal/dbutil"
	"daemondb/record"
)

// accumulator tracks one running Aggregate opcode's state: COUNT(*)
// counts unconditionally, COUNT(expr)/SUM skip NULL, MIN/MAX track the
// extreme by the total Value order and stay NULL until a non-NULL row is
// seen.
type accumulator struct {
	fn       AggFunc
	count    int64
	sum      float64
	sumIsInt bool
	seen     bool
	extreme  record.Value
}

func newAccumulator(fn AggFunc) *accumulator {
	return &accumulator{fn: fn, sumIsInt: true}
}

// add folds one row's value (NewNull() for COUNT(*), since it has no
// expr) into the accumulator.
func (a *accumulator) add(v record.Value, isCountStar bool) error {
	if isCountStar {
		a.count++
		return nil
	}
	if v.IsNull() {
		return nil
	}
	switch a.fn {
	case AggCount:
		a.count++
	case AggSum, AggAvg:
		a.count++
		switch v.Kind() {
		case record.Integer:
			a.sum += float64(v.Int())
		case record.Real:
			a.sum += v.Real()
			a.sumIsInt = false
		default:
			return dbutil.New(dbutil.KindType, "%v requires a numeric operand, got %v", a.fn, v.Kind())
		}
	case AggMin:
		if !a.seen || record.Compare(v, a.extreme) < 0 {
			a.extreme = v
			a.seen = true
		}
	case AggMax:
		if !a.seen || record.Compare(v, a.extreme) > 0 {
			a.extreme = v
			a.seen = true
		}
	}
	return nil
}

// finalize materializes the accumulator's result, emitted as a single
// row in the column order of the projection.
func (a *accumulator) finalize() record.Value {
	switch a.fn {
	case AggCount:
		return record.NewInt(a.count)
	case AggSum:
		if a.count == 0 {
			return record.NewNull()
		}
		if a.sumIsInt {
			return record.NewInt(int64(a.sum))
		}
		return record.NewReal(a.sum)
	case AggAvg:
		if a.count == 0 {
			return record.NewNull()
		}
		return record.NewReal(a.sum / float64(a.count))
	case AggMin, AggMax:
		if !a.seen {
			return record.NewNull()
		}
		return a.extreme
	default:
		return record.NewNull()
	}
}
