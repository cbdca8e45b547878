package plan

// ToPhysical lowers a logical plan into its physical counterpart. The only
// structural change at this stage is Scan -> TableScan; every other node
// passes through with its children lowered recursively, matching
// PhysicalPlan::from_logical's one-to-one mapping.
func ToPhysical(n Node) Node {
	switch p := n.(type) {
	case *Scan:
		return &TableScan{Table: p.Table}
	case *TableScan:
		return p
	case *Filter:
		return &Filter{Input: ToPhysical(p.Input), Predicate: p.Predicate}
	case *Projection:
		return &Projection{Input: ToPhysical(p.Input), Items: p.Items}
	case *Sort:
		return &Sort{Input: ToPhysical(p.Input), Keys: p.Keys}
	case *Limit:
		return &Limit{Input: ToPhysical(p.Input), Count: p.Count, Offset: p.Offset}
	default:
		// Insert, Update, Delete, CreateTable and Transaction are already
		// leaf operations with no Scan beneath them to lower.
		return n
	}
}
