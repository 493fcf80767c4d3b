package querykey

// Factory builds hierarchical keys for one remote table.
//
// The keys nest so that a broader key prefix-matches every narrower one:
//
//	All()        -> [table]
//	Lists()      -> [table, "list"]
//	List(f)      -> [table, "list", f]
//	Details()    -> [table, "detail"]
//	Detail(id)   -> [table, "detail", id]
//
// Invalidating All() therefore reaches every list and every row of the table.
type Factory struct {
	table string
}

// NewFactory returns a key factory scoped to table.
func NewFactory(table string) Factory {
	return Factory{table: table}
}

// Table returns the table the factory is scoped to.
func (f Factory) Table() string {
	return f.table
}

// All returns the key covering every query for the table.
func (f Factory) All() Key {
	return Key{f.table}
}

// Lists returns the key covering every list query for the table.
func (f Factory) Lists() Key {
	return f.All().Append("list")
}

// List returns the key of a list query with the given filters.
// A nil filters value addresses the unfiltered list.
func (f Factory) List(filters any) Key {
	if filters == nil {
		return f.Lists()
	}
	return f.Lists().Append(filters)
}

// Details returns the key covering every single-row query for the table.
func (f Factory) Details() Key {
	return f.All().Append("detail")
}

// Detail returns the key of the single-row query for id.
func (f Factory) Detail(id any) Key {
	return f.Details().Append(id)
}
