package model

// FilterOp defines the supported filter operators.
type FilterOp string

const (
	OpEq       FilterOp = "=="       // Equal
	OpNe       FilterOp = "!="       // Not equal
	OpGt       FilterOp = ">"        // Greater than
	OpGte      FilterOp = ">="       // Greater than or equal
	OpLt       FilterOp = "<"        // Less than
	OpLte      FilterOp = "<="       // Less than or equal
	OpIn       FilterOp = "in"       // Value in array
	OpContains FilterOp = "contains" // Array contains value
)

// ValidOps returns all valid filter operators.
func ValidOps() []FilterOp {
	return []FilterOp{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains}
}

// IsValid checks if the operator is valid.
func (op FilterOp) IsValid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains:
		return true
	}
	return false
}

// Filters is a slice of Filter.
type Filters []Filter

// Filter represents a query filter
type Filter struct {
	Field string      `json:"field"`
	Op    FilterOp    `json:"op"`
	Value interface{} `json:"value"`
}

// Validate checks if the filter is valid.
func (f Filter) Validate() bool {
	if f.Field == "" {
		return false
	}
	return f.Op.IsValid()
}

// Order represents a sort order
type Order struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// Query carries the constraints of a collection read or subscription.
type Query struct {
	Collection string  `json:"collection"`
	Filters    Filters `json:"filters,omitempty"`
	OrderBy    []Order `json:"orderBy,omitempty"`
	Limit      int     `json:"limit,omitempty"`
}

// Validate checks filters and ordering directions.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if !f.Validate() {
			return ErrInvalidQuery
		}
	}
	for _, o := range q.OrderBy {
		if o.Field == "" {
			return ErrInvalidQuery
		}
		if o.Direction != "" && o.Direction != "asc" && o.Direction != "desc" {
			return ErrInvalidQuery
		}
	}
	if q.Limit < 0 {
		return ErrInvalidQuery
	}
	return nil
}
