package memory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/syntrixbase/bizdata/pkg/model"
)

// compileFilters turns the query filters into a single CEL program over the
// variable doc. A nil program matches everything.
func compileFilters(filters model.Filters) (cel.Program, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	expressions := make([]string, 0, len(filters))
	for _, f := range filters {
		expr, err := filterToExpression(f)
		if err != nil {
			return nil, err
		}
		expressions = append(expressions, expr)
	}

	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(strings.Join(expressions, " && "))
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidQuery, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}
	return prg, nil
}

func filterToExpression(f model.Filter) (string, error) {
	if !f.Validate() {
		return "", fmt.Errorf("%w: filter on %q", model.ErrInvalidQuery, f.Field)
	}
	val, err := formatValue(f.Value)
	if err != nil {
		return "", err
	}

	field := "doc"
	for _, p := range strings.Split(f.Field, ".") {
		field += "[" + strconv.Quote(p) + "]"
	}

	switch f.Op {
	case model.OpEq, model.OpNe, model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		return fmt.Sprintf("%s %s %s", field, f.Op, val), nil
	case model.OpIn:
		return fmt.Sprintf("%s in %s", field, val), nil
	case model.OpContains:
		return fmt.Sprintf("%s in %s", val, field), nil
	default:
		return "", fmt.Errorf("%w: unsupported operator %s", model.ErrInvalidQuery, f.Op)
	}
}

func formatValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val), nil
	case int, int32, int64:
		return fmt.Sprintf("%d", val), nil
	case float32, float64:
		s := fmt.Sprintf("%v", val)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s, nil
	case bool:
		return fmt.Sprintf("%v", val), nil
	case nil:
		return "null", nil
	case []string:
		items := make([]interface{}, len(val))
		for i, s := range val {
			items[i] = s
		}
		return formatValue(items)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, err := formatValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return "", fmt.Errorf("%w: unsupported value type %T", model.ErrInvalidQuery, v)
	}
}

// matches evaluates prg against doc. Evaluation errors, such as a missing
// field, count as no match.
func matches(prg cel.Program, doc model.Document) bool {
	if prg == nil {
		return true
	}
	out, _, err := prg.Eval(map[string]interface{}{"doc": map[string]interface{}(doc)})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// sortDocuments orders docs by the query order, falling back to id.
func sortDocuments(docs []model.Document, orderBy []model.Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orderBy {
			c := compareValues(docs[i][o.Field], docs[j][o.Field])
			if c == 0 {
				continue
			}
			if o.Direction == "desc" {
				return c > 0
			}
			return c < 0
		}
		return docs[i].GetID() < docs[j].GetID()
	})
}

// compareValues orders nil first, then numbers, strings, times and booleans.
func compareValues(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		return a.(time.Time).Compare(b.(time.Time))
	case 4:
		ba, bb := a.(bool), b.(bool)
		switch {
		case !ba && bb:
			return -1
		case ba && !bb:
			return 1
		}
	}
	return 0
}

func rank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int32, int64, float32, float64:
		return 1
	case string:
		return 2
	case time.Time:
		return 3
	case bool:
		return 4
	default:
		return 5
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
