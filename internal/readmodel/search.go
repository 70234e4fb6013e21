package readmodel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/bizdata/pkg/model"
)

type employeeSource []Employee

func (s employeeSource) String(i int) string {
	return s[i].DisplayName() + " " + s[i].Email
}

func (s employeeSource) Len() int { return len(s) }

// SearchEmployees returns the employees fuzzily matching query, best match
// first. An empty query returns the list unchanged.
func SearchEmployees(list []Employee, query string) []Employee {
	query = strings.TrimSpace(query)
	if query == "" {
		return list
	}
	matches := fuzzy.FindFrom(query, employeeSource(list))
	out := make([]Employee, 0, len(matches))
	for _, m := range matches {
		out = append(out, list[m.Index])
	}
	return out
}

// CollectionFetch reads one collection by handle.
type CollectionFetch func(ctx context.Context, collection string) ([]model.Document, error)

// LoadAll reads collections concurrently. The first failure cancels the rest.
func LoadAll(ctx context.Context, fetch CollectionFetch, collections ...string) (map[string][]model.Document, error) {
	var mu sync.Mutex
	out := make(map[string][]model.Document, len(collections))

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range collections {
		g.Go(func() error {
			docs, err := fetch(gctx, c)
			if err != nil {
				return fmt.Errorf("load %s: %w", c, err)
			}
			mu.Lock()
			out[c] = docs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
