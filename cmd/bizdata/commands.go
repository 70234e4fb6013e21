package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/syntrixbase/bizdata/internal/notify"
	"github.com/syntrixbase/bizdata/internal/readmodel"
	"github.com/syntrixbase/bizdata/internal/services"
	"github.com/syntrixbase/bizdata/pkg/model"
)

type command struct {
	usage   string
	minArgs int
	run     func(ctx context.Context, mgr *services.Manager, args []string, out io.Writer) error
}

var commandOrder = []string{"list", "watch", "put", "delete", "sync", "leaves", "search"}

var commands = map[string]command{
	"list":   {usage: "<entity>", minArgs: 1, run: runList},
	"watch":  {usage: "<entity>", minArgs: 1, run: runWatch},
	"put":    {usage: "<entity> [id] key=value...", minArgs: 2, run: runPut},
	"delete": {usage: "<entity> <id>", minArgs: 2, run: runDelete},
	"sync":   {usage: "", run: runSync},
	"leaves": {usage: "", run: runLeaves},
	"search": {usage: "<query>", minArgs: 1, run: runSearch},
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runList(ctx context.Context, mgr *services.Manager, args []string, out io.Writer) error {
	docs, err := mgr.List(ctx, args[0])
	if err != nil {
		return err
	}
	return writeJSON(out, docs)
}

// runWatch prints every snapshot of a live entity until ctx is done.
func runWatch(ctx context.Context, mgr *services.Manager, args []string, out io.Writer) error {
	sub, err := mgr.Watch(ctx, args[0], nil)
	if err != nil {
		return err
	}
	defer sub.Close()

	var (
		last    uint64
		printed bool
	)
	emit := func() error {
		snap := sub.Snapshot()
		if printed && snap.Version == last {
			return nil
		}
		last, printed = snap.Version, true
		return writeJSON(out, map[string]any{
			"version":   snap.Version,
			"offline":   snap.Offline,
			"documents": snap.Documents,
		})
	}

	if err := emit(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			if err := emit(); err != nil {
				return err
			}
		}
	}
}

func runPut(ctx context.Context, mgr *services.Manager, args []string, out io.Writer) error {
	id, fields := "", args[1:]
	if !strings.Contains(fields[0], "=") {
		id, fields = fields[0], fields[1:]
	}
	doc, err := parseFields(fields)
	if err != nil {
		return err
	}
	res, err := mgr.Put(ctx, args[0], id, doc)
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

// parseFields turns key=value pairs into a document. Values that parse as
// JSON keep their type; anything else is a string.
func parseFields(fields []string) (model.Document, error) {
	doc := model.Document{}
	for _, f := range fields {
		key, raw, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, want key=value", f)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		doc[key] = v
	}
	return doc, nil
}

func runDelete(ctx context.Context, mgr *services.Manager, args []string, out io.Writer) error {
	res, err := mgr.Delete(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func runSync(ctx context.Context, mgr *services.Manager, _ []string, out io.Writer) error {
	counts, err := mgr.Sync(ctx)
	if werr := writeJSON(out, counts); werr != nil {
		return werr
	}
	return err
}

func runLeaves(ctx context.Context, mgr *services.Manager, _ []string, out io.Writer) error {
	view, err := mgr.HRView(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, view.LeaveRequests())
}

func runSearch(ctx context.Context, mgr *services.Manager, args []string, out io.Writer) error {
	view, err := mgr.HRView(ctx)
	if err != nil {
		return err
	}
	views := view.Employees()
	employees := make([]readmodel.Employee, len(views))
	byID := make(map[string]readmodel.EmployeeView, len(views))
	for i, v := range views {
		employees[i] = v.Employee
		byID[v.ID] = v
	}
	matches := readmodel.SearchEmployees(employees, strings.Join(args, " "))
	found := make([]readmodel.EmployeeView, 0, len(matches))
	for _, e := range matches {
		found = append(found, byID[e.ID])
	}
	return writeJSON(out, found)
}

// printNotifier shows notifications on the terminal.
type printNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printNotifier) Notify(_ context.Context, n notify.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n.Collection != "" {
		fmt.Fprintf(p.w, "[%s] %s (%s)\n", n.Level, n.Message, n.Collection)
		return
	}
	fmt.Fprintf(p.w, "[%s] %s\n", n.Level, n.Message)
}

