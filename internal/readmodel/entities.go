// Package readmodel turns raw collection documents into typed, joined views.
package readmodel

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/syntrixbase/bizdata/pkg/model"
)

const (
	UnknownEmployee   = "Employé inconnu"
	UnknownDepartment = "Département inconnu"
)

// Employee is a person record. UID is the persisted account id; records
// carrying one are the stronger identity.
type Employee struct {
	ID           string    `json:"id"`
	UID          string    `json:"uid"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	DepartmentID string    `json:"departmentId"`
	Position     string    `json:"position"`
	HireDate     time.Time `json:"hireDate"`
	Active       bool      `json:"active"`
}

// DisplayName prefers "First Last" and falls back to Name, then Email.
func (e Employee) DisplayName() string {
	full := strings.TrimSpace(e.FirstName + " " + e.LastName)
	switch {
	case full != "":
		return full
	case e.Name != "":
		return e.Name
	default:
		return e.Email
	}
}

// Key is the natural key used for deduplication.
func (e Employee) Key() string {
	if email := strings.ToLower(strings.TrimSpace(e.Email)); email != "" {
		return email
	}
	return e.ID
}

// LeaveRequest is an absence request.
type LeaveRequest struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employeeId"`
	Type       string    `json:"type"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	Days       float64   `json:"days"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
}

// Duration returns the stored day count, or derives it from the dates.
func (l LeaveRequest) Duration() float64 {
	if l.Days > 0 {
		return l.Days
	}
	return float64(ComputeDays(l.StartDate, l.EndDate))
}

// Contract is an employment contract.
type Contract struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employeeId"`
	Type       string    `json:"type"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	Salary     float64   `json:"salary"`
	Status     string    `json:"status"`
}

// Department is an organisational unit.
type Department struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ManagerID string `json:"managerId"`
	ParentID  string `json:"parentId"`
}

// ComputeDays counts the days between start and end, both included. Invalid
// or reversed ranges count as one day.
func ComputeDays(start, end time.Time) int {
	if start.IsZero() || end.IsZero() {
		return 1
	}
	ms := end.Sub(start).Milliseconds()
	days := int(roundHalfUp(float64(ms)/86400000)) + 1
	if days < 1 {
		return 1
	}
	return days
}

func roundHalfUp(f float64) float64 {
	if f < 0 {
		return -roundHalfUp(-f)
	}
	return float64(int64(f + 0.5))
}

var timeType = reflect.TypeOf(time.Time{})

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// timeHook decodes RFC3339 or date strings, epoch milliseconds and
// time.Time values into time.Time fields. Empty strings decode to zero.
func timeHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case time.Time:
		return v, nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("unrecognised date %q", v)
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case int:
		return time.UnixMilli(int64(v)).UTC(), nil
	case nil:
		return time.Time{}, nil
	}
	return data, nil
}

// Decode converts one document into T.
func Decode[T any](doc model.Document) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       timeHook,
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(map[string]interface{}(doc)); err != nil {
		return out, err
	}
	return out, nil
}

// DecodeAll converts documents into T. Documents that cannot be decoded are
// skipped and logged: a malformed record never fails the view.
func DecodeAll[T any](docs []model.Document, logger *slog.Logger) []T {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			logger.Warn("skipping malformed record", "id", doc.GetID(), "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}
