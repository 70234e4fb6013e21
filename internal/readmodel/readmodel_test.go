package readmodel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/bizdata/pkg/model"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestComputeDays(t *testing.T) {
	tests := []struct {
		name       string
		start, end time.Time
		expected   int
	}{
		{"inclusive range", date("2024-01-01"), date("2024-01-03"), 3},
		{"same day", date("2024-01-01"), date("2024-01-01"), 1},
		{"reversed", date("2024-01-03"), date("2024-01-01"), 1},
		{"missing start", time.Time{}, date("2024-01-01"), 1},
		{"missing end", date("2024-01-01"), time.Time{}, 1},
		{"half day rounds up", date("2024-01-01"), date("2024-01-02").Add(12 * time.Hour), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeDays(tt.start, tt.end))
		})
	}
}

func TestLeaveRequest_Duration(t *testing.T) {
	assert.Equal(t, 2.5, LeaveRequest{Days: 2.5}.Duration())
	assert.Equal(t, 3.0, LeaveRequest{StartDate: date("2024-01-01"), EndDate: date("2024-01-03")}.Duration())
	assert.Equal(t, 1.0, LeaveRequest{}.Duration())
}

func TestDecode(t *testing.T) {
	leave, err := Decode[LeaveRequest](model.Document{
		"id":         "l1",
		"employeeId": "e1",
		"startDate":  "2024-01-01",
		"endDate":    "2024-01-03T00:00:00Z",
		"days":       "2",
		"extra":      "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", leave.EmployeeID)
	assert.Equal(t, date("2024-01-01"), leave.StartDate)
	assert.True(t, leave.EndDate.Equal(date("2024-01-03")))
	assert.Equal(t, 2.0, leave.Days)

	emp, err := Decode[Employee](model.Document{"id": "e1", "hireDate": float64(date("2020-05-01").UnixMilli())})
	require.NoError(t, err)
	assert.True(t, emp.HireDate.Equal(date("2020-05-01")))

	_, err = Decode[Employee](model.Document{"hireDate": "not a date"})
	assert.Error(t, err)
}

func TestDecodeAll_SkipsMalformed(t *testing.T) {
	out := DecodeAll[Employee]([]model.Document{
		{"id": "e1", "email": "a@x.fr"},
		{"id": "e2", "hireDate": "garbage"},
	}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "e1", out[0].ID)
}

func TestUniqueEmployees(t *testing.T) {
	t.Run("marker wins", func(t *testing.T) {
		out := UniqueEmployees([]Employee{
			{ID: "a", Email: "Marie@corp.fr", FirstName: "Marie"},
			{ID: "b", Email: "marie@corp.fr", FirstName: "Marie", UID: "uid-1"},
		})
		require.Len(t, out, 1)
		assert.Equal(t, "b", out[0].ID)
	})

	t.Run("first seen wins without marker", func(t *testing.T) {
		out := UniqueEmployees([]Employee{
			{ID: "a", Email: "x@corp.fr"},
			{ID: "b", Email: "x@corp.fr"},
		})
		require.Len(t, out, 1)
		assert.Equal(t, "a", out[0].ID)
	})

	t.Run("earlier marker kept", func(t *testing.T) {
		out := UniqueEmployees([]Employee{
			{ID: "a", Email: "x@corp.fr", UID: "u1"},
			{ID: "b", Email: "x@corp.fr", UID: "u2"},
			{ID: "c", Email: "x@corp.fr"},
		})
		require.Len(t, out, 1)
		assert.Equal(t, "a", out[0].ID)
	})

	t.Run("order and id fallback", func(t *testing.T) {
		out := UniqueEmployees([]Employee{
			{ID: "1", Email: "b@corp.fr"},
			{ID: "2"},
			{ID: "3", Email: "a@corp.fr"},
			{ID: "2"},
			{},
			{},
		})
		ids := make([]string, len(out))
		for i, e := range out {
			ids[i] = e.ID
		}
		assert.Equal(t, []string{"1", "2", "3", "", ""}, ids)
	})
}

func TestEnrich(t *testing.T) {
	employees := []Employee{
		{ID: "e1", UID: "u1", FirstName: "Alice", LastName: "Martin", DepartmentID: "d1"},
		{ID: "e2", Name: "Bob", DepartmentID: "gone"},
	}
	departments := []Department{{ID: "d1", Name: "RH", ManagerID: "e1"}, {ID: "d2", Name: "IT", ManagerID: "ghost"}, {ID: "d3", Name: "Vide"}}

	leaves := EnrichLeaveRequests([]LeaveRequest{
		{ID: "l1", EmployeeID: "e1", StartDate: date("2024-01-01"), EndDate: date("2024-01-03")},
		{ID: "l2", EmployeeID: "u1", Days: 1},
		{ID: "l3", EmployeeID: "missing"},
	}, employees)
	require.Len(t, leaves, 3)
	assert.Equal(t, "Alice Martin", leaves[0].EmployeeName)
	assert.Equal(t, 3.0, leaves[0].Duration)
	assert.Equal(t, "Alice Martin", leaves[1].EmployeeName)
	assert.Equal(t, UnknownEmployee, leaves[2].EmployeeName)

	contracts := EnrichContracts([]Contract{{ID: "c1", EmployeeID: "e2"}, {ID: "c2"}}, employees)
	assert.Equal(t, "Bob", contracts[0].EmployeeName)
	assert.Equal(t, UnknownEmployee, contracts[1].EmployeeName)

	depts := EnrichDepartments(departments, employees)
	assert.Equal(t, "Alice Martin", depts[0].ManagerName)
	assert.Equal(t, 1, depts[0].Headcount)
	assert.Equal(t, UnknownEmployee, depts[1].ManagerName)
	assert.Equal(t, UnknownEmployee, depts[2].ManagerName)

	views := EnrichEmployees(employees, departments)
	assert.Equal(t, "RH", views[0].DepartmentName)
	assert.Equal(t, UnknownDepartment, views[1].DepartmentName)
	assert.Equal(t, "Bob", views[1].DisplayName)
}

func TestProjection_RecomputesOnlyOnChange(t *testing.T) {
	src := NewStaticSource([]model.Document{{"id": "1"}})
	other := NewStaticSource(nil)
	p := NewProjection(func(in ...[]model.Document) int {
		return len(in[0]) + len(in[1])
	}, src, other)

	assert.Equal(t, 1, p.Get())
	assert.Equal(t, 1, p.Get())
	assert.Equal(t, 1, p.Runs())

	src.Set([]model.Document{{"id": "1"}, {"id": "2"}})
	assert.Equal(t, 2, p.Get())
	assert.Equal(t, 2, p.Runs())

	other.Set([]model.Document{{"id": "x"}})
	assert.Equal(t, 3, p.Get())
	assert.Equal(t, 3, p.Runs())
}

func TestHRView(t *testing.T) {
	employees := NewStaticSource([]model.Document{
		{"id": "e1", "email": "alice@corp.fr", "firstName": "Alice", "departmentId": "d1"},
		{"id": "e1b", "email": "ALICE@corp.fr", "firstName": "Alice", "uid": "u1", "departmentId": "d1"},
	})
	leaves := NewStaticSource([]model.Document{
		{"id": "l1", "employeeId": "e1b", "startDate": "2024-01-01", "endDate": "2024-01-03"},
		{"id": "l2", "employeeId": "nobody"},
	})
	depts := NewStaticSource([]model.Document{{"id": "d1", "name": "RH", "managerId": "e1b"}})

	v := NewHRView(HRSources{Employees: employees, LeaveRequests: leaves, Departments: depts}, nil)

	emps := v.Employees()
	require.Len(t, emps, 1)
	assert.Equal(t, "e1b", emps[0].ID)
	assert.Equal(t, "RH", emps[0].DepartmentName)

	lv := v.LeaveRequests()
	require.Len(t, lv, 2)
	assert.Equal(t, "Alice", lv[0].EmployeeName)
	assert.Equal(t, 3.0, lv[0].Duration)
	assert.Equal(t, UnknownEmployee, lv[1].EmployeeName)

	assert.Empty(t, v.Contracts())
	require.Len(t, v.Departments(), 1)
	assert.Equal(t, 1, v.Departments()[0].Headcount)
}

func TestSearchEmployees(t *testing.T) {
	list := []Employee{
		{ID: "1", FirstName: "Alice", LastName: "Martin", Email: "alice@corp.fr"},
		{ID: "2", FirstName: "Bob", LastName: "Durand", Email: "bob@corp.fr"},
		{ID: "3", FirstName: "Alicia", LastName: "Keys", Email: "ak@corp.fr"},
	}

	assert.Equal(t, list, SearchEmployees(list, "  "))

	got := SearchEmployees(list, "durand")
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	got = SearchEmployees(list, "ali")
	assert.Len(t, got, 2)

	assert.Empty(t, SearchEmployees(list, "zzz"))
}

func TestLoadAll(t *testing.T) {
	fetch := func(ctx context.Context, c string) ([]model.Document, error) {
		return []model.Document{{"id": c}}, nil
	}
	out, err := LoadAll(context.Background(), fetch, "employees", "contracts")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "contracts", out["contracts"][0].GetID())

	boom := errors.New("boom")
	_, err = LoadAll(context.Background(), func(ctx context.Context, c string) ([]model.Document, error) {
		if c == "contracts" {
			return nil, boom
		}
		return nil, nil
	}, "employees", "contracts")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "load contracts")
}
