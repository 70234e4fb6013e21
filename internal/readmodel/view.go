package readmodel

import (
	"log/slog"

	"github.com/syntrixbase/bizdata/pkg/model"
)

// HRSources are the collections an HR view is built from.
type HRSources struct {
	Employees     Source
	LeaveRequests Source
	Contracts     Source
	Departments   Source
}

// HRView exposes the HR screens' data as memoised projections.
type HRView struct {
	employees     *Projection[[]EmployeeView]
	leaveRequests *Projection[[]LeaveRequestView]
	contracts     *Projection[[]ContractView]
	departments   *Projection[[]DepartmentView]
}

// NewHRView wires projections over src. Missing sources read as empty.
func NewHRView(src HRSources, logger *slog.Logger) *HRView {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hr-view")
	empty := NewStaticSource(nil)
	pick := func(s Source) Source {
		if s == nil {
			return empty
		}
		return s
	}
	emp, leaves, contracts, depts := pick(src.Employees), pick(src.LeaveRequests), pick(src.Contracts), pick(src.Departments)

	uniq := func(docs []model.Document) []Employee {
		return UniqueEmployees(DecodeAll[Employee](docs, logger))
	}

	return &HRView{
		employees: NewProjection(func(in ...[]model.Document) []EmployeeView {
			return EnrichEmployees(uniq(in[0]), DecodeAll[Department](in[1], logger))
		}, emp, depts),
		leaveRequests: NewProjection(func(in ...[]model.Document) []LeaveRequestView {
			return EnrichLeaveRequests(DecodeAll[LeaveRequest](in[0], logger), uniq(in[1]))
		}, leaves, emp),
		contracts: NewProjection(func(in ...[]model.Document) []ContractView {
			return EnrichContracts(DecodeAll[Contract](in[0], logger), uniq(in[1]))
		}, contracts, emp),
		departments: NewProjection(func(in ...[]model.Document) []DepartmentView {
			return EnrichDepartments(DecodeAll[Department](in[0], logger), uniq(in[1]))
		}, depts, emp),
	}
}

func (v *HRView) Employees() []EmployeeView         { return v.employees.Get() }
func (v *HRView) LeaveRequests() []LeaveRequestView { return v.leaveRequests.Get() }
func (v *HRView) Contracts() []ContractView         { return v.contracts.Get() }
func (v *HRView) Departments() []DepartmentView     { return v.departments.Get() }
