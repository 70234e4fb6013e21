package readmodel

// UniqueEmployees removes repeated identities. Records sharing a natural key
// collapse into one: a record carrying a UID replaces an earlier one without;
// otherwise the first seen wins. Output keeps first-appearance order.
func UniqueEmployees(list []Employee) []Employee {
	index := make(map[string]int, len(list))
	out := make([]Employee, 0, len(list))
	for _, e := range list {
		key := e.Key()
		if key == "" {
			out = append(out, e)
			continue
		}
		if i, ok := index[key]; ok {
			if out[i].UID == "" && e.UID != "" {
				out[i] = e
			}
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}

// LeaveRequestView is a leave request with its employee resolved.
type LeaveRequestView struct {
	LeaveRequest
	EmployeeName string  `json:"employeeName"`
	Duration     float64 `json:"duration"`
}

// ContractView is a contract with its employee resolved.
type ContractView struct {
	Contract
	EmployeeName string `json:"employeeName"`
}

// DepartmentView is a department with its manager and headcount resolved.
type DepartmentView struct {
	Department
	ManagerName string `json:"managerName"`
	Headcount   int    `json:"headcount"`
}

// EmployeeView is an employee with its department resolved.
type EmployeeView struct {
	Employee
	DisplayName    string `json:"displayName"`
	DepartmentName string `json:"departmentName"`
}

func employeeNames(employees []Employee) map[string]string {
	names := make(map[string]string, len(employees)*2)
	for _, e := range employees {
		name := e.DisplayName()
		if e.ID != "" {
			names[e.ID] = name
		}
		// Some records reference the account id instead of the document id.
		if e.UID != "" {
			if _, taken := names[e.UID]; !taken {
				names[e.UID] = name
			}
		}
	}
	return names
}

func lookup(names map[string]string, id, sentinel string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return sentinel
}

// EnrichLeaveRequests attaches employee names and durations.
func EnrichLeaveRequests(leaves []LeaveRequest, employees []Employee) []LeaveRequestView {
	names := employeeNames(employees)
	out := make([]LeaveRequestView, 0, len(leaves))
	for _, l := range leaves {
		out = append(out, LeaveRequestView{
			LeaveRequest: l,
			EmployeeName: lookup(names, l.EmployeeID, UnknownEmployee),
			Duration:     l.Duration(),
		})
	}
	return out
}

// EnrichContracts attaches employee names.
func EnrichContracts(contracts []Contract, employees []Employee) []ContractView {
	names := employeeNames(employees)
	out := make([]ContractView, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, ContractView{
			Contract:     c,
			EmployeeName: lookup(names, c.EmployeeID, UnknownEmployee),
		})
	}
	return out
}

// EnrichDepartments attaches manager names and headcounts.
func EnrichDepartments(departments []Department, employees []Employee) []DepartmentView {
	names := employeeNames(employees)
	headcount := make(map[string]int)
	for _, e := range employees {
		headcount[e.DepartmentID]++
	}
	out := make([]DepartmentView, 0, len(departments))
	for _, d := range departments {
		manager := UnknownEmployee
		if d.ManagerID != "" {
			manager = lookup(names, d.ManagerID, UnknownEmployee)
		}
		out = append(out, DepartmentView{
			Department:  d,
			ManagerName: manager,
			Headcount:   headcount[d.ID],
		})
	}
	return out
}

// EnrichEmployees attaches department names.
func EnrichEmployees(employees []Employee, departments []Department) []EmployeeView {
	deptNames := make(map[string]string, len(departments))
	for _, d := range departments {
		deptNames[d.ID] = d.Name
	}
	out := make([]EmployeeView, 0, len(employees))
	for _, e := range employees {
		out = append(out, EmployeeView{
			Employee:       e,
			DisplayName:    e.DisplayName(),
			DepartmentName: lookup(deptNames, e.DepartmentID, UnknownDepartment),
		})
	}
	return out
}
