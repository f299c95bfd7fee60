package usecase

import (
	"github.com/nomor/memclear/internal/domain"
)

// NewBatchPlan keeps the first occurrence of each eligible package, in order.
func NewBatchPlan(filter domain.Eligibility, packages []string, fastMode bool) domain.BatchPlan {
	seen := make(map[string]bool, len(packages))
	out := make([]string, 0, len(packages))
	for _, pkg := range packages {
		if seen[pkg] {
			continue
		}
		seen[pkg] = true
		if !filter.IsEligible(pkg) {
			continue
		}
		out = append(out, pkg)
	}
	return domain.BatchPlan{Packages: out, FastMode: fastMode}
}

// PlanFromRecords builds a plan from detector output.
func PlanFromRecords(filter domain.Eligibility, apps []domain.AppRecord, fastMode bool) domain.BatchPlan {
	ids := make([]string, len(apps))
	for i, a := range apps {
		ids[i] = a.PackageID
	}
	return NewBatchPlan(filter, ids, fastMode)
}
