package reconcile

import (
	"sort"
	"time"

	"refereecore/pkg/domain"
)

// FinderOptions bounds a duplicate scan.
type FinderOptions struct {
	// SubmittedSince limits the scan to keys with at least one report
	// submitted at or after this instant. Every submitted member of such a key
	// is still grouped, so the bound never changes which report is the target.
	SubmittedSince *time.Time
}

// ReportGroup is one set of submitted reports sharing a key. TargetID is the
// lowest report id; SourceIDs are the remaining ids in ascending order.
type ReportGroup struct {
	Key       domain.ReportKey `json:"key"`
	TargetID  int64            `json:"target_id"`
	SourceIDs []int64          `json:"source_ids"`
}

// Size returns the number of reports in the group.
func (g ReportGroup) Size() int { return 1 + len(g.SourceIDs) }

// FindDuplicateReportGroups partitions submitted reports by exact key and
// returns every partition with more than one member, ordered by key.
func FindDuplicateReportGroups(view domain.TransactionView, opts FinderOptions) []ReportGroup {
	members := make(map[domain.ReportKey][]int64)
	recent := make(map[domain.ReportKey]bool)
	for _, report := range view.ListReports() {
		if !report.Submitted {
			continue
		}
		key := report.Key()
		members[key] = append(members[key], report.ID)
		if opts.SubmittedSince == nil || submittedSince(report, *opts.SubmittedSince) {
			recent[key] = true
		}
	}

	groups := make([]ReportGroup, 0)
	for key, ids := range members {
		if len(ids) < 2 || !recent[key] {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		groups = append(groups, ReportGroup{
			Key:       key,
			TargetID:  ids[0],
			SourceIDs: append([]int64(nil), ids[1:]...),
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key.Less(groups[j].Key) })
	return groups
}

func submittedSince(report domain.Report, bound time.Time) bool {
	return report.SubmittedAt != nil && !report.SubmittedAt.Before(bound)
}
