// Package lake provides the raw data lake layout, partition writing, and
// extraction for the analytics pipeline. The lake holds date-partitioned
// event files and a single full user snapshot, stored as snappy-compressed
// NDJSON behind the object-storage abstraction.
package lake

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// EventsPrefix is the object prefix holding event partitions.
	EventsPrefix = "events/"

	// EventFileName is the per-partition event file name.
	EventFileName = "events.ndjson.snappy"

	// UsersObject is the full user snapshot object path.
	UsersObject = "users/users.ndjson.snappy"

	// partitionDirPrefix marks date-partition directories: dt=YYYY-MM-DD.
	partitionDirPrefix = "dt="
)

// EventPartitionObject returns the object path of the event file for a
// date partition.
func EventPartitionObject(date string) string {
	return fmt.Sprintf("%s%s%s/%s", EventsPrefix, partitionDirPrefix, date, EventFileName)
}

// PartitionDate extracts the partition date from an event object path.
// Returns false when the path is not a well-formed event partition.
func PartitionDate(objectPath string) (string, bool) {
	if !strings.HasPrefix(objectPath, EventsPrefix) || !strings.HasSuffix(objectPath, "/"+EventFileName) {
		return "", false
	}
	dir := strings.TrimSuffix(strings.TrimPrefix(objectPath, EventsPrefix), "/"+EventFileName)
	if !strings.HasPrefix(dir, partitionDirPrefix) || strings.Contains(dir, "/") {
		return "", false
	}
	date := strings.TrimPrefix(dir, partitionDirPrefix)
	if date == "" {
		return "", false
	}
	return date, true
}

// partitionDates extracts the sorted, deduplicated partition dates from a
// listing of event objects.
func partitionDates(objects []string) []string {
	seen := make(map[string]struct{})
	var dates []string
	for _, obj := range objects {
		date, ok := PartitionDate(obj)
		if !ok {
			continue
		}
		if _, dup := seen[date]; dup {
			continue
		}
		seen[date] = struct{}{}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// inRange reports whether a partition date falls within the inclusive
// bounds. Empty bounds are unbounded. Partition names sort the same way
// the dates do, so plain string comparison is sufficient.
func inRange(date, startDate, endDate string) bool {
	if startDate != "" && date < startDate {
		return false
	}
	if endDate != "" && date > endDate {
		return false
	}
	return true
}
