package inventory

import (
	"sort"

	"evalgo.org/inventory/models"
)

// GroupLookup resolves the group of an element. It returns false when the
// element is unknown or has no group.
type GroupLookup func(elementID string) (groupID string, ok bool)

// Aggregate counts, per image and element group, the elements that run or
// cache the image. Rows in state PULL and rows of elements without group are
// not counted. The result is sparse: only non-zero counts are present.
func Aggregate(rows []models.ElementInstalledImage, groupOf GroupLookup) map[string]map[string]int {
	return aggregate(rows, groupOf, func(s models.ElementImageState) bool {
		return s != models.ElementImagePull
	})
}

// AggregateByState is like Aggregate restricted to rows in one install state.
func AggregateByState(rows []models.ElementInstalledImage, groupOf GroupLookup, state models.ElementImageState) map[string]map[string]int {
	return aggregate(rows, groupOf, func(s models.ElementImageState) bool {
		return s == state
	})
}

func aggregate(rows []models.ElementInstalledImage, groupOf GroupLookup, include func(models.ElementImageState) bool) map[string]map[string]int {
	counts := make(map[string]map[string]int)
	for _, row := range rows {
		if !include(row.State) {
			continue
		}
		group, ok := groupOf(row.ElementID)
		if !ok || group == "" {
			continue
		}
		perGroup, ok := counts[row.ImageID]
		if !ok {
			perGroup = make(map[string]int)
			counts[row.ImageID] = perGroup
		}
		perGroup[group]++
	}
	return counts
}

// Flatten converts an aggregation into a list of deployment counts ordered by
// image and group ID.
func Flatten(counts map[string]map[string]int) []models.ImageDeploymentCount {
	result := make([]models.ImageDeploymentCount, 0, len(counts))
	for imageID, groups := range counts {
		for groupID, n := range groups {
			result = append(result, models.ImageDeploymentCount{ImageID: imageID, GroupID: groupID, Count: n})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ImageID != result[j].ImageID {
			return result[i].ImageID < result[j].ImageID
		}
		return result[i].GroupID < result[j].GroupID
	})
	return result
}
