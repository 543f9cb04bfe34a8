package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"evalgo.org/inventory/models"
)

// DeploymentStatistics counts, for every image, the elements per group that
// run or cache it.
func (s *Service) DeploymentStatistics(ctx context.Context) ([]models.ImageDeploymentCount, error) {
	defer observeStatistics("all", time.Now())

	rows, err := s.store.ListInstalledImages(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list installed images: %w", err)
	}
	elements, err := s.elementIndex(ctx)
	if err != nil {
		return nil, err
	}
	return Flatten(Aggregate(rows, groupLookup(elements))), nil
}

// ImageStatistics returns the active and cached counts of an image per
// element group, ordered by group name.
func (s *Service) ImageStatistics(ctx context.Context, imageID string) (*models.ImageStatistics, error) {
	defer observeStatistics("image", time.Now())

	img, err := s.getImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListInstalledImages(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("list installations of image %s: %w", imageID, err)
	}
	elements, err := s.elementIndex(ctx)
	if err != nil {
		return nil, err
	}

	lookup := groupLookup(elements)
	active := AggregateByState(rows, lookup, models.ElementImageActive)[imageID]
	cached := AggregateByState(rows, lookup, models.ElementImageCached)[imageID]

	groupNames := make(map[string]string)
	for _, el := range elements {
		if el.GroupID != "" {
			groupNames[el.GroupID] = el.GroupName
		}
	}

	groups := make(map[string]*models.GroupImageStatistics)
	entry := func(groupID string) *models.GroupImageStatistics {
		g, ok := groups[groupID]
		if !ok {
			g = &models.GroupImageStatistics{GroupID: groupID, GroupName: groupNames[groupID]}
			groups[groupID] = g
		}
		return g
	}
	for groupID, n := range active {
		entry(groupID).Active = n
	}
	for groupID, n := range cached {
		entry(groupID).Cached = n
	}

	stats := &models.ImageStatistics{Image: *img, Groups: make([]models.GroupImageStatistics, 0, len(groups))}
	for _, g := range groups {
		stats.Groups = append(stats.Groups, *g)
	}
	sort.Slice(stats.Groups, func(i, j int) bool {
		a, b := stats.Groups[i], stats.Groups[j]
		if a.GroupName != b.GroupName {
			return a.GroupName < b.GroupName
		}
		return a.GroupID < b.GroupID
	})
	return stats, nil
}

// GroupImageElements lists the elements of a group that run or cache an
// image, ordered by element name.
func (s *Service) GroupImageElements(ctx context.Context, imageID, groupID string) (*models.GroupImageElements, error) {
	defer observeStatistics("group", time.Now())

	img, err := s.getImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	elements, err := s.elementIndex(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.GroupImageElements{
		Image:    *img,
		GroupID:  groupID,
		Elements: make([]models.GroupElementImageState, 0),
	}
	known := false
	for _, el := range elements {
		if el.GroupID == groupID {
			known = true
			result.GroupName = el.GroupName
			break
		}
	}
	if !known {
		return nil, &NotFoundError{Kind: "group", ID: groupID}
	}

	rows, err := s.store.ListInstalledImages(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("list installations of image %s: %w", imageID, err)
	}
	for _, row := range rows {
		if row.State == models.ElementImagePull {
			continue
		}
		el, ok := elements[row.ElementID]
		if !ok || el.GroupID != groupID {
			continue
		}
		result.Elements = append(result.Elements, models.GroupElementImageState{
			ElementID:   el.ID,
			ElementName: el.Name,
			ElementRole: el.Role,
			State:       row.State,
		})
	}
	sort.Slice(result.Elements, func(i, j int) bool {
		return result.Elements[i].ElementName < result.Elements[j].ElementName
	})
	return result, nil
}

func observeStatistics(scope string, start time.Time) {
	statisticsDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
}
