package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"evalgo.org/inventory/models"
)

func row(element, image string, state models.ElementImageState) models.ElementInstalledImage {
	return models.ElementInstalledImage{ElementID: element, ImageID: image, State: state}
}

func TestAggregate(t *testing.T) {
	groups := map[string]string{"e1": "g1", "e2": "g1", "e3": "g2", "e4": ""}
	lookup := func(id string) (string, bool) {
		g, ok := groups[id]
		return g, ok
	}

	rows := []models.ElementInstalledImage{
		row("e1", "i1", models.ElementImageActive),
		row("e1", "i2", models.ElementImageCached),
		row("e2", "i1", models.ElementImageActive),
		row("e3", "i1", models.ElementImageCached),
		row("e3", "i3", models.ElementImagePull),
		row("e4", "i1", models.ElementImageActive),
		row("unknown", "i1", models.ElementImageActive),
	}

	counts := Aggregate(rows, lookup)
	assert.Equal(t, map[string]map[string]int{
		"i1": {"g1": 2, "g2": 1},
		"i2": {"g1": 1},
	}, counts)

	active := AggregateByState(rows, lookup, models.ElementImageActive)
	assert.Equal(t, map[string]map[string]int{"i1": {"g1": 2}}, active)

	assert.Equal(t, []models.ImageDeploymentCount{
		{ImageID: "i1", GroupID: "g1", Count: 2},
		{ImageID: "i1", GroupID: "g2", Count: 1},
		{ImageID: "i2", GroupID: "g1", Count: 1},
	}, Flatten(counts))
}

func TestAggregate_Empty(t *testing.T) {
	counts := Aggregate(nil, func(string) (string, bool) { return "", false })
	assert.Empty(t, counts)
	assert.Empty(t, Flatten(counts))
}
