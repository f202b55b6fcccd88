package spatial

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomLocation(r *rand.Rand) Location {
	return Location{Lat: r.Float64()*180 - 90, Lon: r.Float64()*360 - 180}
}

func TestDistanceMeters(t *testing.T) {
	t.Run("same point", func(t *testing.T) {
		loc := NewLocation(52.52, 13.405)
		assert.Zero(t, DistanceMeters(loc, loc))
	})

	t.Run("one degree of latitude", func(t *testing.T) {
		d := DistanceMeters(NewLocation(0, 0), NewLocation(1, 0))
		assert.InDelta(t, 111_319.49, d, 1.0)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := NewLocation(48.1351, 11.5820)
		b := NewLocation(52.5200, 13.4050)
		assert.InDelta(t, DistanceMeters(a, b), DistanceMeters(b, a), 1e-6)
	})
}

func TestGeofenceContains(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	t.Run("unbounded contains every location", func(t *testing.T) {
		fence := Unbounded()
		for i := 0; i < 500; i++ {
			assert.True(t, fence.Contains(randomLocation(r)))
		}
	})

	t.Run("any negative diameter is unbounded", func(t *testing.T) {
		fence := NewGeofence(NewLocation(10, 10), -42.5)
		assert.True(t, fence.IsUnbounded())
		assert.True(t, fence.Contains(NewLocation(-80, 170)))
	})

	t.Run("bounded matches distance comparison", func(t *testing.T) {
		for i := 0; i < 500; i++ {
			center := randomLocation(r)
			loc := randomLocation(r)
			d := r.Float64() * 20_000_000
			fence := NewGeofence(center, d)
			assert.Equal(t, DistanceMeters(center, loc) <= d, fence.Contains(loc))
		}
	})

	t.Run("boundary is inclusive", func(t *testing.T) {
		center := NewLocation(0, 0)
		loc := NewLocation(0.5, 0.5)
		fence := NewGeofence(center, DistanceMeters(center, loc))
		assert.True(t, fence.Contains(loc))
	})

	t.Run("zero diameter contains only its center", func(t *testing.T) {
		fence := NewGeofence(NewLocation(1, 1), 0)
		assert.True(t, fence.Contains(NewLocation(1, 1)))
		assert.False(t, fence.Contains(NewLocation(1, 1.0001)))
	})
}

func TestGeofenceIntersects(t *testing.T) {
	a := NewGeofence(NewLocation(0, 0), 100_000)

	t.Run("unbounded intersects anything", func(t *testing.T) {
		far := NewGeofence(NewLocation(60, 120), 1)
		assert.True(t, Unbounded().Intersects(far))
		assert.True(t, far.Intersects(Unbounded()))
	})

	t.Run("overlapping circles", func(t *testing.T) {
		// centers roughly 111km apart, radii sum 150km
		b := NewGeofence(NewLocation(1, 0), 200_000)
		assert.True(t, a.Intersects(b))
		assert.True(t, b.Intersects(a))
	})

	t.Run("disjoint circles", func(t *testing.T) {
		b := NewGeofence(NewLocation(1, 0), 100_000)
		assert.False(t, a.Intersects(b))
	})

	t.Run("touching circles intersect", func(t *testing.T) {
		c1 := NewLocation(0, 0)
		c2 := NewLocation(0, 1)
		d := DistanceMeters(c1, c2)
		assert.True(t, NewGeofence(c1, d).Intersects(NewGeofence(c2, d)))
	})
}

func TestGeofenceEqual(t *testing.T) {
	base := NewGeofence(NewLocation(52.5, 13.4), 1000)

	assert.True(t, base.Equal(base))
	assert.True(t, base.Equal(NewGeofence(NewLocation(52.5+1e-12, 13.4), 1000+1e-12)))
	assert.False(t, base.Equal(NewGeofence(NewLocation(52.5, 13.4), 1000.5)))
	assert.True(t, base.EqualWithin(NewGeofence(NewLocation(52.5, 13.4), 1000.5), 1))
	assert.True(t, Unbounded().Equal(NewGeofence(NewLocation(3, 3), -7)))
}

func TestLocationValidate(t *testing.T) {
	require.NoError(t, NewLocation(90, -180).Validate())
	assert.Error(t, NewLocation(91, 0).Validate())
	assert.Error(t, NewLocation(0, 181).Validate())
}
