package teleop

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature "layer" property values.
const (
	LayerPoints = "points"
	LayerTrail  = "trail"
	LayerCell   = "cell"
	LayerRobot  = "robot"
)

// SceneToFeatureCollection exports a map scene as GeoJSON. Coordinates are
// world meters (x, y), not longitude/latitude. Hidden layers are omitted.
func SceneToFeatureCollection(s MapScene) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(s.Points) > 0 {
		mp := make(orb.MultiPoint, len(s.Points))
		for i, p := range s.Points {
			mp[i] = orb.Point{p.X, p.Y}
		}
		f := geojson.NewFeature(mp)
		f.Properties["layer"] = LayerPoints
		f.Properties["count"] = len(mp)
		fc.Append(f)
	}

	if s.Layers.Trail {
		if len(s.Path) > 1 {
			f := geojson.NewFeature(s.Path.Clone())
			f.Properties["layer"] = LayerTrail
			f.Properties["samples"] = len(s.Path)
			fc.Append(f)
		}
		for _, c := range s.Cells {
			f := geojson.NewFeature(c.Bounds().ToPolygon())
			f.ID = c.Key()
			f.Properties["layer"] = LayerCell
			fc.Append(f)
		}
	}

	if s.Layers.Robot && s.Pose != nil {
		f := geojson.NewFeature(orb.Point{s.Pose.X, s.Pose.Y})
		f.Properties["layer"] = LayerRobot
		f.Properties["heading"] = s.Pose.Heading
		fc.Append(f)
	}

	return fc
}
