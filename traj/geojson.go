package traj

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// Feature kinds set in the "kind" property
const (
	KindFirstPath  = "first"
	KindSecondPath = "second"
	KindMatch      = "match"
)

// TrajectoryGeoJSON builds a FeatureCollection of the matched poses of ev,
// projected onto the XY plane: one LineString per side ordered by stamp and
// one LineString per match joining the two positions. A positive
// simplifyTolerance applies Douglas-Peucker to the two side paths.
func TrajectoryGeoJSON(ev *Evaluation, simplifyTolerance float64) (*geojson.FeatureCollection, error) {
	if ev == nil || ev.Format != FormatPose {
		return nil, ErrNoPoses
	}

	poses := slices.Clone(ev.Poses)
	slices.SortFunc(poses, func(x, y MatchedPose) int {
		a, _ := ParseStamp(x.First)
		b, _ := ParseStamp(y.First)
		return cmp.Or(cmp.Compare(a, b), cmp.Compare(x.First, y.First))
	})

	fc := geojson.NewFeatureCollection()
	if len(poses) == 0 {
		return fc, nil
	}

	firstPath := make(orb.LineString, 0, len(poses))
	secondPath := make(orb.LineString, 0, len(poses))
	for _, mp := range poses {
		firstPath = append(firstPath, xy(mp.FirstPose))
		secondPath = append(secondPath, xy(mp.SecondPose))
	}

	fc.Append(pathFeature(KindFirstPath, ev.First, firstPath, simplifyTolerance))
	fc.Append(pathFeature(KindSecondPath, ev.Second, secondPath, simplifyTolerance))

	for _, mp := range poses {
		f := geojson.NewFeature(orb.LineString{xy(mp.FirstPose), xy(mp.SecondPose)})
		f.ID = fmt.Sprintf("%s/%s", mp.First, mp.Second)
		f.Properties["kind"] = KindMatch
		f.Properties["first"] = mp.First
		f.Properties["second"] = mp.Second
		f.Properties["difference"] = mp.Difference
		fc.Append(f)
	}

	return fc, nil
}

func pathFeature(kind, source string, path orb.LineString, tolerance float64) *geojson.Feature {
	var geom orb.Geometry = path
	if tolerance > 0 && len(path) > 2 {
		if ls, ok := simplify.DouglasPeucker(tolerance).Simplify(path.Clone()).(orb.LineString); ok {
			geom = ls
		}
	}

	f := geojson.NewFeature(geom)
	f.ID = kind
	f.Properties["kind"] = kind
	f.Properties["source"] = source
	f.Properties["poses"] = len(path)
	f.Properties["length"] = planar.Length(path)
	return f
}

func xy(m Transform) orb.Point {
	p := m.Position()
	return orb.Point{p.X, p.Y}
}
