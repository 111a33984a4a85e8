package traj

// Quaternion is a rotation as (X, Y, Z, W), scalar last as in TUM files
type Quaternion struct {
	X float64 `json:"qx"`
	Y float64 `json:"qy"`
	Z float64 `json:"qz"`
	W float64 `json:"qw"`
}

// IsZero reports whether all four components are exactly zero
func (q Quaternion) IsZero() bool {
	return q.X == 0 && q.Y == 0 && q.Z == 0 && q.W == 0
}

// Vec3 is a 3D translation or point
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PoseRecord is one validated line of a pose trajectory file:
// stamp tx ty tz qx qy qz qw
type PoseRecord struct {
	Stamp       string     `json:"stamp"`
	Translation Vec3       `json:"translation"`
	Rotation    Quaternion `json:"rotation"`
}

// Fields returns the seven numeric fields in file order
func (r PoseRecord) Fields() [7]float64 {
	return [7]float64{
		r.Translation.X, r.Translation.Y, r.Translation.Z,
		r.Rotation.X, r.Rotation.Y, r.Rotation.Z, r.Rotation.W,
	}
}

// Transform is a 4x4 homogeneous transform in row-major order.
// Row 3 is always [0 0 0 1].
type Transform [4][4]float64

// Match pairs a stamp of the first trajectory with a stamp of the second
type Match struct {
	First  string `json:"first"`
	Second string `json:"second"`
}

// ParseFailure records a data line that was dropped while parsing
type ParseFailure struct {
	// Line is the 1-based line number in the file
	Line int `json:"line"`
	// Index is the position among data lines (comments and blank lines excluded)
	Index  int    `json:"index"`
	Stamp  string `json:"stamp"`
	Reason string `json:"reason"`
}

// Reasons recorded in ParseFailure
const (
	ReasonNaN          = "nan"
	ReasonInfinite     = "infinite"
	ReasonZeroRotation = "zero quaternion"
)

// TrajectoryFile is the parsed content of a pose trajectory file
type TrajectoryFile struct {
	Path    string                `json:"path"`
	Poses   map[string]PoseRecord `json:"poses"`
	Skipped []ParseFailure        `json:"skipped,omitempty"`
}

// Transforms reconstructs the homogeneous transform of every pose
func (f *TrajectoryFile) Transforms() map[string]Transform {
	out := make(map[string]Transform, len(f.Poses))
	for stamp, rec := range f.Poses {
		out[stamp] = Transform44(rec)
	}
	return out
}

// FileList maps a stamp to the raw tokens that followed it on its line
type FileList map[string][]string
