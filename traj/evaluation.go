package traj

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Evaluation is the association result for one configured pair
type Evaluation struct {
	RunID         string         `json:"runId"`
	Pair          string         `json:"pair"`
	Format        string         `json:"format"`
	First         string         `json:"first"`
	Second        string         `json:"second"`
	Offset        float64        `json:"offset"`
	MaxDifference float64        `json:"maxDifference"`
	TieBreak      TieBreak       `json:"tieBreak"`
	FirstCount    int            `json:"firstCount"`
	SecondCount   int            `json:"secondCount"`
	Matches       []Match        `json:"matches"`
	Poses         []MatchedPose  `json:"poses,omitempty"`
	FirstSkipped  []ParseFailure `json:"firstSkipped,omitempty"`
	SecondSkipped []ParseFailure `json:"secondSkipped,omitempty"`
	Summary       Summary        `json:"summary"`
	EvaluatedAt   time.Time      `json:"evaluatedAt"`
}

// MatchedPose joins a match with the reconstructed transforms of both stamps
type MatchedPose struct {
	Match
	Difference float64   `json:"difference"`
	FirstPose  Transform `json:"firstPose"`
	SecondPose Transform `json:"secondPose"`
}

// Summary holds time statistics of an association. Gaps are measured after
// the offset has been applied to the second stamps.
type Summary struct {
	Matched         int     `json:"matched"`
	UnmatchedFirst  int     `json:"unmatchedFirst"`
	UnmatchedSecond int     `json:"unmatchedSecond"`
	MatchedFraction float64 `json:"matchedFraction"`
	MeanGap         float64 `json:"meanGap"`
	MaxGap          float64 `json:"maxGap"`
	StartStamp      float64 `json:"startStamp"`
	EndStamp        float64 `json:"endStamp"`
}

// Evaluate loads both files of a pair and associates them
func Evaluate(pc PairConfig) (*Evaluation, error) {
	return EvaluateContext(context.Background(), pc)
}

// EvaluateContext is like Evaluate but accepts a context for remote fetches.
// Locations starting with http:// or https:// are downloaded.
func EvaluateContext(ctx context.Context, pc PairConfig) (*Evaluation, error) {
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	tieBreak, _ := ParseTieBreak(pc.TieBreak)

	ev := &Evaluation{
		RunID:         uuid.NewString(),
		Pair:          pc.Name,
		Format:        pc.GetFormat(),
		First:         pc.First,
		Second:        pc.Second,
		Offset:        pc.Offset,
		MaxDifference: pc.GetMaxDifference(),
		TieBreak:      tieBreak,
		EvaluatedAt:   time.Now(),
	}
	opts := AssociateOptions{TieBreak: tieBreak}

	switch ev.Format {
	case FormatList:
		first, err := LoadFileList(ctx, pc.First, pc.Start, pc.End)
		if err != nil {
			return nil, fmt.Errorf("pair %q: %w", pc.Name, err)
		}
		second, err := LoadFileList(ctx, pc.Second, pc.Start, pc.End)
		if err != nil {
			return nil, fmt.Errorf("pair %q: %w", pc.Name, err)
		}
		ev.FirstCount, ev.SecondCount = len(first), len(second)
		ev.Matches, err = AssociateWith(first, second, ev.Offset, ev.MaxDifference, opts)
		if err != nil {
			return nil, fmt.Errorf("pair %q: %w", pc.Name, err)
		}

	default:
		first, err := LoadTrajectory(ctx, pc.First)
		if err != nil {
			return nil, fmt.Errorf("pair %q: %w", pc.Name, err)
		}
		second, err := LoadTrajectory(ctx, pc.Second)
		if err != nil {
			return nil, fmt.Errorf("pair %q: %w", pc.Name, err)
		}
		ev.FirstCount, ev.SecondCount = len(first.Poses), len(second.Poses)
		ev.FirstSkipped, ev.SecondSkipped = first.Skipped, second.Skipped
		ev.Matches, err = AssociateWith(first.Poses, second.Poses, ev.Offset, ev.MaxDifference, opts)
		if err != nil {
			return nil, fmt.Errorf("pair %q: %w", pc.Name, err)
		}
		ev.Poses = JoinPoses(ev.Matches, first.Poses, second.Poses, ev.Offset)
	}

	ev.Summary = Summarize(ev.Matches, ev.FirstCount, ev.SecondCount, ev.Offset)
	return ev, nil
}

// LoadTrajectory reads a pose trajectory from a local path or an http(s) URL
func LoadTrajectory(ctx context.Context, location string) (*TrajectoryFile, error) {
	if IsRemote(location) {
		return FetchTrajectory(ctx, location)
	}
	return ReadTrajectory(location)
}

// LoadFileList reads a file list from a local path or an http(s) URL
func LoadFileList(ctx context.Context, location string, start, end *int) (FileList, error) {
	if IsRemote(location) {
		return FetchFileList(ctx, location, start, end)
	}
	return ReadFileList(location, start, end)
}

// JoinPoses reconstructs the transforms of both sides of each match.
// Matches whose stamps are missing from either map are skipped.
func JoinPoses(matches []Match, first, second map[string]PoseRecord, offset float64) []MatchedPose {
	out := make([]MatchedPose, 0, len(matches))
	for _, m := range matches {
		a, ok := first[m.First]
		if !ok {
			continue
		}
		b, ok := second[m.Second]
		if !ok {
			continue
		}
		out = append(out, MatchedPose{
			Match:      m,
			Difference: gap(m, offset),
			FirstPose:  Transform44(a),
			SecondPose: Transform44(b),
		})
	}
	return out
}

// Summarize computes time statistics of a match list. Stamps of a committed
// match always parse, so parse errors are not expected here.
func Summarize(matches []Match, firstCount, secondCount int, offset float64) Summary {
	s := Summary{
		Matched:         len(matches),
		UnmatchedFirst:  firstCount - len(matches),
		UnmatchedSecond: secondCount - len(matches),
	}
	if firstCount > 0 {
		s.MatchedFraction = float64(len(matches)) / float64(firstCount)
	}
	if len(matches) == 0 {
		return s
	}

	s.StartStamp = math.Inf(1)
	s.EndStamp = math.Inf(-1)
	var total float64
	for _, m := range matches {
		d := gap(m, offset)
		total += d
		s.MaxGap = math.Max(s.MaxGap, d)

		a, _ := ParseStamp(m.First)
		s.StartStamp = math.Min(s.StartStamp, a)
		s.EndStamp = math.Max(s.EndStamp, a)
	}
	s.MeanGap = total / float64(len(matches))
	return s
}

func gap(m Match, offset float64) float64 {
	a, _ := ParseStamp(m.First)
	b, _ := ParseStamp(m.Second)
	return math.Abs(a - (b + offset))
}

// EvaluateAll evaluates independent pairs concurrently. The first error stops
// pairs that have not started yet. Results are returned in input order.
func EvaluateAll(ctx context.Context, pairs []PairConfig) ([]*Evaluation, error) {
	results := make([]*Evaluation, len(pairs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range pairs {
		pc := pairs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ev, err := EvaluateContext(ctx, pc)
			if err != nil {
				return err
			}
			results[i] = ev
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
