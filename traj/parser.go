package traj

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ReadTrajectory reads a pose trajectory file of "stamp tx ty tz qx qy qz qw" lines
func ReadTrajectory(path string) (*TrajectoryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trajectory: %w", err)
	}
	return parseTrajectory(string(data), path)
}

// ParseTrajectory parses trajectory data from r. name is used in diagnostics.
func ParseTrajectory(r io.Reader, name string) (*TrajectoryFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading trajectory: %w", err)
	}
	return parseTrajectory(string(data), name)
}

func parseTrajectory(data, name string) (*TrajectoryFile, error) {
	f := &TrajectoryFile{
		Path:  name,
		Poses: make(map[string]PoseRecord),
	}

	index := 0
	for _, line := range dataLines(data) {
		if len(line.tokens) == 0 {
			continue
		}
		i := index
		index++

		values, err := parseFloats(line.tokens[1:])
		if err != nil {
			return nil, &ParseError{Path: name, Line: line.number, Err: err}
		}
		if len(values) < 7 {
			return nil, &ParseError{
				Path: name,
				Line: line.number,
				Err:  fmt.Errorf("%w: got %d", ErrShortRecord, len(values)),
			}
		}

		rec := PoseRecord{
			Stamp:       line.tokens[0],
			Translation: Vec3{X: values[0], Y: values[1], Z: values[2]},
			Rotation:    Quaternion{X: values[3], Y: values[4], Z: values[5], W: values[6]},
		}

		if rec.Rotation.IsZero() {
			f.Skipped = append(f.Skipped, ParseFailure{
				Line: line.number, Index: i, Stamp: rec.Stamp, Reason: ReasonZeroRotation,
			})
			continue
		}
		if hasNaN(rec.Fields()) {
			Logf("Warning: line %d of file '%s' has NaNs, skipping line", i, name)
			f.Skipped = append(f.Skipped, ParseFailure{
				Line: line.number, Index: i, Stamp: rec.Stamp, Reason: ReasonNaN,
			})
			continue
		}
		if hasInf(rec.Fields()) {
			Logf("Warning: line %d of file '%s' has infinite values, skipping line", i, name)
			f.Skipped = append(f.Skipped, ParseFailure{
				Line: line.number, Index: i, Stamp: rec.Stamp, Reason: ReasonInfinite,
			})
			continue
		}

		f.Poses[rec.Stamp] = rec
	}

	return f, nil
}

// ReadFileList reads a generic "stamp d1 d2 d3 ..." file.
// start and end select a [start, end) range of data lines with slice
// semantics; nil means unbounded.
func ReadFileList(path string, start, end *int) (FileList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file list: %w", err)
	}
	return parseFileList(string(data), path, start, end), nil
}

// ParseFileList parses generic stamp data from r. name is used in diagnostics.
func ParseFileList(r io.Reader, name string, start, end *int) (FileList, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading file list: %w", err)
	}
	return parseFileList(string(data), name, start, end), nil
}

func parseFileList(data, name string, start, end *int) FileList {
	lines := dataLines(data)
	// The bound check uses the raw line count, comments and blanks included.
	total := strings.Count(data, "\n") + 1

	s := 0
	if start != nil {
		s = *start
	}
	e := total
	if end != nil {
		e = *end
	}
	if e > total {
		Logf("Warning: \"end\" was larger than number of frames in \"%s\": %d > %d", name, e, total)
	}

	lo, hi := sliceBounds(len(lines), s, e)
	list := make(FileList)
	for _, line := range lines[lo:hi] {
		if len(line.tokens) > 1 {
			list[line.tokens[0]] = line.tokens[1:]
		}
	}
	return list
}

type dataLine struct {
	number int
	tokens []string
}

// dataLines splits data on newlines, normalizes commas and tabs to spaces and
// keeps every line that is non-empty and does not start with '#'. Lines that
// hold only whitespace are kept with no tokens.
func dataLines(data string) []dataLine {
	data = strings.NewReplacer(",", " ", "\t", " ").Replace(data)
	raw := strings.Split(data, "\n")

	lines := make([]dataLine, 0, len(raw))
	for n, line := range raw {
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var tokens []string
		for _, v := range strings.Split(line, " ") {
			if v = strings.TrimSpace(v); v != "" {
				tokens = append(tokens, v)
			}
		}
		lines = append(lines, dataLine{number: n + 1, tokens: tokens})
	}
	return lines
}

func parseFloats(tokens []string) ([]float64, error) {
	values := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		// Out-of-range values parse to ±Inf and are dropped per record
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return nil, fmt.Errorf("%w %q", ErrInvalidNumber, tok)
		}
		values[i] = v
	}
	return values, nil
}

func hasNaN(values [7]float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func hasInf(values [7]float64) bool {
	for _, v := range values {
		if math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// sliceBounds resolves [start, end) against a sequence of length n the way a
// slice expression with negative indices would, clamping to [0, n].
func sliceBounds(n, start, end int) (int, int) {
	clamp := func(i int) int {
		if i < 0 {
			i += n
			if i < 0 {
				return 0
			}
		}
		if i > n {
			return n
		}
		return i
	}
	lo, hi := clamp(start), clamp(end)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
