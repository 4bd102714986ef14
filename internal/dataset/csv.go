package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/skyhaven-systems/trajgen/internal/traj"
)

// CSV corpus layout, one trajectory per row:
//
//	sample_id, start_x..start_z, end_x..end_z, method_type,
//	point_0_x, point_0_y, point_0_z, ..., point_{N-1}_z
const metaColumns = 8

func header(nPoints int) []string {
	h := []string{"sample_id", "start_x", "start_y", "start_z", "end_x", "end_y", "end_z", "method_type"}
	for i := 0; i < nPoints; i++ {
		h = append(h,
			fmt.Sprintf("point_%d_x", i),
			fmt.Sprintf("point_%d_y", i),
			fmt.Sprintf("point_%d_z", i))
	}
	return h
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// SaveCSV writes the samples as one corpus file. All samples must share
// the same waypoint count.
func SaveCSV(path string, samples []Sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("refusing to write empty corpus to %s", path)
	}
	nPoints := len(samples[0].Points)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create corpus dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create corpus file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header(nPoints)); err != nil {
		return fmt.Errorf("failed to write corpus header: %w", err)
	}

	row := make([]string, 0, metaColumns+3*nPoints)
	for _, s := range samples {
		if len(s.Points) != nPoints {
			return fmt.Errorf("sample %d has %d waypoints, corpus uses %d", s.ID, len(s.Points), nPoints)
		}
		row = row[:0]
		row = append(row, strconv.Itoa(s.ID),
			ftoa(s.Start.X), ftoa(s.Start.Y), ftoa(s.Start.Z),
			ftoa(s.End.X), ftoa(s.End.Y), ftoa(s.End.Z),
			string(s.Method))
		for _, p := range s.Points {
			row = append(row, ftoa(p.X), ftoa(p.Y), ftoa(p.Z))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write sample %d: %w", s.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush corpus: %w", err)
	}
	return nil
}

// LoadCSV reads a corpus file written by SaveCSV.
func LoadCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	head, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus header: %w", err)
	}
	if len(head) < metaColumns+3 || (len(head)-metaColumns)%3 != 0 {
		return nil, fmt.Errorf("corpus header has %d columns, want %d + 3 per waypoint", len(head), metaColumns)
	}
	nPoints := (len(head) - metaColumns) / 3

	var samples []Sample
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("corpus line %d: %w", line, err)
		}
		s, err := parseRow(rec, nPoints)
		if err != nil {
			return nil, fmt.Errorf("corpus line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("corpus %s has no samples", path)
	}
	return samples, nil
}

func parseRow(rec []string, nPoints int) (Sample, error) {
	if len(rec) != metaColumns+3*nPoints {
		return Sample{}, fmt.Errorf("row has %d fields, want %d", len(rec), metaColumns+3*nPoints)
	}

	id, err := strconv.Atoi(rec[0])
	if err != nil {
		return Sample{}, fmt.Errorf("bad sample_id %q: %w", rec[0], err)
	}
	fields := make([]float64, 6)
	for i := range fields {
		fields[i], err = strconv.ParseFloat(rec[1+i], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("bad boundary coordinate %q: %w", rec[1+i], err)
		}
	}

	s := Sample{
		ID:     id,
		Start:  traj.Waypoint{X: fields[0], Y: fields[1], Z: fields[2]},
		End:    traj.Waypoint{X: fields[3], Y: fields[4], Z: fields[5]},
		Method: Method(rec[7]),
		Points: make(traj.Trajectory, nPoints),
	}
	for i := 0; i < nPoints; i++ {
		base := metaColumns + 3*i
		x, err := strconv.ParseFloat(rec[base], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("bad waypoint %d x %q: %w", i, rec[base], err)
		}
		y, err := strconv.ParseFloat(rec[base+1], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("bad waypoint %d y %q: %w", i, rec[base+1], err)
		}
		z, err := strconv.ParseFloat(rec[base+2], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("bad waypoint %d z %q: %w", i, rec[base+2], err)
		}
		s.Points[i] = traj.Waypoint{X: x, Y: y, Z: z}
	}
	if !s.Points[0].IsFinite() {
		return Sample{}, fmt.Errorf("sample %d has non-finite waypoints", id)
	}
	return s, nil
}
