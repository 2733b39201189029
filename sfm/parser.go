package sfm

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FormatVersion is the scene format version written by SaveScene.
const FormatVersion = "1.0"

// sceneJSON is the on-disk shape of a scene: record arrays, each entry
// carrying its own identifier. In memory the scene keeps maps instead.
type sceneJSON struct {
	Version    string          `json:"version"`
	Views      []*View         `json:"views"`
	Intrinsics []intrinsicJSON `json:"intrinsics,omitempty"`
	Poses      []poseJSON      `json:"poses,omitempty"`
	Rigs       []rigJSON       `json:"rigs,omitempty"`
}

type poseJSON struct {
	PoseID ID `json:"poseId"`
	Pose
}

type intrinsicJSON struct {
	IntrinsicID ID `json:"intrinsicId"`
	Intrinsic
}

type rigJSON struct {
	RigID ID `json:"rigId"`
	Rig
}

// LoadScene reads and parses a scene file. Gzip-compressed files are
// detected by their magic bytes and decompressed transparently, so both
// "scene.sfm" and "scene.sfm.gz" load the same way.
func LoadScene(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene file: %w", err)
	}

	if isGzip(data) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip scene %s: %w", path, err)
		}
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompressing scene %s: %w", path, err)
		}
		if err := zr.Close(); err != nil {
			return nil, fmt.Errorf("decompressing scene %s: %w", path, err)
		}
	}

	s, err := ParseScene(data)
	if err != nil {
		return nil, fmt.Errorf("parsing scene %s: %w", path, err)
	}
	return s, nil
}

// ParseScene parses scene JSON data and validates its structure. Duplicate
// identifiers within a record array are rejected.
func ParseScene(data []byte) (*Scene, error) {
	var file sceneJSON
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	s := NewScene()
	if file.Version != "" {
		s.Version = file.Version
	}

	for _, v := range file.Views {
		if _, dup := s.Views[v.ViewID]; dup {
			return nil, fmt.Errorf("duplicate view id %d", v.ViewID)
		}
		s.Views[v.ViewID] = v
	}
	for i := range file.Intrinsics {
		entry := &file.Intrinsics[i]
		if _, dup := s.Intrinsics[entry.IntrinsicID]; dup {
			return nil, fmt.Errorf("duplicate intrinsic id %d", entry.IntrinsicID)
		}
		in := entry.Intrinsic
		s.Intrinsics[entry.IntrinsicID] = &in
	}
	for _, entry := range file.Poses {
		if _, dup := s.Poses[entry.PoseID]; dup {
			return nil, fmt.Errorf("duplicate pose id %d", entry.PoseID)
		}
		s.Poses[entry.PoseID] = entry.Pose
	}
	for _, entry := range file.Rigs {
		if _, dup := s.Rigs[entry.RigID]; dup {
			return nil, fmt.Errorf("duplicate rig id %d", entry.RigID)
		}
		s.Rigs[entry.RigID] = entry.Rig
	}

	return s, nil
}

// marshalScene serializes a scene to indented JSON, record arrays sorted by
// identifier so unchanged scenes serialize to stable bytes.
func marshalScene(s *Scene) ([]byte, error) {
	file := sceneJSON{Version: s.Version}
	if file.Version == "" {
		file.Version = FormatVersion
	}

	for _, id := range sortedIDs(s.Views) {
		file.Views = append(file.Views, s.Views[id])
	}
	for _, id := range sortedIDs(s.Intrinsics) {
		file.Intrinsics = append(file.Intrinsics, intrinsicJSON{IntrinsicID: id, Intrinsic: *s.Intrinsics[id]})
	}
	for _, id := range sortedIDs(s.Poses) {
		file.Poses = append(file.Poses, poseJSON{PoseID: id, Pose: s.Poses[id]})
	}
	for _, id := range sortedIDs(s.Rigs) {
		file.Rigs = append(file.Rigs, rigJSON{RigID: id, Rig: s.Rigs[id]})
	}

	return json.MarshalIndent(&file, "", "  ")
}

// SaveScene writes the scene as indented JSON. A ".gz" suffix selects gzip
// compression. Parent directories are created as needed.
func SaveScene(path string, s *Scene) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating scene directory: %w", err)
	}

	data, err := marshalScene(s)
	if err != nil {
		return fmt.Errorf("marshaling scene: %w", err)
	}

	if strings.HasSuffix(path, ".gz") {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("compressing scene: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compressing scene: %w", err)
		}
		data = buf.Bytes()
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing scene file: %w", err)
	}
	return nil
}

// isGzip checks for the gzip magic bytes
func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// SceneSummary holds the counts reported by the probe mode.
type SceneSummary struct {
	Views        int
	Poses        int
	Intrinsics   int
	Rigs         int
	FullyDefined int
	RigViews     int
	MetadataKeys []string
}

// Summarize computes a scene summary: record counts, how many views are
// fully calibrated, how many belong to rigs, and the distinct metadata keys
// seen across all views (sorted).
func Summarize(s *Scene) SceneSummary {
	summary := SceneSummary{
		Views:      len(s.Views),
		Poses:      len(s.Poses),
		Intrinsics: len(s.Intrinsics),
		Rigs:       len(s.Rigs),
	}

	keys := make(map[string]bool)
	for _, v := range s.Views {
		if s.IsPoseAndIntrinsicDefined(v) {
			summary.FullyDefined++
		}
		if v.IsPartOfRig() {
			summary.RigViews++
		}
		for k := range v.Metadata {
			keys[k] = true
		}
	}

	for k := range keys {
		summary.MetadataKeys = append(summary.MetadataKeys, k)
	}
	sort.Strings(summary.MetadataKeys)

	return summary
}
