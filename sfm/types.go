package sfm

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ID identifies views, poses, intrinsics and rigs within a scene.
type ID uint32

// Undefined marks an identifier slot with no assignment.
const Undefined ID = math.MaxUint32

// View represents a single camera capture within a reconstructed scene.
// Pose, intrinsic and rig linkage is by identifier only; the records
// themselves live in the owning Scene's maps, and an identifier may point
// at an absent record, meaning "undefined".
type View struct {
	ViewID      ID
	PoseID      ID
	IntrinsicID ID
	RigID       ID
	FrameID     ID
	Path        string
	Width       int
	Height      int
	Metadata    map[string]string
}

// NewView creates a view with the given identifier. Independent views share
// their pose slot with their view identity, so PoseID defaults to id; the
// intrinsic, rig and frame slots start undefined.
func NewView(id ID) *View {
	return &View{
		ViewID:      id,
		PoseID:      id,
		IntrinsicID: Undefined,
		RigID:       Undefined,
		FrameID:     Undefined,
	}
}

// IsPartOfRig reports whether the view belongs to a multi-camera rig.
func (v *View) IsPartOfRig() bool {
	return v.RigID != Undefined
}

// viewJSON mirrors View on disk. Identifier fields other than viewId are
// optional: absent means undefined, except poseId which defaults to viewId.
type viewJSON struct {
	ViewID      *ID               `json:"viewId"`
	PoseID      *ID               `json:"poseId,omitempty"`
	IntrinsicID *ID               `json:"intrinsicId,omitempty"`
	RigID       *ID               `json:"rigId,omitempty"`
	FrameID     *ID               `json:"frameId,omitempty"`
	Path        string            `json:"path"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON serializes the view, omitting undefined identifier slots.
func (v View) MarshalJSON() ([]byte, error) {
	aux := viewJSON{
		ViewID:   &v.ViewID,
		Path:     v.Path,
		Width:    v.Width,
		Height:   v.Height,
		Metadata: v.Metadata,
	}
	if v.PoseID != Undefined {
		aux.PoseID = &v.PoseID
	}
	if v.IntrinsicID != Undefined {
		aux.IntrinsicID = &v.IntrinsicID
	}
	if v.RigID != Undefined {
		aux.RigID = &v.RigID
	}
	if v.FrameID != Undefined {
		aux.FrameID = &v.FrameID
	}
	return json.Marshal(aux)
}

// UnmarshalJSON deserializes a view, applying the defaulting rules for
// absent identifier fields.
func (v *View) UnmarshalJSON(data []byte) error {
	var aux viewJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ViewID == nil {
		return fmt.Errorf("view record missing viewId")
	}

	v.ViewID = *aux.ViewID
	v.Path = aux.Path
	v.Width = aux.Width
	v.Height = aux.Height
	v.Metadata = aux.Metadata

	v.PoseID = v.ViewID
	if aux.PoseID != nil {
		v.PoseID = *aux.PoseID
	}
	v.IntrinsicID = Undefined
	if aux.IntrinsicID != nil {
		v.IntrinsicID = *aux.IntrinsicID
	}
	v.RigID = Undefined
	if aux.RigID != nil {
		v.RigID = *aux.RigID
	}
	v.FrameID = Undefined
	if aux.FrameID != nil {
		v.FrameID = *aux.FrameID
	}
	return nil
}

// Pose represents a camera-to-world placement: a row-major 3x3 rotation and
// a center in world units. Poses copy as whole values; the transfer engine
// never inspects the fields.
type Pose struct {
	Rotation [9]float64 `json:"rotation"`
	Center   [3]float64 `json:"center"`
	Locked   bool       `json:"locked,omitempty"`
}

// Intrinsic represents a calibration record shared by one or more views.
// Type tags the calibration model: "pinhole", "radial1", "radial3", "brown",
// "fisheye4" or "equidistant".
type Intrinsic struct {
	Type           string     `json:"type"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	SensorWidth    float64    `json:"sensorWidth,omitempty"`
	SensorHeight   float64    `json:"sensorHeight,omitempty"`
	SerialNumber   string     `json:"serialNumber,omitempty"`
	FocalLength    [2]float64 `json:"focalLength"`
	PrincipalPoint [2]float64 `json:"principalPoint"`
	Distortion     []float64  `json:"distortion,omitempty"`
	Locked         bool       `json:"locked,omitempty"`
}

// Assign overwrites the receiver's calibration values with those of src
// while preserving its identity: the record stays in its own map slot, so
// views linked to it remain linked.
func (in *Intrinsic) Assign(src *Intrinsic) {
	*in = *src
	in.Distortion = append([]float64(nil), src.Distortion...)
}

// Clone returns a deep copy of the intrinsic.
func (in *Intrinsic) Clone() *Intrinsic {
	out := *in
	out.Distortion = append([]float64(nil), in.Distortion...)
	return &out
}

// Rig represents a fixed multi-camera assembly. The transfer engine only
// consults rig membership on views; the record exists for format
// completeness.
type Rig struct {
	SubPoses int `json:"subPoses"`
}

// Scene owns the full reconstructed scene graph: views keyed by view id,
// poses keyed by pose id, intrinsics keyed by intrinsic id, rigs keyed by
// rig id. Poses are value entries (copied as a whole); intrinsics are
// pointer entries so calibration values can be reassigned in place for
// every view sharing the record.
type Scene struct {
	Version    string
	Views      map[ID]*View
	Poses      map[ID]Pose
	Intrinsics map[ID]*Intrinsic
	Rigs       map[ID]Rig
}

// NewScene creates an empty scene with initialized maps.
func NewScene() *Scene {
	return &Scene{
		Version:    FormatVersion,
		Views:      make(map[ID]*View),
		Poses:      make(map[ID]Pose),
		Intrinsics: make(map[ID]*Intrinsic),
		Rigs:       make(map[ID]Rig),
	}
}

// IsPoseDefined reports whether the view has a pose slot assigned and the
// scene holds a pose record for it.
func (s *Scene) IsPoseDefined(v *View) bool {
	if v.PoseID == Undefined {
		return false
	}
	_, ok := s.Poses[v.PoseID]
	return ok
}

// IsIntrinsicDefined reports whether the view has an intrinsic slot assigned
// and the scene holds an intrinsic record for it.
func (s *Scene) IsIntrinsicDefined(v *View) bool {
	if v.IntrinsicID == Undefined {
		return false
	}
	_, ok := s.Intrinsics[v.IntrinsicID]
	return ok
}

// IsPoseAndIntrinsicDefined reports whether the view is fully calibrated:
// both its pose and its intrinsic resolve to records in the scene.
func (s *Scene) IsPoseAndIntrinsicDefined(v *View) bool {
	return s.IsPoseDefined(v) && s.IsIntrinsicDefined(v)
}

// sortedIDs returns the map's keys in ascending order. All iteration that
// feeds output (matching, serialization, rendering) goes through this so
// results never depend on map ordering.
func sortedIDs[T any](m map[ID]T) []ID {
	ids := make([]ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Config represents the full configuration file. Every field is optional;
// flag values take precedence when set explicitly on the command line.
type Config struct {
	Method               string         `yaml:"method,omitempty" json:"method,omitempty"`
	FileMatchingPattern  string         `yaml:"fileMatchingPattern,omitempty" json:"fileMatchingPattern,omitempty"`
	MetadataMatchingList []string       `yaml:"metadataMatchingList,omitempty" json:"metadataMatchingList,omitempty"`
	TransferPoses        *bool          `yaml:"transferPoses,omitempty" json:"transferPoses,omitempty"`
	TransferIntrinsics   *bool          `yaml:"transferIntrinsics,omitempty" json:"transferIntrinsics,omitempty"`
	Overview             OverviewConfig `yaml:"overview,omitempty" json:"overview,omitempty"`
	MQTT                 MQTTConfig     `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
}

// OverviewConfig holds alignment-overview rendering settings.
type OverviewConfig struct {
	GridSpacing float64 `yaml:"gridSpacing,omitempty" json:"gridSpacing,omitempty"` // Grid line spacing in world units (default 1.0)
	Labels      *bool   `yaml:"labels,omitempty" json:"labels,omitempty"`           // Stamp view ids next to target centers (PNG only)
}

// MQTTConfig holds MQTT connection settings for report publishing.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	QoS           byte   `yaml:"qos,omitempty" json:"qos,omitempty"`
	Retain        bool   `yaml:"retain,omitempty" json:"retain,omitempty"`
}

// GetTransferPoses returns the pose-transfer flag, defaulting to true.
func (c *Config) GetTransferPoses() bool {
	if c.TransferPoses != nil {
		return *c.TransferPoses
	}
	return true
}

// GetTransferIntrinsics returns the intrinsic-transfer flag, defaulting to true.
func (c *Config) GetTransferIntrinsics() bool {
	if c.TransferIntrinsics != nil {
		return *c.TransferIntrinsics
	}
	return true
}

// GetLabels returns the overview label flag, defaulting to true.
func (oc *OverviewConfig) GetLabels() bool {
	if oc.Labels != nil {
		return *oc.Labels
	}
	return true
}
