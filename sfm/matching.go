package sfm

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// MatchingMethod selects how views are paired across two scenes.
type MatchingMethod int

const (
	// MatchFromViewID pairs views whose stable identifiers are equal.
	MatchFromViewID MatchingMethod = iota
	// MatchFromFilePath pairs views whose derived path keys are equal.
	MatchFromFilePath
	// MatchFromMetadata pairs views whose values agree on a set of
	// metadata keys.
	MatchFromMetadata
)

// matchingMethodNames is the bidirectional textual mapping used by the
// configuration surface.
var matchingMethodNames = map[MatchingMethod]string{
	MatchFromViewID:   "from_viewid",
	MatchFromFilePath: "from_filepath",
	MatchFromMetadata: "from_metadata",
}

// ParseMatchingMethod maps the textual configuration form to a
// MatchingMethod. Unrecognized text is a configuration error, not a panic.
func ParseMatchingMethod(s string) (MatchingMethod, error) {
	for m, name := range matchingMethodNames {
		if s == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown matching method %q (expected from_viewid, from_filepath or from_metadata)", s)
}

func (m MatchingMethod) String() string {
	if name, ok := matchingMethodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MatchingMethod(%d)", int(m))
}

// Correspondence links a view in the target scene to a view in the
// reference scene. The pair set built by a resolver is consumed once by the
// transfer engine and discarded; it is not required to be a bijection.
type Correspondence struct {
	TargetViewID    ID
	ReferenceViewID ID
}

// MatchOptions carries the strategy parameters: FilePattern is used only by
// from_filepath, MetadataKeys only by from_metadata.
type MatchOptions struct {
	FilePattern  string
	MetadataKeys []string
}

// DefaultMetadataKeys identify the physical camera and lens. Two views
// agreeing on all four almost certainly come from the same device.
var DefaultMetadataKeys = []string{"Make", "Model", "Exif:BodySerialNumber", "Exif:LensSerialNumber"}

// FindCommonViews resolves the correspondence set between target and
// reference under the selected strategy. An empty result is returned as an
// empty slice, never as an error; the caller decides whether that is fatal.
func FindCommonViews(method MatchingMethod, target, reference *Scene, opts MatchOptions) ([]Correspondence, error) {
	switch method {
	case MatchFromViewID:
		return MatchViewsByID(target, reference), nil
	case MatchFromFilePath:
		return MatchViewsByFilePath(target, reference, opts.FilePattern)
	case MatchFromMetadata:
		keys := opts.MetadataKeys
		if len(keys) == 0 {
			keys = DefaultMetadataKeys
		}
		return MatchViewsByMetadata(target, reference, keys), nil
	}
	return nil, fmt.Errorf("unknown matching method %v", method)
}

// MatchViewsByID pairs views present in both scenes under the same stable
// identifier. Identifiers are unique per scene, so each shared identifier
// yields exactly one (id, id) pair. Pairs are emitted in ascending id order.
func MatchViewsByID(target, reference *Scene) []Correspondence {
	var pairs []Correspondence
	for _, id := range sortedIDs(target.Views) {
		if _, ok := reference.Views[id]; ok {
			pairs = append(pairs, Correspondence{TargetViewID: id, ReferenceViewID: id})
		}
	}
	return pairs
}

// CompileFilePattern compiles a file matching pattern, or returns nil for
// the empty pattern (base-filename matching). Exposed so the orchestrator
// can reject a malformed pattern before any scene is loaded.
func CompileFilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid file matching pattern %q: %w", pattern, err)
	}
	return re, nil
}

// MatchViewsByFilePath pairs views whose derived path keys are equal. With
// an empty pattern the key is the base filename, so images relocated
// between the two datasets still match. A non-empty pattern is applied as a
// regular expression to the full path: the first capture group becomes the
// key when the expression defines groups, otherwise the whole match does;
// paths that do not match produce no key.
//
// When several reference views share a key, the one with the lowest view id
// is paired and the rest are ignored.
func MatchViewsByFilePath(target, reference *Scene, pattern string) ([]Correspondence, error) {
	re, err := CompileFilePattern(pattern)
	if err != nil {
		return nil, err
	}

	refByKey := make(map[string]ID)
	for _, id := range sortedIDs(reference.Views) {
		key, ok := pathKey(reference.Views[id], re)
		if !ok {
			continue
		}
		if _, taken := refByKey[key]; !taken {
			refByKey[key] = id
		}
	}

	var pairs []Correspondence
	for _, id := range sortedIDs(target.Views) {
		key, ok := pathKey(target.Views[id], re)
		if !ok {
			continue
		}
		refID, ok := refByKey[key]
		if !ok {
			continue
		}
		pairs = append(pairs, Correspondence{TargetViewID: id, ReferenceViewID: refID})
	}
	return pairs, nil
}

// pathKey derives the comparable key for a view's path. The bool result is
// false when the view produces no key under the current pattern.
func pathKey(v *View, re *regexp.Regexp) (string, bool) {
	if v.Path == "" {
		return "", false
	}
	if re == nil {
		return filepath.Base(v.Path), true
	}
	m := re.FindStringSubmatch(v.Path)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

// metadataKeySep separates joined metadata values; the unit separator never
// occurs in capture metadata, so composite keys cannot collide across
// value boundaries.
const metadataKeySep = "\x1f"

// MatchViewsByMetadata pairs views that agree, by exact string equality, on
// every key in keys. Views missing any required key never match. An empty
// key list yields no pairs: zero keys is zero evidence of identity.
//
// The same ambiguity rule as file-path matching applies: the lowest
// reference view id wins a shared composite key.
func MatchViewsByMetadata(target, reference *Scene, keys []string) []Correspondence {
	if len(keys) == 0 {
		return nil
	}

	refByKey := make(map[string]ID)
	for _, id := range sortedIDs(reference.Views) {
		key, ok := metadataKey(reference.Views[id], keys)
		if !ok {
			continue
		}
		if _, taken := refByKey[key]; !taken {
			refByKey[key] = id
		}
	}

	var pairs []Correspondence
	for _, id := range sortedIDs(target.Views) {
		key, ok := metadataKey(target.Views[id], keys)
		if !ok {
			continue
		}
		refID, ok := refByKey[key]
		if !ok {
			continue
		}
		pairs = append(pairs, Correspondence{TargetViewID: id, ReferenceViewID: refID})
	}
	return pairs
}

// metadataKey joins the view's values for the required keys into a single
// comparable key. The bool result is false when any key is missing.
func metadataKey(v *View, keys []string) (string, bool) {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		val, ok := v.Metadata[k]
		if !ok {
			return "", false
		}
		parts = append(parts, val)
	}
	return strings.Join(parts, metadataKeySep), true
}
