package sfm

import (
	"reflect"
	"testing"
)

func identityRotation() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// addCalibratedView inserts a fully defined view: pose and intrinsic records
// exist and carry values derived from the id so scenes stay distinguishable.
func addCalibratedView(s *Scene, id ID) *View {
	v := NewView(id)
	v.IntrinsicID = id
	s.Views[id] = v
	s.Poses[id] = Pose{Rotation: identityRotation(), Center: [3]float64{float64(id), float64(id) * 2, 0}}
	s.Intrinsics[id] = &Intrinsic{
		Type:        "pinhole",
		Width:       4000,
		Height:      3000,
		FocalLength: [2]float64{float64(id) * 100, float64(id) * 100},
		Distortion:  []float64{float64(id) / 10},
	}
	return v
}

// addBareView inserts a view with assigned slots but no pose or intrinsic
// records, the "incomplete" shape the transfer engine fills.
func addBareView(s *Scene, id ID) *View {
	v := NewView(id)
	v.IntrinsicID = id
	s.Views[id] = v
	return v
}

// cloneScene deep-copies a scene through the serializer for before/after
// comparisons.
func cloneScene(t *testing.T, s *Scene) *Scene {
	t.Helper()
	data, err := marshalScene(s)
	if err != nil {
		t.Fatalf("cloning scene: %v", err)
	}
	c, err := ParseScene(data)
	if err != nil {
		t.Fatalf("cloning scene: %v", err)
	}
	return c
}

func bothTransfers() TransferOptions {
	return TransferOptions{Poses: true, Intrinsics: true}
}

func TestTransferFillsIncompleteTarget(t *testing.T) {
	// Target: view 1 incomplete, view 2 complete. Reference: views 1 and 3
	// complete. By-id matching pairs only view 1.
	target := NewScene()
	addBareView(target, 1)
	addCalibratedView(target, 2)

	reference := NewScene()
	addCalibratedView(reference, 1)
	addCalibratedView(reference, 3)

	pairs := MatchViewsByID(target, reference)
	want := []Correspondence{{TargetViewID: 1, ReferenceViewID: 1}}
	if !reflect.DeepEqual(pairs, want) {
		t.Fatalf("pairs = %v, want %v", pairs, want)
	}

	view2Pose := target.Poses[2]
	view2Intrinsic := *target.Intrinsics[2]

	stats := Transfer(target, reference, pairs, bothTransfers())

	if !target.IsPoseAndIntrinsicDefined(target.Views[1]) {
		t.Error("view 1 should be fully defined after transfer")
	}
	if got := target.Poses[1]; !reflect.DeepEqual(got, reference.Poses[1]) {
		t.Errorf("pose not copied: got %+v", got)
	}
	if got := target.Intrinsics[1]; !reflect.DeepEqual(*got, *reference.Intrinsics[1]) {
		t.Errorf("intrinsic not copied: got %+v", got)
	}
	if target.Intrinsics[1] == reference.Intrinsics[1] {
		t.Error("target shares an intrinsic record with the reference")
	}

	if got := target.Poses[2]; got != view2Pose {
		t.Errorf("view 2 pose changed: %+v", got)
	}
	if got := *target.Intrinsics[2]; !reflect.DeepEqual(got, view2Intrinsic) {
		t.Errorf("view 2 intrinsic changed: %+v", got)
	}

	wantStats := TransferStats{Pairs: 1, Updated: 1, PosesCopied: 1, IntrinsicsAssigned: 1}
	if stats != wantStats {
		t.Errorf("stats = %+v, want %+v", stats, wantStats)
	}
}

func TestTransferIdempotence(t *testing.T) {
	target := NewScene()
	addBareView(target, 1)
	addBareView(target, 2)

	reference := NewScene()
	addCalibratedView(reference, 1)
	addCalibratedView(reference, 2)

	pairs := MatchViewsByID(target, reference)

	first := Transfer(target, reference, pairs, bothTransfers())
	after := cloneScene(t, target)

	second := Transfer(target, reference, pairs, bothTransfers())

	if first.PosesCopied != 2 || first.IntrinsicsAssigned != 2 {
		t.Errorf("first run stats = %+v", first)
	}
	if second.PosesCopied != 0 || second.IntrinsicsAssigned != 0 {
		t.Errorf("second run wrote records: %+v", second)
	}
	if second.SkippedComplete != 2 {
		t.Errorf("second run SkippedComplete = %d, want 2", second.SkippedComplete)
	}
	if !reflect.DeepEqual(cloneScene(t, target), after) {
		t.Error("second run changed the target scene")
	}
}

func TestTransferRigExclusion(t *testing.T) {
	tests := []struct {
		name    string
		rigSide string
	}{
		{name: "target view rig-linked", rigSide: "target"},
		{name: "reference view rig-linked", rigSide: "reference"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := NewScene()
			addBareView(target, 1)
			reference := NewScene()
			addCalibratedView(reference, 1)

			if tt.rigSide == "target" {
				target.Views[1].RigID = 0
			} else {
				reference.Views[1].RigID = 0
			}

			before := cloneScene(t, target)
			stats := Transfer(target, reference, MatchViewsByID(target, reference), bothTransfers())

			if stats.SkippedRig != 1 {
				t.Errorf("SkippedRig = %d, want 1", stats.SkippedRig)
			}
			if stats.Updated != 0 {
				t.Errorf("Updated = %d, want 0", stats.Updated)
			}
			if !reflect.DeepEqual(cloneScene(t, target), before) {
				t.Error("rig-linked pair mutated the target")
			}
		})
	}
}

func TestTransferNeverOverwritesCompleteTarget(t *testing.T) {
	target := NewScene()
	addCalibratedView(target, 1)
	reference := NewScene()
	addCalibratedView(reference, 1)
	// Diverge the reference so an overwrite would be visible.
	reference.Poses[1] = Pose{Rotation: identityRotation(), Center: [3]float64{99, 99, 99}}
	reference.Intrinsics[1].FocalLength = [2]float64{1, 1}

	wantPose := target.Poses[1]
	wantIntrinsic := *target.Intrinsics[1]

	stats := Transfer(target, reference, MatchViewsByID(target, reference), bothTransfers())

	if stats.SkippedComplete != 1 {
		t.Errorf("SkippedComplete = %d, want 1", stats.SkippedComplete)
	}
	if got := target.Poses[1]; got != wantPose {
		t.Errorf("complete target pose overwritten: %+v", got)
	}
	if got := *target.Intrinsics[1]; !reflect.DeepEqual(got, wantIntrinsic) {
		t.Errorf("complete target intrinsic overwritten: %+v", got)
	}
}

func TestTransferSkipsIncompleteReference(t *testing.T) {
	target := NewScene()
	addBareView(target, 1)
	reference := NewScene()
	addBareView(reference, 1)

	stats := Transfer(target, reference, MatchViewsByID(target, reference), bothTransfers())

	if stats.SkippedIncompleteRef != 1 {
		t.Errorf("SkippedIncompleteRef = %d, want 1", stats.SkippedIncompleteRef)
	}
	if len(target.Poses) != 0 || len(target.Intrinsics) != 0 {
		t.Error("incomplete reference produced writes")
	}
}

func TestTransferFlagsDisabled(t *testing.T) {
	target := NewScene()
	addBareView(target, 1)
	reference := NewScene()
	addCalibratedView(reference, 1)

	before := cloneScene(t, target)
	stats := Transfer(target, reference, MatchViewsByID(target, reference), TransferOptions{})

	if stats.Updated != 0 || stats.PosesCopied != 0 || stats.IntrinsicsAssigned != 0 {
		t.Errorf("disabled flags still wrote: %+v", stats)
	}
	if !reflect.DeepEqual(cloneScene(t, target), before) {
		t.Error("disabled flags mutated the target")
	}
}

func TestTransferPosesOnly(t *testing.T) {
	target := NewScene()
	addBareView(target, 1)
	reference := NewScene()
	addCalibratedView(reference, 1)

	stats := Transfer(target, reference, MatchViewsByID(target, reference), TransferOptions{Poses: true})

	if stats.PosesCopied != 1 || stats.IntrinsicsAssigned != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if _, ok := target.Poses[1]; !ok {
		t.Error("pose not copied")
	}
	if len(target.Intrinsics) != 0 {
		t.Error("intrinsics written despite disabled flag")
	}
}

func TestTransferIntrinsicsOnly(t *testing.T) {
	target := NewScene()
	addBareView(target, 1)
	reference := NewScene()
	addCalibratedView(reference, 1)

	stats := Transfer(target, reference, MatchViewsByID(target, reference), TransferOptions{Intrinsics: true})

	if stats.IntrinsicsAssigned != 1 || stats.PosesCopied != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(target.Poses) != 0 {
		t.Error("poses written despite disabled flag")
	}
}

func TestTransferDepositsIntrinsicCopy(t *testing.T) {
	target := NewScene()
	addBareView(target, 1) // intrinsic slot 1 assigned, record absent
	reference := NewScene()
	addCalibratedView(reference, 1)

	Transfer(target, reference, MatchViewsByID(target, reference), bothTransfers())

	got, ok := target.Intrinsics[1]
	if !ok {
		t.Fatal("no intrinsic record deposited at the target slot")
	}
	if !reflect.DeepEqual(*got, *reference.Intrinsics[1]) {
		t.Errorf("deposited record differs: %+v", got)
	}

	// The deposit must be independent of the reference record.
	reference.Intrinsics[1].Distortion[0] = 42
	if got.Distortion[0] == 42 {
		t.Error("deposited intrinsic shares state with the reference")
	}
}

func TestTransferAssignsIntoExistingRecord(t *testing.T) {
	target := NewScene()
	v := addBareView(target, 1)
	v.IntrinsicID = 7
	existing := &Intrinsic{Type: "pinhole", Width: 1}
	target.Intrinsics[7] = existing

	reference := NewScene()
	addCalibratedView(reference, 1)

	Transfer(target, reference, MatchViewsByID(target, reference), bothTransfers())

	if target.Intrinsics[7] != existing {
		t.Error("existing intrinsic record replaced instead of assigned in place")
	}
	if existing.Width != 4000 {
		t.Errorf("calibration values not assigned: %+v", existing)
	}
}

func TestTransferUnassignedSlots(t *testing.T) {
	target := NewScene()
	v := NewView(1)
	v.PoseID = Undefined
	v.IntrinsicID = Undefined
	target.Views[1] = v

	reference := NewScene()
	addCalibratedView(reference, 1)

	stats := Transfer(target, reference, MatchViewsByID(target, reference), bothTransfers())

	if stats.SkippedNoSlot != 2 {
		t.Errorf("SkippedNoSlot = %d, want 2", stats.SkippedNoSlot)
	}
	if stats.Updated != 0 {
		t.Errorf("Updated = %d, want 0", stats.Updated)
	}
	if len(target.Poses) != 0 || len(target.Intrinsics) != 0 {
		t.Error("writes happened without identifier slots")
	}
}

func TestTransferDuplicateTargetLastWins(t *testing.T) {
	target := NewScene()
	// No intrinsic slot: the view never completes, so both pairs qualify.
	v := NewView(1)
	v.IntrinsicID = Undefined
	target.Views[1] = v

	reference := NewScene()
	addCalibratedView(reference, 10)
	addCalibratedView(reference, 20)

	pairs := []Correspondence{
		{TargetViewID: 1, ReferenceViewID: 10},
		{TargetViewID: 1, ReferenceViewID: 20},
	}
	stats := Transfer(target, reference, pairs, TransferOptions{Poses: true})

	if stats.PosesCopied != 2 {
		t.Errorf("PosesCopied = %d, want 2", stats.PosesCopied)
	}
	if got := target.Poses[1]; !reflect.DeepEqual(got, reference.Poses[20]) {
		t.Errorf("last pair did not win: pose = %+v", got)
	}
}

func TestTransferUnknownViewIDs(t *testing.T) {
	target := NewScene()
	reference := NewScene()

	pairs := []Correspondence{{TargetViewID: 99, ReferenceViewID: 100}}
	stats := Transfer(target, reference, pairs, bothTransfers())

	if stats.SkippedUnknownView != 1 {
		t.Errorf("SkippedUnknownView = %d, want 1", stats.SkippedUnknownView)
	}
}

func TestTransferReferenceNeverMutated(t *testing.T) {
	target := NewScene()
	addBareView(target, 1)
	reference := NewScene()
	addCalibratedView(reference, 1)

	before := cloneScene(t, reference)
	Transfer(target, reference, MatchViewsByID(target, reference), bothTransfers())

	// Mutating the transferred copies must not reach back either.
	target.Intrinsics[1].FocalLength = [2]float64{-1, -1}
	p := target.Poses[1]
	p.Center = [3]float64{-1, -1, -1}
	target.Poses[1] = p

	if !reflect.DeepEqual(cloneScene(t, reference), before) {
		t.Error("reference scene was mutated")
	}
}
