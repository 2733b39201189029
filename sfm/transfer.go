package sfm

import "log"

// TransferOptions selects which record kinds the engine copies.
type TransferOptions struct {
	Poses      bool
	Intrinsics bool
}

// TransferStats counts what the engine did with each correspondence pair.
// Skips are diagnostics, never failures.
type TransferStats struct {
	Pairs                int `json:"pairs"`
	Updated              int `json:"updated"`
	PosesCopied          int `json:"posesCopied"`
	IntrinsicsAssigned   int `json:"intrinsicsAssigned"`
	SkippedComplete      int `json:"skippedComplete"`
	SkippedIncompleteRef int `json:"skippedIncompleteRef"`
	SkippedRig           int `json:"skippedRig"`
	SkippedNoSlot        int `json:"skippedNoSlot"`
	SkippedUnknownView   int `json:"skippedUnknownView"`
}

// Transfer copies pose and/or intrinsic records from the reference scene
// into the target scene for each correspondence pair whose target view
// lacks full calibration and whose reference view has it. Pairs are
// processed in input order; when two pairs name the same target view the
// later write wins (the usual resolvers cannot emit such duplicates).
//
// Only the target's pose and intrinsic maps are mutated. The reference
// scene is never modified, and pairs that fail a precondition leave the
// target untouched, which makes the whole operation idempotent.
func Transfer(target, reference *Scene, pairs []Correspondence, opts TransferOptions) TransferStats {
	stats := TransferStats{Pairs: len(pairs)}

	for _, pair := range pairs {
		view := target.Views[pair.TargetViewID]
		refView := reference.Views[pair.ReferenceViewID]
		if view == nil || refView == nil {
			stats.SkippedUnknownView++
			continue
		}

		// Transfer only fills gaps: an already calibrated target view is
		// never overwritten, and an uncalibrated reference has nothing to
		// give.
		if target.IsPoseAndIntrinsicDefined(view) {
			stats.SkippedComplete++
			continue
		}
		if !reference.IsPoseAndIntrinsicDefined(refView) {
			stats.SkippedIncompleteRef++
			continue
		}

		// Views belonging to a rig on either side are excluded from
		// transfer.
		if view.IsPartOfRig() || refView.IsPartOfRig() {
			log.Printf("skipping views %d (target) and %d (reference): rig-linked", view.ViewID, refView.ViewID)
			stats.SkippedRig++
			continue
		}

		updated := false

		if opts.Poses {
			if view.PoseID == Undefined {
				stats.SkippedNoSlot++
			} else {
				target.Poses[view.PoseID] = reference.Poses[refView.PoseID]
				stats.PosesCopied++
				updated = true
			}
		}

		if opts.Intrinsics {
			if view.IntrinsicID == Undefined {
				stats.SkippedNoSlot++
			} else {
				src := reference.Intrinsics[refView.IntrinsicID]
				if dst, ok := target.Intrinsics[view.IntrinsicID]; ok {
					dst.Assign(src)
				} else {
					// No record at the slot yet: deposit a copy under the
					// target view's own intrinsic identifier.
					target.Intrinsics[view.IntrinsicID] = src.Clone()
				}
				stats.IntrinsicsAssigned++
				updated = true
			}
		}

		if updated {
			stats.Updated++
		}
	}

	return stats
}
