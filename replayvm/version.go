// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"fmt"
)

// RuntimeVersion is the metadata a program blob declares about itself: which
// spec it implements, at which version, and which entry points it exposes.
// Instances are only ever decoded out of a blob, never built by hand.
type RuntimeVersion struct {
	SpecName    string   `serialize:"true" json:"specName"`
	SpecVersion uint32   `serialize:"true" json:"specVersion"`
	ImplVersion uint32   `serialize:"true" json:"implVersion"`
	EntryPoints []string `serialize:"true" json:"entryPoints"`
}

func (v *RuntimeVersion) String() string {
	return fmt.Sprintf("%s/spec-%d/impl-%d", v.SpecName, v.SpecVersion, v.ImplVersion)
}

// VersionComparison is the advisory report produced before invocation when
// both an original and a candidate program are available. Mismatches never
// abort a replay.
type VersionComparison struct {
	Original  *RuntimeVersion
	Candidate *RuntimeVersion

	// Mismatches holds one human-readable line per differing field
	Mismatches []string
}

// CompareVersions reports every difference between [original] and
// [candidate]. Either side may be nil (undecodable or absent); comparison
// then degrades to "unknown" for that side and reports nothing about it.
func CompareVersions(original *RuntimeVersion, candidate *RuntimeVersion) *VersionComparison {
	cmp := &VersionComparison{
		Original:  original,
		Candidate: candidate,
	}
	if original == nil || candidate == nil {
		return cmp
	}
	if original.SpecName != candidate.SpecName {
		cmp.Mismatches = append(cmp.Mismatches, fmt.Sprintf(
			"spec name changed from %q to %q", original.SpecName, candidate.SpecName,
		))
	}
	if original.SpecVersion != candidate.SpecVersion {
		cmp.Mismatches = append(cmp.Mismatches, fmt.Sprintf(
			"spec version changed from %d to %d", original.SpecVersion, candidate.SpecVersion,
		))
	}
	if original.ImplVersion != candidate.ImplVersion {
		cmp.Mismatches = append(cmp.Mismatches, fmt.Sprintf(
			"impl version changed from %d to %d", original.ImplVersion, candidate.ImplVersion,
		))
	}
	return cmp
}

// Compatible returns true iff the comparison found no mismatch
func (c *VersionComparison) Compatible() bool {
	return len(c.Mismatches) == 0
}
