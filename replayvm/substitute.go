// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// CodeSource supplies the candidate program blob that substitution installs
// under the reserved code key. A nil CodeSource means "run the state's own
// code unchanged".
type CodeSource interface {
	// Fetch produces the candidate blob. It never executes the blob.
	Fetch(ctx context.Context) ([]byte, error)

	fmt.Stringer
}

var (
	_ CodeSource = (*CodeFromFile)(nil)
	_ CodeSource = (*CodeFromBuild)(nil)
)

// CodeFromFile loads the candidate from an explicit path
type CodeFromFile struct {
	Path string
}

func (c *CodeFromFile) Fetch(context.Context) ([]byte, error) {
	blob, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read code blob: %w", err)
	}
	return blob, nil
}

func (c *CodeFromFile) String() string {
	return fmt.Sprintf("file{%s}", c.Path)
}

// Builder turns a local source tree into a program blob. The build tool is
// external to the harness; this interface is its only point of contact.
type Builder interface {
	Build(ctx context.Context, dir string) ([]byte, error)
}

// CodeFromBuild builds the candidate from a local source tree
type CodeFromBuild struct {
	Dir     string
	Builder Builder
}

func (c *CodeFromBuild) Fetch(ctx context.Context) ([]byte, error) {
	blob, err := c.Builder.Build(ctx, c.Dir)
	if err != nil {
		return nil, fmt.Errorf("couldn't build code blob from %s: %w", c.Dir, err)
	}
	return blob, nil
}

func (c *CodeFromBuild) String() string {
	return fmt.Sprintf("build{%s}", c.Dir)
}

var _ Builder = (*ExecBuilder)(nil)

// ExecBuilder shells out to a build command in the source tree and reads the
// artifact it leaves behind.
type ExecBuilder struct {
	// Command and its arguments, run with the source tree as working directory
	Command []string

	// Output is the artifact path relative to the source tree
	Output string
}

func (b *ExecBuilder) Build(ctx context.Context, dir string) ([]byte, error) {
	if len(b.Command) == 0 {
		return nil, fmt.Errorf("no build command configured")
	}
	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("build command failed: %w: %s", err, out)
	}
	return os.ReadFile(filepath.Join(dir, b.Output))
}

// Substitution records what a code overwrite did, for the version check and
// the operator report
type Substitution struct {
	// Original is the blob the reserved key held before the overwrite
	Original []byte

	// HadOriginal is false when the source state carried no code at all;
	// substitution still proceeds, comparison is skipped
	HadOriginal bool

	// Candidate is the installed blob
	Candidate []byte
}

// SubstituteCode overwrites the reserved code key of [overlay] with
// [candidate] and returns the record of what changed. Only the reserved key
// is touched; the candidate is never executed here.
func SubstituteCode(overlay *Overlay, candidate []byte) *Substitution {
	original, had := overlay.Code()
	overlay.SetCode(candidate)
	return &Substitution{
		Original:    original,
		HadOriginal: had,
		Candidate:   copyBytes(candidate),
	}
}
