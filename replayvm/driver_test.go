// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/replayvm/client"
	"github.com/ava-labs/replayvm/replayvm"
	"github.com/ava-labs/replayvm/rpcnode"
)

const testWeightLimit = 1_000_000

func TestVersion(t *testing.T) {
	assert.Equal(t, "v1.0.0", replayvm.Version.String())
}

// buildTestRuntime returns a program blob with two entry points:
// core_execute echoes its argument bytes, core_code returns whatever is
// installed under the reserved code key.
func buildTestRuntime(t *testing.T, specVersion uint32) []byte {
	echo := (&replayvm.Assembler{}).Arg().Return().Bytes()
	readCode := (&replayvm.Assembler{}).Push(replayvm.CodeKey).Get().Return().Bytes()

	program := &replayvm.Program{
		Version: replayvm.RuntimeVersion{
			SpecName:    "testchain",
			SpecVersion: specVersion,
			ImplVersion: 1,
			EntryPoints: []string{"core_execute", "core_code"},
		},
		Entries: []replayvm.ProgramEntry{
			{Name: "core_execute", Code: echo},
			{Name: "core_code", Code: readCode},
		},
	}
	blob, err := program.Bytes()
	require.NoError(t, err)
	return blob
}

func testHeader() *replayvm.Header {
	return &replayvm.Header{
		ParentID:  ids.ID{1},
		Height:    7,
		Timestamp: 1700000000,
		StateRoot: ids.ID{2},
	}
}

// writeTestSnapshot captures a state with [code] installed (or no code at
// all when [code] is nil) and returns the snapshot path and the header
func writeTestSnapshot(t *testing.T, code []byte) (string, *replayvm.Header) {
	header := testHeader()
	overlay := replayvm.NewOverlay()
	overlay.Set([]byte("balance:alice"), []byte{100})
	overlay.Set([]byte("balance:bob"), []byte{50})
	if code != nil {
		overlay.Set(replayvm.CodeKey, code)
	}

	path := filepath.Join(t.TempDir(), "state.snap")
	require.NoError(t, replayvm.WriteSnapshot(path, header, overlay))
	return path, header
}

// Snapshot with code, no substitution: success, result is the engine's
// output for the header argument
func TestReplayFromSnapshot(t *testing.T) {
	assert := assert.New(t)

	blob := buildTestRuntime(t, 3)
	path, header := writeTestSnapshot(t, blob)

	driver, err := replayvm.New(replayvm.Config{
		Source:      &replayvm.SnapshotSource{Path: path},
		EntryPoint:  "core_execute",
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.NoError(err)
	assert.Equal(replayvm.StageInvoked, report.Stage)
	assert.Empty(report.Diagnostics)

	// the calling convention passes the header's codec bytes as the argument
	headerBytes, err := header.Bytes()
	assert.NoError(err)
	assert.Equal(headerBytes, report.Result)

	// the state's own version is reported even without a substitution
	assert.NotNil(report.VersionCheck)
	assert.Equal("testchain", report.VersionCheck.Original.SpecName)
}

// Without a substitution source, the reserved key still holds the state's
// own code at invocation time
func TestReplayLeavesCodeUntouched(t *testing.T) {
	assert := assert.New(t)

	blob := buildTestRuntime(t, 3)
	path, _ := writeTestSnapshot(t, blob)

	driver, err := replayvm.New(replayvm.Config{
		Source:      &replayvm.SnapshotSource{Path: path},
		EntryPoint:  "core_code",
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.NoError(err)
	assert.Equal(blob, report.Result)
}

// A candidate that cannot be fetched aborts the replay before any code is
// touched; version advisories never get that courtesy, fetch failures do not
// degrade to diagnostics
func TestReplayCandidateFetchFatal(t *testing.T) {
	assert := assert.New(t)

	blob := buildTestRuntime(t, 3)
	path, _ := writeTestSnapshot(t, blob)

	driver, err := replayvm.New(replayvm.Config{
		Source:      &replayvm.SnapshotSource{Path: path},
		Code:        &replayvm.CodeFromFile{Path: filepath.Join(t.TempDir(), "missing.blob")},
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.ErrorContains(err, "resolve code")
	assert.Equal(replayvm.StageStateBuilt, report.Stage)
	assert.Nil(report.Result)
}

// Substituting a candidate with a different spec version succeeds and logs
// an advisory mismatch before invocation
func TestReplaySubstituteVersionMismatch(t *testing.T) {
	assert := assert.New(t)

	original := buildTestRuntime(t, 3)
	candidate := buildTestRuntime(t, 4)
	path, _ := writeTestSnapshot(t, original)

	candidatePath := filepath.Join(t.TempDir(), "candidate.blob")
	assert.NoError(os.WriteFile(candidatePath, candidate, 0o644))

	driver, err := replayvm.New(replayvm.Config{
		Source:      &replayvm.SnapshotSource{Path: path},
		Code:        &replayvm.CodeFromFile{Path: candidatePath},
		EntryPoint:  "core_code",
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.NoError(err)
	assert.Equal(replayvm.StageInvoked, report.Stage)

	// the candidate ran: the reserved key now holds it
	assert.Equal(candidate, report.Result)

	assert.NotNil(report.VersionCheck)
	assert.False(report.VersionCheck.Compatible())
	assert.True(hasDiagnostic(report, "version mismatch"))
}

// Substituting identical bytes reports full compatibility
func TestReplaySubstituteSameVersion(t *testing.T) {
	assert := assert.New(t)

	blob := buildTestRuntime(t, 3)
	path, _ := writeTestSnapshot(t, blob)

	candidatePath := filepath.Join(t.TempDir(), "candidate.blob")
	assert.NoError(os.WriteFile(candidatePath, blob, 0o644))

	driver, err := replayvm.New(replayvm.Config{
		Source:      &replayvm.SnapshotSource{Path: path},
		Code:        &replayvm.CodeFromFile{Path: candidatePath},
		EntryPoint:  "core_execute",
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.NoError(err)
	assert.NotNil(report.VersionCheck)
	assert.True(report.VersionCheck.Compatible())
	assert.False(hasDiagnostic(report, "version mismatch"))
}

// Snapshot with no code and no substitution: an advisory first, then the
// invocation fails because there is nothing to search for the entry point
func TestReplayMissingCode(t *testing.T) {
	assert := assert.New(t)

	path, _ := writeTestSnapshot(t, nil)

	driver, err := replayvm.New(replayvm.Config{
		Source:      &replayvm.SnapshotSource{Path: path},
		EntryPoint:  "core_execute",
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.ErrorIs(err, replayvm.ErrEntryPointNotFound)
	assert.Equal(replayvm.StageCodeResolved, report.Stage)
	assert.True(hasDiagnostic(report, "no code"))
}

// A corrupt snapshot aborts before any state is built
func TestReplayCorruptSnapshot(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "bad.snap")
	assert.NoError(os.WriteFile(path, []byte("garbage"), 0o644))

	driver, err := replayvm.New(replayvm.Config{
		Source:      &replayvm.SnapshotSource{Path: path},
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.ErrorIs(err, replayvm.ErrCorruptSnapshot)
	assert.Equal(replayvm.StageInit, report.Stage)
}

// An explicit header reference that disagrees with the resolved block is a
// logged warning, not a failure
func TestReplayHeaderReferenceDisagrees(t *testing.T) {
	assert := assert.New(t)

	blob := buildTestRuntime(t, 3)
	path, _ := writeTestSnapshot(t, blob)

	wrongRef := replayvm.RefFromHeight(9999)
	driver, err := replayvm.New(replayvm.Config{
		Source:      &replayvm.SnapshotSource{Path: path},
		HeaderAt:    &wrongRef,
		EntryPoint:  "core_execute",
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.NoError(err)
	assert.Equal(replayvm.StageInvoked, report.Stage)
	assert.True(hasDiagnostic(report, "does not match"))
}

// A live source with no reference anywhere is rejected outright; the harness
// never guesses a block
func TestReplayAmbiguousReference(t *testing.T) {
	assert := assert.New(t)

	driver, err := replayvm.New(replayvm.Config{
		Source: &replayvm.LiveSource{
			Client: client.New("http://127.0.0.1:1"),
			URI:    "http://127.0.0.1:1",
		},
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.ErrorIs(err, replayvm.ErrAmbiguousReference)
	assert.Equal(replayvm.StageInit, report.Stage)
}

// An unreachable endpoint fails with SourceUnreachable before any overlay is
// built
func TestReplayLiveUnreachable(t *testing.T) {
	assert := assert.New(t)

	ref := replayvm.RefFromHeight(7)
	driver, err := replayvm.New(replayvm.Config{
		Source: &replayvm.LiveSource{
			Client:    client.New("http://127.0.0.1:1"),
			URI:       "http://127.0.0.1:1",
			Reference: ref,
			Timeout:   2 * time.Second,
		},
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.ErrorIs(err, replayvm.ErrSourceUnreachable)
	assert.Equal(replayvm.StageInit, report.Stage)
	assert.Nil(report.Header)
}

// newTestNode seeds an in-process node with one block and returns a client
// talking to it over HTTP
func newTestNode(t *testing.T, header *replayvm.Header, pairs []replayvm.StoragePair) client.Client {
	node, err := rpcnode.New(memdb.New())
	require.NoError(t, err)
	require.NoError(t, node.Seed(header, pairs))

	server := httptest.NewServer(node.Handler())
	t.Cleanup(server.Close)
	return client.New(server.URL)
}

func TestReplayLive(t *testing.T) {
	assert := assert.New(t)

	blob := buildTestRuntime(t, 3)
	header := testHeader()
	overlay := replayvm.NewOverlay()
	overlay.Set([]byte("balance:alice"), []byte{100})
	overlay.Set(replayvm.CodeKey, blob)

	cli := newTestNode(t, header, overlay.Pairs())

	driver, err := replayvm.New(replayvm.Config{
		Source: &replayvm.LiveSource{
			Client:    cli,
			URI:       "test",
			Reference: replayvm.RefFromHash(header.ID()),
		},
		EntryPoint:  "core_execute",
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	report, err := driver.Run(context.Background())
	assert.NoError(err)
	assert.Equal(replayvm.StageInvoked, report.Stage)
	assert.Equal(header.ID(), report.Header.ID())

	headerBytes, err := header.Bytes()
	assert.NoError(err)
	assert.Equal(headerBytes, report.Result)
}

func TestReplayLiveBlockNotFound(t *testing.T) {
	assert := assert.New(t)

	blob := buildTestRuntime(t, 3)
	header := testHeader()
	overlay := replayvm.NewOverlay()
	overlay.Set(replayvm.CodeKey, blob)

	cli := newTestNode(t, header, overlay.Pairs())

	driver, err := replayvm.New(replayvm.Config{
		Source: &replayvm.LiveSource{
			Client:    cli,
			URI:       "test",
			Reference: replayvm.RefFromHeight(12345),
		},
		WeightLimit: testWeightLimit,
	})
	assert.NoError(err)

	_, err = driver.Run(context.Background())
	assert.ErrorIs(err, replayvm.ErrBlockNotFound)
}

// A live resolution and a snapshot captured from it resolve to equal state
func TestLiveSnapshotEquivalence(t *testing.T) {
	assert := assert.New(t)

	blob := buildTestRuntime(t, 3)
	header := testHeader()
	overlay := replayvm.NewOverlay()
	overlay.Set([]byte("balance:alice"), []byte{100})
	overlay.Set([]byte("balance:bob"), []byte{50})
	overlay.Set(replayvm.CodeKey, blob)

	cli := newTestNode(t, header, overlay.Pairs())
	live := &replayvm.LiveSource{
		Client:    cli,
		URI:       "test",
		Reference: replayvm.RefFromHeight(7),
	}

	snapshotPath := filepath.Join(t.TempDir(), "captured.snap")
	driver, err := replayvm.New(replayvm.Config{
		Source:           live,
		EntryPoint:       "core_execute",
		WeightLimit:      testWeightLimit,
		SaveSnapshotPath: snapshotPath,
	})
	assert.NoError(err)
	_, err = driver.Run(context.Background())
	assert.NoError(err)

	liveHeader, liveOverlay, err := live.Resolve(context.Background())
	assert.NoError(err)
	snapHeader, snapOverlay, err := (&replayvm.SnapshotSource{Path: snapshotPath}).Resolve(context.Background())
	assert.NoError(err)

	assert.Equal(liveHeader, snapHeader)
	assert.Equal(liveOverlay.Pairs(), snapOverlay.Pairs())
}

func hasDiagnostic(report *replayvm.Report, substr string) bool {
	for _, diagnostic := range report.Diagnostics {
		if strings.Contains(diagnostic, substr) {
			return true
		}
	}
	return false
}
