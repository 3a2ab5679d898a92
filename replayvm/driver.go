// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/version"

	log "github.com/inconshreveable/log15"
)

const (
	Name = "replayvm"

	// DefaultEntryPoint is the entry point replayed when the operator names
	// none: the runtime's main state-transition export.
	DefaultEntryPoint = "core_execute"
)

var (
	Version = &version.Semantic{
		Major: 1,
		Minor: 0,
		Patch: 0,
	}

	errNoSource = errors.New("no state source configured")
)

// Stage identifies how far a replay progressed. The driver is a strictly
// linear, single-pass machine; no stage is revisited or retried.
type Stage int

const (
	StageInit Stage = iota
	StageHeaderResolved
	StageStateBuilt
	StageCodeResolved
	StageInvoked
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageHeaderResolved:
		return "header resolved"
	case StageStateBuilt:
		return "state built"
	case StageCodeResolved:
		return "code resolved"
	case StageInvoked:
		return "invoked"
	default:
		return fmt.Sprintf("unknown stage %d", int(s))
	}
}

// Config describes one replay invocation
type Config struct {
	// Source supplies the state and header to replay against
	Source StateSource

	// HeaderAt optionally pins an otherwise-unpinned live source. When the
	// source carries its own reference, that one wins; if the block it
	// resolves doesn't match HeaderAt, the replay proceeds on the resolved
	// block and records a warning.
	HeaderAt *BlockReference

	// Code optionally substitutes the program under the reserved key.
	// Nil runs the state's own code unchanged.
	Code CodeSource

	// Engine executes the entry point. Defaults to the sandboxed interpreter.
	Engine Engine

	// EntryPoint names the export to invoke. Defaults to DefaultEntryPoint.
	EntryPoint string

	// Args holds the encoded argument bytes. Nil means the resolved header's
	// codec bytes, the calling convention of the state-transition entry
	// points.
	Args []byte

	// WeightLimit bounds the invocation's computational spend
	WeightLimit uint64

	// Host overrides the capability set handed to the engine. Nil means a
	// deterministic host pinned to the replayed header's timestamp.
	Host Host

	// SaveSnapshotPath, when set, captures the resolved source state to disk
	// before any substitution, for later offline replay.
	SaveSnapshotPath string
}

// Report is what a replay hands back: how far it got, what it saw, and what
// the invocation produced. Advisory findings are diagnostics here, never
// errors.
type Report struct {
	Stage  Stage
	Header *Header

	// VersionCheck is set when at least one program version was decoded
	VersionCheck *VersionComparison

	// Diagnostics holds advisory findings in the order they were made
	Diagnostics []string

	// Result and WeightUsed are set on success
	Result     []byte
	WeightUsed uint64
}

// Driver orchestrates one replay: resolve the header reference, build the
// overlay, substitute code, check versions, invoke the entry point.
type Driver struct {
	cfg Config
}

// New validates [cfg] and returns a driver for it
func New(cfg Config) (*Driver, error) {
	if cfg.Source == nil {
		return nil, errNoSource
	}
	if cfg.EntryPoint == "" {
		cfg.EntryPoint = DefaultEntryPoint
	}
	if cfg.Engine == nil {
		cfg.Engine = NewSandboxEngine()
	}
	return &Driver{cfg: cfg}, nil
}

// Run executes the replay. The returned report is non-nil even on failure
// and records the last stage reached; the error wraps the taxonomy error of
// the failing step. Nothing is retried: replay is deterministic.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	report := &Report{Stage: StageInit}

	// Init -> HeaderResolved: settle which block pins the replay. Priority:
	// the explicit header reference, else the live source's own reference; a
	// snapshot pins itself through its embedded header. A live fetch with no
	// reference anywhere is rejected rather than guessed at.
	source := d.cfg.Source
	headerRef := d.cfg.HeaderAt
	if live, ok := source.(*LiveSource); ok && live.Reference.IsZero() {
		if headerRef == nil {
			return report, fmt.Errorf("resolve header: %w: supply --header-at or a live --at reference", ErrAmbiguousReference)
		}
		pinned := *live
		pinned.Reference = *headerRef
		source = &pinned
	}

	// HeaderResolved -> StateBuilt: one resolution yields both the header and
	// the overlay, so they cannot describe different blocks.
	header, overlay, err := source.Resolve(ctx)
	if err != nil {
		return report, fmt.Errorf("resolve state: %w", err)
	}
	report.Stage = StageHeaderResolved
	report.Header = header
	if headerRef != nil && !headerRef.MatchesHeader(header) {
		d.warn(report, fmt.Sprintf(
			"explicit header reference %s does not match resolved block %s at height %d",
			headerRef, header.ID(), header.Height,
		))
	}
	report.Stage = StageStateBuilt

	if d.cfg.SaveSnapshotPath != "" {
		if err := WriteSnapshot(d.cfg.SaveSnapshotPath, header, overlay); err != nil {
			return report, fmt.Errorf("save snapshot: %w", err)
		}
		log.Info("captured state snapshot", "path", d.cfg.SaveSnapshotPath, "keys", overlay.Len())
	}

	// StateBuilt -> CodeResolved: overwrite the reserved key if asked, then
	// compare program versions. Comparison is advisory throughout.
	if err := d.resolveCode(ctx, report, overlay); err != nil {
		return report, fmt.Errorf("resolve code: %w", err)
	}
	report.Stage = StageCodeResolved

	// CodeResolved -> Invoked: full capability set, header bytes as the
	// encoded argument unless the caller supplied its own.
	args := d.cfg.Args
	if args == nil {
		if args, err = header.Bytes(); err != nil {
			return report, fmt.Errorf("encode header: %w", err)
		}
	}
	host := d.cfg.Host
	if host == nil {
		host = NewDeterministicHost(overlay, header.Timestamp)
	}
	req := Request{
		EntryPoint:  d.cfg.EntryPoint,
		Args:        args,
		WeightLimit: d.cfg.WeightLimit,
	}
	log.Info("invoking entry point",
		"entryPoint", req.EntryPoint,
		"weightLimit", req.WeightLimit,
		"block", header.ID(),
	)
	outcome, err := d.cfg.Engine.Invoke(overlay, req, host)
	if err != nil {
		return report, fmt.Errorf("invoke: %w", err)
	}
	report.Stage = StageInvoked
	report.Result = outcome.Result
	report.WeightUsed = outcome.WeightUsed
	log.Info("entry point executed without errors",
		"resultLen", len(outcome.Result),
		"weightUsed", outcome.WeightUsed,
	)
	return report, nil
}

// resolveCode performs the optional substitution and the advisory version
// comparison. Only candidate-fetch failures are fatal; everything observed
// about versions is a diagnostic.
func (d *Driver) resolveCode(ctx context.Context, report *Report, overlay *Overlay) error {
	originalCode, hadCode := overlay.Code()
	if !hadCode {
		d.warn(report, "state has no code under the reserved key")
	}

	if d.cfg.Code == nil {
		if hadCode {
			if version, ok := d.readVersion(report, originalCode, "installed"); ok {
				report.VersionCheck = CompareVersions(version, nil)
				log.Info("running state's own code", "version", version)
			}
		}
		return nil
	}

	candidate, err := d.cfg.Code.Fetch(ctx)
	if err != nil {
		return err
	}
	sub := SubstituteCode(overlay, candidate)
	log.Info("substituted code under reserved key",
		"source", d.cfg.Code,
		"candidateLen", len(candidate),
	)

	if !sub.HadOriginal {
		d.warn(report, "nothing to compare the candidate against; version check skipped")
		return nil
	}
	originalVersion, _ := d.readVersion(report, sub.Original, "original")
	candidateVersion, _ := d.readVersion(report, sub.Candidate, "candidate")
	report.VersionCheck = CompareVersions(originalVersion, candidateVersion)
	for _, mismatch := range report.VersionCheck.Mismatches {
		d.warn(report, "version mismatch: "+mismatch)
	}
	return nil
}

// readVersion decodes a blob's version through the engine, degrading to a
// diagnostic on failure
func (d *Driver) readVersion(report *Report, code []byte, side string) (*RuntimeVersion, bool) {
	version, err := d.cfg.Engine.ReadVersion(code)
	if err != nil {
		d.warn(report, fmt.Sprintf("couldn't decode %s runtime version: %s", side, err))
		return nil, false
	}
	return version, true
}

func (d *Driver) warn(report *Report, msg string) {
	report.Diagnostics = append(report.Diagnostics, msg)
	log.Warn(msg)
}
