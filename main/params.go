// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ava-labs/replayvm/replayvm"
)

const (
	uriKey          = "uri"
	snapshotKey     = "snapshot"
	atKey           = "at"
	headerAtKey     = "header-at"
	entryPointKey   = "entry-point"
	weightLimitKey  = "weight-limit"
	runtimeKey      = "runtime"
	buildCmdKey     = "build-cmd"
	buildOutputKey  = "build-output"
	executionKey    = "execution"
	nativeSpecKey   = "native-spec"
	timeoutKey      = "timeout"
	saveSnapshotKey = "save-snapshot"
	logLevelKey     = "log-level"
	versionKey      = "version"

	executionSandbox = "sandbox"
	executionNative  = "native"

	buildPrefix = "build:"
)

var (
	errNoStateSource   = errors.New("supply exactly one of --uri and --snapshot")
	errNoNativeSpec    = errors.New("--execution native requires --native-spec")
	errUnknownBackend  = errors.New("--execution must be sandbox or native")
	errNativeSandboxed = errors.New("--native-spec is only meaningful with --execution native")
)

// Params is everything the operator controls about one replay
type Params struct {
	URI      string
	Snapshot string

	At       *replayvm.BlockReference
	HeaderAt *replayvm.BlockReference

	EntryPoint  string
	WeightLimit uint64

	RuntimePath string
	BuildDir    string
	BuildCmd    []string
	BuildOutput string

	Execution  string
	NativeSpec string

	Timeout          time.Duration
	SaveSnapshotPath string

	LogLevel     string
	PrintVersion bool
}

func buildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(replayvm.Name, flag.ContinueOnError)

	fs.String(uriKey, "", "Endpoint of a live node to fetch state from")
	fs.String(snapshotKey, "", "Path of a previously captured state snapshot")
	fs.String(atKey, "", "Block to fetch state at (hash or height)")
	fs.String(headerAtKey, "", "Block to fetch the header at (hash or height)")
	fs.String(entryPointKey, replayvm.DefaultEntryPoint, "Entry point to invoke")
	fs.Uint64(weightLimitKey, 10_000_000, "Weight budget for the invocation")
	fs.String(runtimeKey, "", "Code substitution source: a blob path, or build:<dir> to build from a source tree")
	fs.String(buildCmdKey, "make build", "Command run inside the source tree for build:<dir> runtimes")
	fs.String(buildOutputKey, "runtime.blob", "Artifact the build command leaves behind, relative to the source tree")
	fs.String(executionKey, executionSandbox, "Execution backend: sandbox or native")
	fs.String(nativeSpecKey, "", "Spec name of the linked-in runtime to dispatch to natively")
	fs.Duration(timeoutKey, replayvm.DefaultFetchTimeout, "Timeout for live fetches")
	fs.String(saveSnapshotKey, "", "If set, capture the resolved state to this path before replaying")
	fs.String(logLevelKey, "info", "Log level")
	fs.Bool(versionKey, false, "If true, prints version and quits")

	return fs
}

// getViper returns the viper environment for the binary
func getViper() (*viper.Viper, error) {
	v := viper.New()

	fs := buildFlagSet()
	pflag.CommandLine.AddGoFlagSet(fs)
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	return v, nil
}

// ParseParams reads the operator's flags into a validated Params
func ParseParams() (*Params, error) {
	v, err := getViper()
	if err != nil {
		return nil, err
	}

	params := &Params{
		URI:              v.GetString(uriKey),
		Snapshot:         v.GetString(snapshotKey),
		EntryPoint:       v.GetString(entryPointKey),
		WeightLimit:      v.GetUint64(weightLimitKey),
		BuildOutput:      v.GetString(buildOutputKey),
		Execution:        v.GetString(executionKey),
		NativeSpec:       v.GetString(nativeSpecKey),
		Timeout:          v.GetDuration(timeoutKey),
		SaveSnapshotPath: v.GetString(saveSnapshotKey),
		LogLevel:         v.GetString(logLevelKey),
		PrintVersion:     v.GetBool(versionKey),
	}
	if params.PrintVersion {
		return params, nil
	}

	if (params.URI == "") == (params.Snapshot == "") {
		return nil, errNoStateSource
	}
	if params.At, err = parseOptionalRef(v.GetString(atKey)); err != nil {
		return nil, err
	}
	if params.HeaderAt, err = parseOptionalRef(v.GetString(headerAtKey)); err != nil {
		return nil, err
	}

	switch runtime := v.GetString(runtimeKey); {
	case runtime == "":
	case strings.HasPrefix(runtime, buildPrefix):
		params.BuildDir = strings.TrimPrefix(runtime, buildPrefix)
		params.BuildCmd = strings.Fields(v.GetString(buildCmdKey))
	default:
		params.RuntimePath = runtime
	}

	switch params.Execution {
	case executionSandbox:
		if params.NativeSpec != "" {
			return nil, errNativeSandboxed
		}
	case executionNative:
		if params.NativeSpec == "" {
			return nil, errNoNativeSpec
		}
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBackend, params.Execution)
	}

	return params, nil
}

func parseOptionalRef(s string) (*replayvm.BlockReference, error) {
	if s == "" {
		return nil, nil
	}
	ref, err := replayvm.ParseReference(s)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}
