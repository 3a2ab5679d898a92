// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ava-labs/avalanchego/utils/formatting"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/replayvm/client"
	"github.com/ava-labs/replayvm/replayvm"
)

func main() {
	params, err := ParseParams()
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't get config: %s\n", err)
		os.Exit(1)
	}
	// Print version and exit
	if params.PrintVersion {
		fmt.Printf("%s@%s\n", replayvm.Name, replayvm.Version)
		os.Exit(0)
	}

	lvl, err := log.LvlFromString(params.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %s\n", err)
		os.Exit(1)
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat())))

	report, err := run(params)
	if err != nil {
		stage := replayvm.StageInit
		if report != nil {
			stage = report.Stage
		}
		fmt.Fprintf(os.Stderr, "replay failed after stage %q: %s\n", stage, err)
		os.Exit(1)
	}

	resultHex, err := formatting.Encode(formatting.Hex, report.Result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't encode result: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("result: %s\nweight used: %d\n", resultHex, report.WeightUsed)
	os.Exit(0)
}

func run(params *Params) (*replayvm.Report, error) {
	cfg := replayvm.Config{
		HeaderAt:         params.HeaderAt,
		EntryPoint:       params.EntryPoint,
		WeightLimit:      params.WeightLimit,
		SaveSnapshotPath: params.SaveSnapshotPath,
	}

	if params.URI != "" {
		source := &replayvm.LiveSource{
			Client:  client.New(params.URI),
			URI:     params.URI,
			Timeout: params.Timeout,
		}
		if params.At != nil {
			source.Reference = *params.At
		}
		cfg.Source = source
	} else {
		cfg.Source = &replayvm.SnapshotSource{Path: params.Snapshot}
	}

	switch {
	case params.RuntimePath != "":
		cfg.Code = &replayvm.CodeFromFile{Path: params.RuntimePath}
	case params.BuildDir != "":
		cfg.Code = &replayvm.CodeFromBuild{
			Dir: params.BuildDir,
			Builder: &replayvm.ExecBuilder{
				Command: params.BuildCmd,
				Output:  params.BuildOutput,
			},
		}
	}

	if params.Execution == executionNative {
		dispatcher, err := replayvm.GetDispatcher(params.NativeSpec)
		if err != nil {
			return nil, err
		}
		cfg.Engine = replayvm.NewNativeEngine(dispatcher)
	}

	driver, err := replayvm.New(cfg)
	if err != nil {
		return nil, err
	}
	return driver.Run(context.Background())
}
