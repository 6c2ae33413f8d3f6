// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package opa

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/bundle"
	"github.com/open-policy-agent/opa/loader"
	"github.com/unbasical/devgate/pkg/constants/logging"

	"github.com/open-policy-agent/opa/metrics"
	"github.com/open-policy-agent/opa/plugins"
	"github.com/open-policy-agent/opa/plugins/discovery"
	"github.com/open-policy-agent/opa/plugins/logs"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/server"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/pkg/errors"
)

// OPA represents an instance of the policy engine.
type OPA struct {
	configBytes []byte
	manager     *plugins.Manager
}

type loadResult struct {
	loader.Result
	Bundles map[string]*bundle.Bundle
}

// ConfigOPA sets the configuration file to use on the OPA instance.
func ConfigOPA(fileName string) func(opa *OPA) error {
	return func(opa *OPA) error {
		bs, err := os.ReadFile(fileName)
		if err != nil {
			return err
		}
		opa.configBytes = bs
		return nil
	}
}

// NewOPA returns a new OPA instance with all policies below regosPath loaded.
func NewOPA(ctx context.Context, regosPath string, opts ...func(*OPA) error) (*OPA, error) {
	opa := &OPA{}

	// Configure OPA
	for _, opt := range opts {
		if err := opt(opa); err != nil {
			return nil, err
		}
	}

	// Init store
	store := inmem.New()

	id, err := uuid4()
	if err != nil {
		return nil, errors.Wrap(err, "NewOPA: Unable to create uuid4")
	}

	opa.manager, err = plugins.New(opa.configBytes, id, store)
	if err != nil {
		return nil, errors.Wrap(err, "NewOPA: Error while creating manager plugin")
	}

	disc, err := discovery.New(opa.manager)
	if err != nil {
		return nil, errors.Wrap(err, "NewOPA: Error while creating discovery plugin")
	}
	opa.manager.Register("discovery", disc)

	// Load regos
	if err := opa.LoadRegosFromPath(ctx, regosPath); err != nil {
		return nil, errors.Wrap(err, "NewOPA: Unable to load regos")
	}

	return opa, nil
}

func (opa *OPA) LoadRegosFromPath(ctx context.Context, regosPath string) error {
	store := opa.manager.Store

	logger := logging.LogForComponent("opa")
	logger.Debugf("Loading regos from dir: %s", regosPath)
	filter := func(abspath string, info os.FileInfo, depth int) bool {
		return !strings.HasSuffix(abspath, ".rego")
	}
	loaded, err := loadPaths([]string{regosPath}, filter, true)
	if err != nil {
		return errors.Wrap(err, "LoadRegosFromPath: Error while loading rego dir")
	}
	for bundleName, loadedBundle := range loaded.Bundles {
		logger.Infof("Loading Bundle: %s", bundleName)
		for _, module := range loadedBundle.Modules {
			logger.Infof("Loaded Package: [%s] -> module [%s]", module.Parsed.Package.String(), module.Path)
		}
	}
	txn, err := store.NewTransaction(ctx, storage.WriteParams)
	if err != nil {
		return errors.Wrap(err, "LoadRegosFromPath: Error while opening transaction")
	}
	if len(loaded.Documents) > 0 {
		if err := store.Write(ctx, txn, storage.AddOp, storage.Path{}, loaded.Documents); err != nil {
			store.Abort(ctx, txn)
			return errors.Wrap(err, "LoadRegosFromPath: Error while writing document")
		}
	}
	if err := compileAndStoreInputs(ctx, store, txn, loaded, 1); err != nil {
		store.Abort(ctx, txn)
		return errors.Wrap(err, "LoadRegosFromPath: Error while storing inputs")
	}
	if err := store.Commit(ctx, txn); err != nil {
		return errors.Wrap(err, "LoadRegosFromPath: Error while commit")
	}

	return nil
}

// Start asynchronously starts the policy engine's plugins that download
// policies, report status, etc.
func (opa *OPA) Start(ctx context.Context) error {
	return opa.manager.Start(ctx)
}

// Stop stops all plugins of the policy engine.
func (opa *OPA) Stop(ctx context.Context) {
	opa.manager.Stop(ctx)
}

// HasRule reports whether the loaded policies define at least one rule at the given reference (i.e. "data.x.allow").
func (opa *OPA) HasRule(ref string) (bool, error) {
	parsed, err := ast.ParseRef(ref)
	if err != nil {
		return false, errors.Wrapf(err, "invalid rule reference %q", ref)
	}
	return len(opa.manager.GetCompiler().GetRulesExact(parsed)) > 0, nil
}

// Eval evaluates the query against the loaded policies and data. Every evaluation is passed to the decision log
// plugin if one was configured.
func (opa *OPA) Eval(ctx context.Context, input interface{}, query string, opts ...func(*rego.Rego)) (rego.ResultSet, error) {
	m := metrics.New()
	var decisionID string
	var result rego.ResultSet

	err := storage.Txn(ctx, opa.manager.Store, storage.TransactionParams{}, func(txn storage.Transaction) error {
		var err error
		decisionID, err = uuid4()
		if err != nil {
			return err
		}

		r := rego.New(append(opts,
			rego.Metrics(m),
			rego.Query(query),
			rego.Input(input),
			rego.Compiler(opa.manager.GetCompiler()),
			rego.Store(opa.manager.Store),
			rego.Transaction(txn))...)

		rs, err := r.Eval(ctx)
		if err != nil {
			return err
		}
		result = rs
		return nil
	})

	if logger := logs.Lookup(opa.manager); logger != nil {
		var rawInput interface{} = input
		record := &server.Info{
			DecisionID: decisionID,
			Query:      query,
			Input:      &rawInput,
			Error:      err,
			Metrics:    m,
		}

		if err := logger.Log(ctx, record); err != nil {
			return result, errors.Wrap(err, "failed to log decision")
		}
	}

	return result, err
}

func uuid4() (string, error) {
	bs := make([]byte, 16)
	n, err := io.ReadFull(rand.Reader, bs)
	if n != len(bs) || err != nil {
		return "", err
	}
	bs[8] = bs[8]&^0xc0 | 0x80
	bs[6] = bs[6]&^0xf0 | 0x40
	return fmt.Sprintf("%x-%x-%x-%x-%x", bs[0:4], bs[4:6], bs[6:8], bs[8:10], bs[10:]), nil
}

func compileAndStoreInputs(ctx context.Context, store storage.Store, txn storage.Transaction, loaded *loadResult, errorLimit int) error {
	policies := make(map[string]*ast.Module, len(loaded.Modules))

	for id, parsed := range loaded.Modules {
		policies[id] = parsed.Parsed
	}

	c := ast.NewCompiler().SetErrorLimit(errorLimit).WithPathConflictsCheck(storage.NonEmpty(ctx, store, txn))

	opts := &bundle.ActivateOpts{
		Ctx:          ctx,
		Store:        store,
		Txn:          txn,
		Compiler:     c,
		Metrics:      metrics.New(),
		Bundles:      loaded.Bundles,
		ExtraModules: policies,
	}

	err := bundle.Activate(opts)
	if err != nil {
		return err
	}

	// Policies in bundles will have already been added to the store, but
	// modules loaded outside of bundles will need to be added manually.
	for id, parsed := range loaded.Modules {
		if err := store.UpsertPolicy(ctx, txn, id, parsed.Raw); err != nil {
			return err
		}
	}

	return nil
}

func loadPaths(paths []string, filter loader.Filter, asBundle bool) (*loadResult, error) {
	result := &loadResult{}
	var err error

	if asBundle {
		result.Bundles = make(map[string]*bundle.Bundle, len(paths))
		for _, path := range paths {
			result.Bundles[path], err = loader.AsBundle(path)
			if err != nil {
				return nil, err
			}
		}
	} else {
		loaded, err := loader.Filtered(paths, filter)
		if err != nil {
			return nil, err
		}
		result.Modules = loaded.Modules
		result.Documents = loaded.Documents
	}

	return result, nil
}
