// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command qcoordinatord serves the coordinator's statement and query
// status RPC surface, and owns the transaction manager that brackets
// every query's connector access.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sneller-query/qcore/ids"
	"github.com/sneller-query/qcore/rpc"
	"github.com/sneller-query/qcore/scheduler"
	"github.com/sneller-query/qcore/txn"
)

func main() {
	cmd := flag.NewFlagSet("qcoordinatord", flag.ExitOnError)
	endpoint := cmd.String("e", "127.0.0.1:9000", "endpoint to listen on")
	configPath := cmd.String("config", "", "path to a static cluster configuration file (YAML node list + retry defaults)")
	if cmd.Parse(os.Args[1:]) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	cfg := &Config{MaxTasksPerStage: 4}
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			logger.Fatal(err)
		}
		cfg = loaded
		logger.Printf("loaded %d node(s) from %s, retry=%s, maxTasksPerStage=%d",
			len(cfg.Nodes), *configPath, cfg.Retry, cfg.MaxTasksPerStage)
	}

	coord := &coordinator{
		txns:    txn.NewManager(),
		cfg:     cfg,
		queries: make(map[ids.QueryID]rpc.QueryState),
		stages:  make(map[ids.QueryID]*scheduler.Stage),
	}
	handler := &rpc.CoordinatorHandler{Coord: coord}

	l, err := net.Listen("tcp", *endpoint)
	if err != nil {
		logger.Fatal(err)
	}
	srv := &http.Server{Handler: handler}
	go func() {
		logger.Printf("qcoordinatord listening on %s", l.Addr())
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// coordinator is the minimal rpc.Coordinator implementation this
// daemon serves; turning a submitted statement's query plan into a
// DAG of stages (rather than the single root placement stage built
// here from the static config) is done by a fuller deployment than
// this entrypoint demonstrates.
type coordinator struct {
	txns *txn.Manager
	cfg  *Config

	mu      sync.Mutex
	queries map[ids.QueryID]rpc.QueryState
	stages  map[ids.QueryID]*scheduler.Stage
}

func (c *coordinator) Submit(sql, session string) (ids.QueryID, error) {
	id := ids.NewQueryID()
	stage := scheduler.NewStage(id, ids.StageID(0), c.cfg.RetryPolicy(), true, c.cfg.MaxTasksPerStage, c.cfg.SchedulerNodes())
	c.mu.Lock()
	c.queries[id] = rpc.Queued
	c.stages[id] = stage
	c.mu.Unlock()
	return id, nil
}

// StageFor returns the root placement stage built for id from the
// coordinator's static cluster configuration.
func (c *coordinator) StageFor(id ids.QueryID) (*scheduler.Stage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stages[id]
	return s, ok
}

func (c *coordinator) QueryState(id ids.QueryID) (rpc.QueryState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.queries[id]
	return st, ok
}

func (c *coordinator) CancelQuery(id ids.QueryID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.queries[id]; !ok {
		return fmt.Errorf("unknown query %s", id)
	}
	c.queries[id] = rpc.QueryCanceled
	return nil
}

func (c *coordinator) RequestShutdown() {}
