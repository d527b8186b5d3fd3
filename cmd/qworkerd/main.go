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

// Command qworkerd serves the worker-side task RPC surface: it
// accepts task creation, feeds splits, and lets clients pull and
// acknowledge buffered output.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sneller-query/qcore/driver"
	"github.com/sneller-query/qcore/ids"
	"github.com/sneller-query/qcore/rpc"
	"github.com/sneller-query/qcore/task"
)

func main() {
	cmd := flag.NewFlagSet("qworkerd", flag.ExitOnError)
	endpoint := cmd.String("e", "127.0.0.1:9100", "endpoint to listen on")
	memLimit := cmd.Int64("mem", 1<<30, "per-task memory reservation in bytes")
	workers := cmd.Int("workers", 0, "driver scheduler worker count (0 = GOMAXPROCS)")
	if cmd.Parse(os.Args[1:]) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	reg := newTaskRegistry(*memLimit, *workers)
	handler := &rpc.WorkerHandler{Tasks: reg.lookup}

	l, err := net.Listen("tcp", *endpoint)
	if err != nil {
		logger.Fatal(err)
	}
	srv := &http.Server{Handler: handler}
	go func() {
		logger.Printf("qworkerd listening on %s", l.Addr())
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
	_ = reg.sched.Close(ctx)
}

// taskRegistry owns every Task this worker process hosts and the
// DriverScheduler that runs all of their pipelines.
type taskRegistry struct {
	memLimit int64
	sched    *driver.Scheduler

	mu    sync.Mutex
	tasks map[string]*task.Task
}

func newTaskRegistry(memLimit int64, workers int) *taskRegistry {
	return &taskRegistry{
		memLimit: memLimit,
		sched:    driver.NewScheduler(workers),
		tasks:    make(map[string]*task.Task),
	}
}

func (r *taskRegistry) lookup(id string) (*task.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		// Task ids are created out-of-band by the coordinator's stage
		// scheduler; a worker only learns of one when the first RPC
		// for it arrives, so an unseen id always yields a bare
		// PLANNED task rather than a 404 at creation time.
		t = task.New(parseTaskID(id), r.memLimit)
		t.AttachScheduler(r.sched)
		r.tasks[id] = t
	}
	return t, true
}

func parseTaskID(s string) ids.TaskID {
	// Task identity beyond routing is owned by the coordinator; the
	// worker keys its registry by the raw id string, so the fields are
	// not decoded and every Task created here carries a zero TaskID.
	return ids.TaskID{}
}
