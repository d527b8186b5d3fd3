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

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/sneller-query/qcore/scheduler"
)

// Config is the coordinator's static cluster configuration: the pool
// of worker nodes stage placement picks from, and the default retry
// policy and stage width a query gets when it doesn't request
// otherwise.
type Config struct {
	Nodes            []NodeConfig `yaml:"nodes"`
	Retry            string       `yaml:"retry"`
	MaxTasksPerStage int          `yaml:"maxTasksPerStage"`
}

// NodeConfig is one worker entry in the static cluster list.
type NodeConfig struct {
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"`
}

// LoadConfig reads and parses a coordinator configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading coordinator config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing coordinator config %s: %w", path, err)
	}
	if cfg.MaxTasksPerStage <= 0 {
		cfg.MaxTasksPerStage = 4
	}
	return &cfg, nil
}

// RetryPolicy maps the config's retry name to the scheduler enum,
// defaulting to RetryTask for an empty or unrecognized value.
func (c *Config) RetryPolicy() scheduler.RetryPolicy {
	switch c.Retry {
	case "none":
		return scheduler.RetryNone
	case "query":
		return scheduler.RetryQuery
	default:
		return scheduler.RetryTask
	}
}

// SchedulerNodes converts the static node list into the scheduler's
// placement candidates, with an empty affinity set (static config
// carries no split colocation hints).
func (c *Config) SchedulerNodes() []scheduler.Node {
	nodes := make([]scheduler.Node, len(c.Nodes))
	for i, n := range c.Nodes {
		nodes[i] = scheduler.Node{ID: n.ID, Affinity: map[string]bool{}}
	}
	return nodes
}
