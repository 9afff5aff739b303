/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package overlay

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/epsilon314/bdn/identity"
)

// DefaultListenPort is the well-known BDN port
const DefaultListenPort = 10450

// PeerEntry is one address book seed in the config file
type PeerEntry struct {
	ID   string `yaml:"id"` // hex-encoded 32-byte peer id
	IP   string `yaml:"ip"`
	Port uint16 `yaml:"port"`
}

// SubscribeEntry asks the node to join one source tree through a peer
type SubscribeEntry struct {
	Src string `yaml:"src"` // hex-encoded source id
	Via string `yaml:"via"` // hex-encoded entry peer id
}

// Config specifies overlay node run options
type Config struct {
	ListenPort     uint16        `yaml:"listen_port"`
	Transport      string        `yaml:"transport"` // tcp or quic
	MonitoringPort int           `yaml:"monitoring_port"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
	QueueSize      int           `yaml:"queue_size"`
	MergeCheck     bool          `yaml:"merge_check"`

	Peers     []PeerEntry      `yaml:"peers"`
	Subscribe []SubscribeEntry `yaml:"subscribe"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		ListenPort:     DefaultListenPort,
		Transport:      "tcp",
		MonitoringPort: 8889,
		Heartbeat:      5 * time.Second,
		QueueSize:      1024,
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if c.ListenPort == 0 {
		return fmt.Errorf("listen_port must be set")
	}
	if c.Transport != "tcp" && c.Transport != "quic" {
		return fmt.Errorf("transport must be %q or %q", "tcp", "quic")
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be greater than zero")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be greater than zero")
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoring_port must be 0 or positive")
	}
	for i, p := range c.Peers {
		if _, err := parsePeerID(p.ID); err != nil {
			return fmt.Errorf("peers[%d]: %w", i, err)
		}
		if _, err := netip.ParseAddr(p.IP); err != nil {
			return fmt.Errorf("peers[%d]: bad ip %q: %w", i, p.IP, err)
		}
		if p.Port == 0 {
			return fmt.Errorf("peers[%d]: port must be set", i)
		}
	}
	for i, s := range c.Subscribe {
		if _, err := parsePeerID(s.Src); err != nil {
			return fmt.Errorf("subscribe[%d]: %w", i, err)
		}
		if _, err := parsePeerID(s.Via); err != nil {
			return fmt.Errorf("subscribe[%d]: %w", i, err)
		}
	}
	return nil
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating config from %q: %w", path, err)
	}
	return c, nil
}

func parsePeerID(s string) (identity.Peer, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return identity.Peer{}, fmt.Errorf("bad peer id %q: %w", s, err)
	}
	p, err := identity.TryFromID(raw)
	if err != nil {
		return identity.Peer{}, fmt.Errorf("bad peer id %q: %w", s, err)
	}
	return p, nil
}

// SeedEntries resolves the configured peers into address book seeds
func (c *Config) SeedEntries() ([]identity.Peer, []identity.SocketAddrBi, error) {
	peers := make([]identity.Peer, 0, len(c.Peers))
	addrs := make([]identity.SocketAddrBi, 0, len(c.Peers))
	for _, e := range c.Peers {
		p, err := parsePeerID(e.ID)
		if err != nil {
			return nil, nil, err
		}
		ip, err := netip.ParseAddr(e.IP)
		if err != nil {
			return nil, nil, err
		}
		peers = append(peers, p)
		addrs = append(addrs, identity.NewSocketAddrBi(ip, e.Port, 0))
	}
	return peers, addrs, nil
}

// Subscriptions resolves the configured subscription requests
func (c *Config) Subscriptions() ([][2]identity.Peer, error) {
	out := make([][2]identity.Peer, 0, len(c.Subscribe))
	for _, e := range c.Subscribe {
		src, err := parsePeerID(e.Src)
		if err != nil {
			return nil, err
		}
		via, err := parsePeerID(e.Via)
		if err != nil {
			return nil, err
		}
		out = append(out, [2]identity.Peer{src, via})
	}
	return out, nil
}
