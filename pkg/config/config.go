package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghjm/lowpan/pkg/proto"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Global Global          `yaml:"global"`
	Nodes  map[string]Node `yaml:"nodes"`
}

type Global struct {
	// PANID is the PAN all nodes are associated with
	PANID  uint16 `yaml:"pan_id"`
	Medium Medium `yaml:"medium"`
	Lowpan Lowpan `yaml:"lowpan"`
}

type Medium struct {
	MediumType string `yaml:"type"`
	Params     Params `yaml:"params,omitempty"`
}

// Lowpan holds the adaptation layer settings shared by all nodes.  Zero values select defaults.
type Lowpan struct {
	MaxFrameSize         int           `yaml:"max_frame_size,omitempty"`
	Fragmentation        *bool         `yaml:"fragmentation,omitempty"`
	Compression          string        `yaml:"compression,omitempty"`
	CompressionThreshold int           `yaml:"compression_threshold,omitempty"`
	Layout               string        `yaml:"layout,omitempty"`
	SubmitPolicy         string        `yaml:"submit_policy,omitempty"`
	MaxAttempts          uint8         `yaml:"max_attempts,omitempty"`
	ReassemblyTimeout    time.Duration `yaml:"reassembly_timeout,omitempty"`
	Buffers              int           `yaml:"buffers,omitempty"`
}

type Node struct {
	// Address is an optional routable address.  Every node also has a link-local address derived from its
	// link address.
	Address            proto.IP       `yaml:"address,omitempty"`
	ShortAddr          proto.LinkAddr `yaml:"short_addr"`
	ExtAddr            proto.LinkAddr `yaml:"ext_addr,omitempty"`
	ExtendedAddressing bool           `yaml:"extended_addressing,omitempty"`
	// Medium holds per-node medium parameters, which override the global ones
	Medium    Params     `yaml:"medium,omitempty"`
	Neighbors []Neighbor `yaml:"neighbors,omitempty"`
	Capture   string     `yaml:"capture,omitempty"`
	Services  []Service  `yaml:"services,omitempty"`
}

// Neighbor maps an IPv6 address to the link address of the node that has it
type Neighbor struct {
	Address  proto.IP       `yaml:"address"`
	LinkAddr proto.LinkAddr `yaml:"link_addr"`
}

type Service struct {
	Port int `yaml:"port"`
	// Command is run for each connection, with the connection as its stdin and stdout.  If empty, the
	// service echoes lines back to the sender.
	Command string `yaml:"command,omitempty"`
}

// LoadConfig reads and validates a YAML configuration file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a YAML configuration
func ParseConfig(data []byte) (*Config, error) {
	config := &Config{}
	err := yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}
	err = config.Validate()
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for consistency and fills in generated values
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("no nodes defined")
	}
	if c.Global.Medium.MediumType == "" {
		c.Global.Medium.MediumType = "channel"
	}
	shortAddrs := make(map[proto.LinkAddr]string)
	for name, node := range c.Nodes {
		if !node.ShortAddr.IsShort() || node.ShortAddr.IsBroadcast() || node.ShortAddr.Short() >= 0xfffe {
			return fmt.Errorf("node %s: invalid short address %s", name, node.ShortAddr)
		}
		if other, ok := shortAddrs[node.ShortAddr]; ok {
			return fmt.Errorf("nodes %s and %s have the same short address", other, name)
		}
		shortAddrs[node.ShortAddr] = name
		if node.ExtAddr == "" {
			node.ExtAddr = GenerateExtAddr(name)
		} else if !node.ExtAddr.IsExtended() {
			return fmt.Errorf("node %s: invalid extended address %s", name, node.ExtAddr)
		}
		for _, nb := range node.Neighbors {
			if nb.Address == "" || !nb.LinkAddr.Valid() {
				return fmt.Errorf("node %s: invalid neighbor entry %s -> %s", name, nb.Address, nb.LinkAddr)
			}
		}
		for _, svc := range node.Services {
			if svc.Port <= 0 || svc.Port > 65535 {
				return fmt.Errorf("node %s: invalid service port %d", name, svc.Port)
			}
		}
		c.Nodes[name] = node
	}
	return nil
}

// GenerateExtAddr derives a stable, locally administered EUI-64 from a node name
func GenerateExtAddr(name string) proto.LinkAddr {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte("lowpan-node:"+name))
	b := make([]byte, proto.ExtendedAddrLen)
	copy(b, u[:proto.ExtendedAddrLen])
	b[0] = b[0]&^0x01 | 0x02
	return proto.LinkAddr(b)
}

// MediumParams returns the global medium parameters overlaid with the node's own
func (c *Config) MediumParams(nodeName string) Params {
	p := make(Params)
	for k, v := range c.Global.Medium.Params {
		p[k] = v
	}
	for k, v := range c.Nodes[nodeName].Medium {
		p[k] = v
	}
	return p
}
