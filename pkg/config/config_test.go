package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghjm/lowpan/pkg/proto"
	"github.com/google/go-cmp/cmp"
)

var testYaml = `---
global:
  pan_id: 0xabcd
  medium:
    type: udp
    params:
      peers: 127.0.0.1:5001,127.0.0.1:5002
  lowpan:
    compression: hc1
    layout: compact
    fragmentation: false
    reassembly_timeout: 30s

nodes:

  foo:
    address: FD00::1
    short_addr: "0x0001"
    ext_addr: 02:00:00:00:00:00:00:01
    medium:
      listen: 127.0.0.1:5001
    neighbors:
      - address: FD00::2
        link_addr: "0x0002"
    services:
      - port: 7

  bar:
    address: FD00::2
    short_addr: "00:02"
    medium:
      listen: 127.0.0.1:5002
    capture: bar.pcap
    services:
      - port: 8
        command: /bin/cat

`

func boolPtr(b bool) *bool {
	return &b
}

var correctConfig = Config{
	Global: Global{
		PANID: 0xabcd,
		Medium: Medium{
			MediumType: "udp",
			Params: Params{
				"peers": "127.0.0.1:5001,127.0.0.1:5002",
			},
		},
		Lowpan: Lowpan{
			Compression:       "hc1",
			Layout:            "compact",
			Fragmentation:     boolPtr(false),
			ReassemblyTimeout: 30 * time.Second,
		},
	},
	Nodes: map[string]Node{
		"foo": {
			Address:   proto.ParseIP("FD00::1"),
			ShortAddr: proto.ShortAddr(1),
			ExtAddr:   proto.ExtendedAddr(0x0200000000000001),
			Medium: Params{
				"listen": "127.0.0.1:5001",
			},
			Neighbors: []Neighbor{
				{Address: proto.ParseIP("FD00::2"), LinkAddr: proto.ShortAddr(2)},
			},
			Services: []Service{
				{Port: 7},
			},
		},
		"bar": {
			Address:   proto.ParseIP("FD00::2"),
			ShortAddr: proto.ShortAddr(2),
			ExtAddr:   GenerateExtAddr("bar"),
			Medium: Params{
				"listen": "127.0.0.1:5002",
			},
			Capture: "bar.pcap",
			Services: []Service{
				{Port: 8, Command: "/bin/cat"},
			},
		},
	},
}

func TestConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yml")
	err := os.WriteFile(configFile, []byte(testYaml), 0o600)
	if err != nil {
		t.Fatalf("error writing config file: %s", err)
	}
	var config *Config
	config, err = LoadConfig(configFile)
	if err != nil {
		t.Fatalf("error loading config file: %s", err)
	}
	if diff := cmp.Diff(&correctConfig, config); diff != "" {
		t.Fatalf("config loaded incorrectly (-want +got):\n%s", diff)
	}
	mp := config.MediumParams("bar")
	if mp["listen"] != "127.0.0.1:5002" || mp["peers"] == "" {
		t.Errorf("incorrect medium params: %v", mp)
	}
	peers, err := mp.GetHostPortList("peers")
	if err != nil {
		t.Fatalf("error parsing peers: %s", err)
	}
	if len(peers) != 2 || peers[1].Port != 5002 {
		t.Errorf("incorrect peers: %v", peers)
	}
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no nodes", "global:\n  pan_id: 1\n"},
		{"missing short address", "nodes:\n  a:\n    address: fd00::1\n"},
		{"broadcast short address", "nodes:\n  a:\n    short_addr: \"0xffff\"\n"},
		{"duplicate short address", "nodes:\n  a:\n    short_addr: \"0x0001\"\n  b:\n    short_addr: \"0x0001\"\n"},
		{"short extended address", "nodes:\n  a:\n    short_addr: \"0x0001\"\n    ext_addr: \"0x0002\"\n"},
		{"bad port", "nodes:\n  a:\n    short_addr: \"0x0001\"\n    services:\n      - port: 70000\n"},
		{"ipv4 address", "nodes:\n  a:\n    short_addr: \"0x0001\"\n    address: 10.0.0.1\n"},
	}
	for _, tt := range tests {
		_, err := ParseConfig([]byte(tt.yaml))
		if err == nil {
			t.Errorf("%s: config was accepted", tt.name)
		}
	}
}

func TestGenerateExtAddr(t *testing.T) {
	a := GenerateExtAddr("foo")
	if !a.IsExtended() {
		t.Fatalf("generated address %s is not extended", a)
	}
	if a[0]&0x02 == 0 || a[0]&0x01 != 0 {
		t.Errorf("generated address %s is not a locally administered unicast address", a)
	}
	if GenerateExtAddr("foo") != a {
		t.Errorf("generated address is not stable")
	}
	if GenerateExtAddr("bar") == a {
		t.Errorf("different names generated the same address")
	}
}

func TestParams(t *testing.T) {
	p := Params{
		"listen": ":5000",
		"bad":    "x",
		"peers":  "127.0.0.1:5001, [::1]:5002",
	}
	ip, port, err := p.GetHostPort("listen")
	if err != nil || ip != nil || port != 5000 {
		t.Errorf("GetHostPort returned %v, %d, %v", ip, port, err)
	}
	if _, _, err = p.GetHostPort("missing"); err == nil {
		t.Errorf("GetHostPort of missing parameter succeeded")
	}
	if _, _, err = p.GetHostPort("bad"); err == nil {
		t.Errorf("GetHostPort of bad value succeeded")
	}
	peers, err := p.GetHostPortList("peers")
	if err != nil || len(peers) != 2 || peers[1].Port != 5002 || !peers[0].IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("GetHostPortList returned %v, %v", peers, err)
	}
	if v := p.GetString("listen", "default"); v != ":5000" {
		t.Errorf("GetString returned %s", v)
	}
	if v := p.GetString("missing", "default"); v != "default" {
		t.Errorf("GetString default returned %s", v)
	}
}
