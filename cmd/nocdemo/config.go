package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config gathers the parameters of the simulated system. All values have
// working defaults; a TOML file overrides them selectively.
type Config struct {
	System    SystemConfig    `toml:"system"`
	DI        DIConfig        `toml:"di"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Recording RecordingConfig `toml:"recording"`
}

// SystemConfig describes the NoC the control module reports.
type SystemConfig struct {
	XDim          int `toml:"x_dim"`
	YDim          int `toml:"y_dim"`
	SlotTableSize int `toml:"slot_table_size"`
	MaxEndpoints  int `toml:"max_endpoints"`

	// Endpoints holds the per-node TDM endpoint counts. Empty means
	// MaxEndpoints on every node.
	Endpoints []int `toml:"endpoints"`

	SimpleNCM bool `toml:"simple_ncm"`
}

// DIConfig describes the debug interconnect and the local NoC bridge.
type DIConfig struct {
	HostAddr   uint16 `toml:"host_addr"`
	NCMAddr    uint16 `toml:"ncm_addr"`
	BridgeAddr uint16 `toml:"bridge_addr"`

	Tile               int  `toml:"tile"`
	MaxPktLen          int  `toml:"max_pkt_len"`
	NoCWidth           int  `toml:"noc_width"`
	NumLinks           int  `toml:"num_links"`
	BEEndpoints        int  `toml:"be_endpoints"`
	MaxBEPktLen        int  `toml:"max_be_pkt_len"`
	TDMEndpoints       int  `toml:"tdm_endpoints"`
	MaxTDMMsgLen       int  `toml:"max_tdm_msg_len"`
	DistributedRouting bool `toml:"distributed_routing"`
}

// MonitorConfig configures the dashboard server.
type MonitorConfig struct {
	Port    int  `toml:"port"`
	Browser bool `toml:"browser"`
}

// RecordingConfig configures telemetry persistence.
type RecordingConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

func defaultConfig() Config {
	return Config{
		System: SystemConfig{
			XDim:          3,
			YDim:          3,
			SlotTableSize: 8,
			MaxEndpoints:  2,
		},
		DI: DIConfig{
			HostAddr:           1,
			NCMAddr:            10,
			BridgeAddr:         11,
			Tile:               4,
			MaxPktLen:          12,
			NoCWidth:           32,
			NumLinks:           2,
			BEEndpoints:        2,
			MaxBEPktLen:        8,
			TDMEndpoints:       2,
			MaxTDMMsgLen:       16,
			DistributedRouting: true,
		},
		Monitor: MonitorConfig{
			Port: 3001,
		},
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if len(cfg.System.Endpoints) == 0 {
		cfg.System.Endpoints = make([]int, cfg.System.XDim*cfg.System.YDim)
		for i := range cfg.System.Endpoints {
			cfg.System.Endpoints[i] = cfg.System.MaxEndpoints
		}
	}

	return cfg, nil
}

func (c Config) validate() error {
	numNodes := c.System.XDim * c.System.YDim
	switch {
	case c.System.XDim < 1 || c.System.YDim < 1:
		return fmt.Errorf("config: invalid mesh dimensions %dx%d",
			c.System.XDim, c.System.YDim)
	// The slot-table configuration command carries the slot index in an
	// 8-bit field, so at most 256 slots are addressable.
	case c.System.SlotTableSize < 1 || c.System.SlotTableSize > 256:
		return fmt.Errorf("config: slot table size %d out of range",
			c.System.SlotTableSize)
	case len(c.System.Endpoints) != 0 && len(c.System.Endpoints) != numNodes:
		return fmt.Errorf("config: %d endpoint counts for %d nodes",
			len(c.System.Endpoints), numNodes)
	case c.DI.Tile < 0 || c.DI.Tile >= numNodes:
		return fmt.Errorf("config: bridge tile %d outside the mesh", c.DI.Tile)
	case c.DI.NoCWidth%16 != 0 || c.DI.NoCWidth < 16:
		return fmt.Errorf("config: NoC width %d is not a multiple of 16",
			c.DI.NoCWidth)
	}

	return nil
}
