package types

type NodeConfig struct {
	CapacityBytes int64  `key:"capacityBytes" json:"capacity_bytes"`
	ImageDir      string `key:"imageDir" json:"image_dir"`
	MountRoot     string `key:"mountRoot" json:"mount_root"`
}

type NetworkConfig struct {
	Subnet            string `key:"subnet" json:"subnet"`
	LinkBandwidthMbps int    `key:"linkBandwidthMbps" json:"link_bandwidth_mbps"`
}

type TransferConfig struct {
	FileSizeMB int `key:"fileSizeMB" json:"file_size_mb"`
	Port       int `key:"port" json:"port"`
}

type AppConfig struct {
	DebugMode bool           `key:"debugMode" json:"debug_mode"`
	Node      NodeConfig     `key:"node" json:"node"`
	Network   NetworkConfig  `key:"network" json:"network"`
	Transfer  TransferConfig `key:"transfer" json:"transfer"`
}
