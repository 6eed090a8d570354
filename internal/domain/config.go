package domain

// Settings are the global knobs stored at the top level of the document.
type Settings struct {
	TLD            string `json:"tld"`
	ProxyPort      int    `json:"proxy_port"`
	DNSPort        int    `json:"dns_port"`
	ProxyInstalled bool   `json:"proxy_installed"`
}

const (
	DefaultTLD       = "test"
	DefaultProxyPort = 8080
	DefaultDNSPort   = 5353
)

// Config is the whole persisted document.
type Config struct {
	Settings

	Instances         []Instance                       `json:"instances"`
	Domains           []Domain                         `json:"domains"`
	Binaries          map[string]map[string]BinaryInfo `json:"binaries"`
	ParkedDirectories []ParkedDirectory                `json:"parked_directories"`
	Stacks            []Stack                          `json:"stacks"`
	FrpServers        []FrpServer                      `json:"frp_servers"`
	Tunnels           []Tunnel                         `json:"tunnels"`
}

// NewConfig returns an empty document with default settings.
func NewConfig() *Config {
	c := &Config{
		Settings: Settings{
			TLD:       DefaultTLD,
			ProxyPort: DefaultProxyPort,
			DNSPort:   DefaultDNSPort,
		},
	}
	c.Normalize()
	return c
}

// Normalize replaces nil collections with empty ones so the serialized
// form is stable ("[]" rather than "null").
func (c *Config) Normalize() {
	if c.Instances == nil {
		c.Instances = []Instance{}
	}
	if c.Domains == nil {
		c.Domains = []Domain{}
	}
	if c.Binaries == nil {
		c.Binaries = map[string]map[string]BinaryInfo{}
	}
	if c.ParkedDirectories == nil {
		c.ParkedDirectories = []ParkedDirectory{}
	}
	if c.Stacks == nil {
		c.Stacks = []Stack{}
	}
	if c.FrpServers == nil {
		c.FrpServers = []FrpServer{}
	}
	if c.Tunnels == nil {
		c.Tunnels = []Tunnel{}
	}
	if c.TLD == "" {
		c.TLD = DefaultTLD
	}
}

func (c *Config) FindInstance(id string) (int, *Instance) {
	for i := range c.Instances {
		if c.Instances[i].ID == id {
			return i, &c.Instances[i]
		}
	}
	return -1, nil
}

func (c *Config) FindDomain(id string) (int, *Domain) {
	for i := range c.Domains {
		if c.Domains[i].ID == id {
			return i, &c.Domains[i]
		}
	}
	return -1, nil
}

func (c *Config) FindFrpServer(id string) (int, *FrpServer) {
	for i := range c.FrpServers {
		if c.FrpServers[i].ID == id {
			return i, &c.FrpServers[i]
		}
	}
	return -1, nil
}

func (c *Config) FindParkedDirectory(id string) (int, *ParkedDirectory) {
	for i := range c.ParkedDirectories {
		if c.ParkedDirectories[i].ID == id {
			return i, &c.ParkedDirectories[i]
		}
	}
	return -1, nil
}

func (c *Config) FindTunnel(id string) (int, *Tunnel) {
	for i := range c.Tunnels {
		if c.Tunnels[i].ID == id {
			return i, &c.Tunnels[i]
		}
	}
	return -1, nil
}

func (c *Config) FindStack(id string) (int, *Stack) {
	for i := range c.Stacks {
		if c.Stacks[i].ID == id {
			return i, &c.Stacks[i]
		}
	}
	return -1, nil
}
