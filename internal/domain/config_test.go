package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()

	if c.TLD != DefaultTLD || c.ProxyPort != DefaultProxyPort || c.DNSPort != DefaultDNSPort {
		t.Errorf("unexpected settings: %+v", c.Settings)
	}

	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"instances":[]`, `"domains":[]`, `"binaries":{}`, `"tunnels":[]`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("serialized config missing %s: %s", key, raw)
		}
	}
}

func TestNormalizeKeepsTLD(t *testing.T) {
	c := &Config{Settings: Settings{TLD: "localhost"}}
	c.Normalize()
	if c.TLD != "localhost" {
		t.Errorf("TLD = %q, want localhost", c.TLD)
	}

	c = &Config{}
	c.Normalize()
	if c.TLD != DefaultTLD {
		t.Errorf("TLD = %q, want %q", c.TLD, DefaultTLD)
	}
}

func TestFindHelpers(t *testing.T) {
	c := NewConfig()
	c.Instances = append(c.Instances, Instance{ID: "a"}, Instance{ID: "b"})
	c.Domains = append(c.Domains, Domain{ID: "d"})

	if i, inst := c.FindInstance("b"); i != 1 || inst == nil || inst.ID != "b" {
		t.Errorf("FindInstance(b) = %d, %v", i, inst)
	}
	if i, inst := c.FindInstance("zz"); i != -1 || inst != nil {
		t.Errorf("FindInstance(zz) = %d, %v", i, inst)
	}

	// returned pointers alias the slice
	_, d := c.FindDomain("d")
	d.SSL = true
	if !c.Domains[0].SSL {
		t.Error("FindDomain should return a pointer into Domains")
	}
}

func TestConfigValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		key  string
		want string
	}{
		{"string value", `{"document_root":"/srv/app"}`, "document_root", "/srv/app"},
		{"missing key", `{"a":"b"}`, "document_root", ""},
		{"non string", `{"smtp_port":1025}`, "smtp_port", ""},
		{"invalid json", `{`, "a", ""},
		{"empty", ``, "a", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := Instance{Config: json.RawMessage(tt.raw)}
			if got := inst.ConfigValue(tt.key); got != tt.want {
				t.Errorf("ConfigValue(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}
