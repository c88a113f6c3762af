package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadConfigOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
preferredMSS: 512
advertisedWindow: 4
rtoMin: 250
lossRate: 0.3
debug: true
`)
	conf, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}

	if conf.PreferredMSS != 512 {
		t.Errorf("PreferredMSS = %d, want 512", conf.PreferredMSS)
	}
	if conf.AdvertisedWindow != 4 {
		t.Errorf("AdvertisedWindow = %d, want 4", conf.AdvertisedWindow)
	}
	if conf.RtoMin != 250 {
		t.Errorf("RtoMin = %d, want 250", conf.RtoMin)
	}
	if conf.LossRate != 0.3 {
		t.Errorf("LossRate = %f, want 0.3", conf.LossRate)
	}
	if !conf.Debug {
		t.Error("Debug = false, want true")
	}

	// unnamed keys keep their defaults
	def := DefaultConfig()
	if conf.InitialCwnd != def.InitialCwnd {
		t.Errorf("InitialCwnd = %d, want default %d", conf.InitialCwnd, def.InitialCwnd)
	}
	if conf.RtoMax != def.RtoMax {
		t.Errorf("RtoMax = %d, want default %d", conf.RtoMax, def.RtoMax)
	}
}

func TestReadConfigMissingFile(t *testing.T) {
	if _, err := ReadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("ReadConfig on a missing file returned nil error")
	}
}

func TestReadConfigRejectsBadYaml(t *testing.T) {
	path := writeConfigFile(t, "preferredMSS: [not an int\n")
	if _, err := ReadConfig(path); err == nil {
		t.Error("ReadConfig on malformed yaml returned nil error")
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "zero cwnd", mutate: func(c *Config) { c.InitialCwnd = 0 }, wantErr: true},
		{name: "ssthresh below floor", mutate: func(c *Config) { c.InitialSsthresh = 1 }, wantErr: true},
		{name: "zero window", mutate: func(c *Config) { c.AdvertisedWindow = 0 }, wantErr: true},
		{name: "rto cap below floor", mutate: func(c *Config) { c.RtoMax = c.RtoMin - 1 }, wantErr: true},
		{name: "negative loss rate", mutate: func(c *Config) { c.LossRate = -0.1 }, wantErr: true},
		{name: "certain loss", mutate: func(c *Config) { c.LossRate = 1.0 }, wantErr: true},
	}

	for _, tc := range testCases {
		conf := DefaultConfig()
		tc.mutate(conf)
		err := conf.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %t", tc.name, err, tc.wantErr)
		}
	}
}
