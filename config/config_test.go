package config

import "testing"

func TestClampScanInterval(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, MinScanIntervalMinutes},
		{-5, MinScanIntervalMinutes},
		{14, MinScanIntervalMinutes},
		{15, 15},
		{60, 60},
		{1440, 1440},
		{1441, MaxScanIntervalMinutes},
		{100000, MaxScanIntervalMinutes},
	}
	for _, c := range cases {
		if got := ClampScanInterval(c.in); got != c.want {
			t.Errorf("ClampScanInterval(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ServerAddress == "" {
		t.Error("ServerAddress default missing")
	}
	if cfg.ScanIntervalMinutes < MinScanIntervalMinutes || cfg.ScanIntervalMinutes > MaxScanIntervalMinutes {
		t.Errorf("ScanIntervalMinutes %d outside bounds", cfg.ScanIntervalMinutes)
	}
	if cfg.MQTTTopicPrefix == "" {
		t.Error("MQTTTopicPrefix default missing")
	}
}
