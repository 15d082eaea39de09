package config

import "testing"

func TestSetConfigAndGetConfig(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	cfg := Default()
	SetConfig(cfg)
	if GetConfig() != cfg {
		t.Error("GetConfig() did not return the config passed to SetConfig()")
	}
	if MustGetConfig() != cfg {
		t.Error("MustGetConfig() did not return the config passed to SetConfig()")
	}
}

func TestMustGetConfig_PanicsWhenUnset(t *testing.T) {
	SetConfig(nil)
	defer func() {
		if recover() == nil {
			t.Error("MustGetConfig() did not panic")
		}
	}()
	MustGetConfig()
}

func TestReloadConfig_KeepsPreviousOnError(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	prev := Default()
	SetConfig(prev)

	if _, err := ReloadConfig(writeConfig(t, "jobs:\n  workers: -1\n")); err == nil {
		t.Fatal("ReloadConfig() succeeded on invalid file")
	}
	if GetConfig() != prev {
		t.Error("ReloadConfig() replaced the config after a failure")
	}

	next, err := ReloadConfig(writeConfig(t, "jobs:\n  workers: 3\n"))
	if err != nil {
		t.Fatalf("ReloadConfig() failed: %v", err)
	}
	if GetConfig() != next || next.Jobs.Workers != 3 {
		t.Errorf("GetConfig() = %+v, want reloaded config with 3 workers", GetConfig().Jobs)
	}
}
