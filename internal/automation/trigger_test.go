package automation

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTriggerConfig_Map(t *testing.T) {
	cfg := TriggerConfig{
		Platform: PlatformDevice,
		DeviceID: "kodi-lounge",
		Domain:   "kodi",
		EntityID: "media_player.lounge",
		Type:     "turn_on",
	}
	want := map[string]any{
		"platform":  "device",
		"device_id": "kodi-lounge",
		"domain":    "kodi",
		"entity_id": "media_player.lounge",
		"type":      "turn_on",
	}
	if diff := cmp.Diff(want, cfg.Map()); diff != "" {
		t.Errorf("Map() mismatch (-want +got):\n%s", diff)
	}

	cfg.EntityID = ""
	if _, ok := cfg.Map()["entity_id"]; ok {
		t.Error("Map() includes empty entity_id")
	}
}

func TestTriggerConfigFromMap(t *testing.T) {
	got, err := TriggerConfigFromMap(map[string]any{
		"platform": "device", "device_id": "d", "domain": "kodi",
		"entity_id": "media_player.x", "type": "turn_off", "extra": 1,
	})
	if err != nil {
		t.Fatalf("TriggerConfigFromMap() error = %v", err)
	}
	want := TriggerConfig{Platform: "device", DeviceID: "d", Domain: "kodi", EntityID: "media_player.x", Type: "turn_off"}
	if got != want {
		t.Errorf("TriggerConfigFromMap() = %+v, want %+v", got, want)
	}

	for _, bad := range []map[string]any{
		{"device_id": 12},
		{"type": true},
	} {
		if _, err := TriggerConfigFromMap(bad); !errors.Is(err, ErrInvalidTrigger) {
			t.Errorf("TriggerConfigFromMap(%v) error = %v, want ErrInvalidTrigger", bad, err)
		}
	}
}

func TestVariables_Trigger(t *testing.T) {
	vars := Variables{"trigger": map[string]any{"description": "kodi_turn_on"}}
	if vars.Trigger()["description"] != "kodi_turn_on" {
		t.Errorf("Trigger() = %v", vars.Trigger())
	}
	if (Variables{}).Trigger() != nil {
		t.Error("Trigger() on empty variables is not nil")
	}
}

func TestValidateBase(t *testing.T) {
	valid := TriggerConfig{Platform: "device", DeviceID: "d", Domain: "kodi", Type: "turn_on"}

	tests := []struct {
		name    string
		mutate  func(c *TriggerConfig)
		wantErr bool
	}{
		{"valid", func(*TriggerConfig) {}, false},
		{"wrong platform", func(c *TriggerConfig) { c.Platform = "state" }, true},
		{"missing device", func(c *TriggerConfig) { c.DeviceID = "" }, true},
		{"missing domain", func(c *TriggerConfig) { c.Domain = "" }, true},
		{"missing type", func(c *TriggerConfig) { c.Type = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := ValidateBase(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateBase() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTrigger) {
				t.Errorf("ValidateBase() error = %v, want ErrInvalidTrigger", err)
			}
		})
	}
}

func TestCompileTriggerSchema_ExtendsBase(t *testing.T) {
	schema, err := CompileTriggerSchema("test_trigger.json", `{
		"allOf": [{"$ref": "device_trigger_base.json"}],
		"required": ["entity_id"],
		"properties": {"type": {"enum": ["pressed"]}}
	}`)
	if err != nil {
		t.Fatalf("CompileTriggerSchema() error = %v", err)
	}

	ok := TriggerConfig{Platform: "device", DeviceID: "d", Domain: "test", EntityID: "button.a", Type: "pressed"}
	if err := ValidateAgainst(schema, ok); err != nil {
		t.Errorf("ValidateAgainst(valid) error = %v", err)
	}

	badType := ok
	badType.Type = "released"
	if err := ValidateAgainst(schema, badType); !errors.Is(err, ErrInvalidTrigger) {
		t.Errorf("ValidateAgainst(bad type) error = %v, want ErrInvalidTrigger", err)
	}

	noEntity := ok
	noEntity.EntityID = ""
	if err := ValidateAgainst(schema, noEntity); err == nil {
		t.Error("ValidateAgainst(no entity) error = nil")
	}

	badBase := ok
	badBase.Platform = "state"
	if err := ValidateAgainst(schema, badBase); err == nil {
		t.Error("ValidateAgainst(bad platform) error = nil, base schema not applied")
	}
}

func TestCompileTriggerSchema_BadJSON(t *testing.T) {
	if _, err := CompileTriggerSchema("broken.json", `{`); err == nil {
		t.Error("CompileTriggerSchema() error = nil for malformed JSON")
	}
}
