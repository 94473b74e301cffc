package envspec

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleSpec = `{
  "name": "xor-world",
  "path": "bin/xor-env",
  "description": ["A tiny world that rewards solving ", "XOR."],
  "populations": [
    {
      "name": "agents",
      "description": "XOR-solving agents",
      "interfaces": [
        {"gin": 0, "name": "a", "description": "input a"},
        {"gin": 1, "name": "b", "description": "input b"},
        {"gin": 2, "name": "out", "description": "output"}
      ]
    }
  ],
  "settings": {
    "max_steps": {"type": "int", "description": "step budget", "minimum": 1, "maximum": 1000, "default": 100},
    "tolerance": {"type": "float", "default": 0.05},
    "render": {"type": "bool", "default": false},
    "difficulty": {"type": "enum", "values": ["easy", "hard"], "default": "easy"}
  },
  "vendor_extra": {"build": "nightly"}
}`

func writeSpec(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "env.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func TestLoadResolvesRelativePath(t *testing.T) {
	dir := t.TempDir()
	path := writeSpec(t, dir, sampleSpec)

	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Clean(filepath.Join(dir, "bin/xor-env"))
	if spec.Path != want {
		t.Errorf("Path = %q, want %q", spec.Path, want)
	}
	if spec.Description != "A tiny world that rewards solving XOR." {
		t.Errorf("Description = %q", spec.Description)
	}
	if len(spec.Populations) != 1 || len(spec.Populations[0].Interfaces) != 3 {
		t.Fatalf("unexpected populations: %+v", spec.Populations)
	}
	if spec.Extra["vendor_extra"] == nil {
		t.Errorf("expected vendor_extra to survive as an extra field")
	}
}

func TestSettingTypes(t *testing.T) {
	dir := t.TempDir()
	path := writeSpec(t, dir, sampleSpec)
	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	byName := map[string]Setting{}
	for _, s := range spec.Settings {
		byName[s.Name] = s
	}

	if s := byName["max_steps"]; s.Kind != SettingInteger || s.IntegerDefault != 100 {
		t.Errorf("max_steps = %+v", s)
	}
	if s := byName["tolerance"]; s.Kind != SettingReal || s.RealDefault != 0.05 {
		t.Errorf("tolerance = %+v", s)
	}
	if s := byName["render"]; s.Kind != SettingBoolean || s.BooleanDefault != false {
		t.Errorf("render = %+v", s)
	}
	if s := byName["difficulty"]; s.Kind != SettingEnumeration || s.StringDefault != "easy" {
		t.Errorf("difficulty = %+v", s)
	}
}

func TestArgsOrdering(t *testing.T) {
	spec := &Spec{}
	args := Args(spec, "/envs/xor.json", ModeHeadless, []SettingValue{
		{Name: "max_steps", Value: "50"},
		{Name: "render", Value: "false"},
	})
	want := []string{"/envs/xor.json", "headless", "max_steps", "50", "render", "false"}
	if len(args) != len(want) {
		t.Fatalf("Args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("Args = %v, want %v", args, want)
		}
	}
}

func TestArgsFillsMissingSettingsFromSpecDefaults(t *testing.T) {
	spec := &Spec{Settings: []Setting{
		{Kind: SettingInteger, Name: "max_steps", IntegerDefault: 100},
		{Kind: SettingBoolean, Name: "render", BooleanDefault: false},
		{Kind: SettingReal, Name: "tolerance", RealDefault: 0.05},
	}}
	args := Args(spec, "/envs/xor.json", ModeHeadless, []SettingValue{
		{Name: "max_steps", Value: "50"},
	})
	want := []string{
		"/envs/xor.json", "headless",
		"max_steps", "50",
		"render", "false",
		"tolerance", "0.05",
	}
	if len(args) != len(want) {
		t.Fatalf("Args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("Args = %v, want %v", args, want)
		}
	}
}

func TestArgsAppendsOverridesTheSpecDoesNotDeclare(t *testing.T) {
	spec := &Spec{Settings: []Setting{
		{Kind: SettingInteger, Name: "max_steps", IntegerDefault: 100},
	}}
	args := Args(spec, "/envs/xor.json", ModeHeadless, []SettingValue{
		{Name: "undeclared_flag", Value: "on"},
	})
	want := []string{
		"/envs/xor.json", "headless",
		"max_steps", "100",
		"undeclared_flag", "on",
	}
	if len(args) != len(want) {
		t.Fatalf("Args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("Args = %v, want %v", args, want)
		}
	}
}

func TestPopulationAndInterfaceExtrasSurvive(t *testing.T) {
	dir := t.TempDir()
	path := writeSpec(t, dir, `{
      "name": "xor-world",
      "path": "bin/xor-env",
      "populations": [
        {
          "name": "agents",
          "vendor_tag": "alpha",
          "interfaces": [
            {"gin": 0, "name": "a", "weight": 1.5}
          ]
        }
      ]
    }`)
	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(spec.Populations) != 1 {
		t.Fatalf("unexpected populations: %+v", spec.Populations)
	}
	pop := spec.Populations[0]
	if pop.Extra["vendor_tag"] != "alpha" {
		t.Errorf("Population.Extra[vendor_tag] = %v, want alpha", pop.Extra["vendor_tag"])
	}
	if len(pop.Interfaces) != 1 || pop.Interfaces[0].Extra["weight"] != 1.5 {
		t.Errorf("Interface.Extra[weight] = %v, want 1.5", pop.Interfaces[0].Extra)
	}
}

func TestBodyTypesAliasAndSensorsMotors(t *testing.T) {
	dir := t.TempDir()
	path := writeSpec(t, dir, `{
      "name": "legacy",
      "path": "bin/legacy-env",
      "body_types": [
        {"name": "bot", "sensors": [{"gin": 0, "name": "eye"}], "motors": [{"gin": 1, "name": "leg"}]}
      ]
    }`)
	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(spec.Populations) != 1 || len(spec.Populations[0].Interfaces) != 2 {
		t.Fatalf("unexpected populations: %+v", spec.Populations)
	}
}
