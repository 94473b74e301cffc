// Package envspec loads and represents the environment specification file:
// the JSON document describing an environment's executable, its
// populations (or "body types") and their sensor/motor interfaces, and the
// settings an evolution driver may supply on the command line.
package envspec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiosk404/npcmaker/pkg/jsonutil"
)

// Mode selects whether an environment should run with a graphical front end
// or headless, passed as the second positional argument on the environment's
// command line.
type Mode string

const (
	ModeHeadless  Mode = "headless"
	ModeGraphical Mode = "graphical"
)

func (m Mode) String() string { return string(m) }

// ModeFromGraphical converts a boolean flag into its Mode spelling.
func ModeFromGraphical(graphical bool) Mode {
	if graphical {
		return ModeGraphical
	}
	return ModeHeadless
}

// Interface describes one sensor or motor GIN exposed by a population.
type Interface struct {
	GIN         uint64                 `json:"gin"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

// Population describes one population (a.k.a. body type) an environment
// supports: a name, documentation, and its interface list. The wire field
// is historically spelled "interfaces" or, in older environments, split
// into "sensors"/"motors"; both are accepted and merged on load.
type Population struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Interfaces  []Interface            `json:"interfaces,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

// SettingKind identifies the shape of a Setting's value.
type SettingKind string

const (
	SettingReal        SettingKind = "Real"
	SettingInteger     SettingKind = "Integer"
	SettingBoolean     SettingKind = "Boolean"
	SettingEnumeration SettingKind = "Enumeration"
	SettingString      SettingKind = "String"
)

var settingAliases = map[string]SettingKind{
	"real": SettingReal, "float": SettingReal,
	"integer": SettingInteger, "int": SettingInteger,
	"boolean": SettingBoolean, "bool": SettingBoolean,
	"enumeration": SettingEnumeration, "enum": SettingEnumeration,
	"string": SettingString, "str": SettingString,
}

// Setting is a single command-line-configurable parameter an environment
// advertises. Exactly the fields relevant to Kind are populated.
type Setting struct {
	Kind        SettingKind
	Name        string
	Description string

	// Real / Integer bounds and default.
	Minimum float64
	Maximum float64

	RealDefault    float64
	IntegerDefault int64
	BooleanDefault bool
	StringDefault  string

	Values []string // Enumeration: legal values
}

// Default renders the setting's default value as the string form used on
// an environment's command line.
func (s Setting) Default() string {
	switch s.Kind {
	case SettingReal:
		return fmt.Sprintf("%g", s.RealDefault)
	case SettingInteger:
		return fmt.Sprintf("%d", s.IntegerDefault)
	case SettingBoolean:
		return fmt.Sprintf("%t", s.BooleanDefault)
	default:
		return s.StringDefault
	}
}

// Spec is a loaded environment specification file.
type Spec struct {
	Name        string
	Path        string // resolved, absolute path to the environment executable
	Description string
	Populations []Population
	Settings    []Setting
	Extra       map[string]interface{}

	// dir is the directory the spec file itself lives in, used to resolve
	// Path when it is given relative to the spec.
	dir string
}

// rawSpec mirrors the on-disk JSON shape before path resolution and
// description-list flattening.
type rawSpec struct {
	Name        string                `json:"name"`
	Path        string                `json:"path"`
	Description interface{}           `json:"description,omitempty"`
	Populations []rawPopulation       `json:"populations,omitempty"`
	BodyTypes   []rawPopulation       `json:"body_types,omitempty"`
	Settings    map[string]rawSetting `json:"settings,omitempty"`
}

type rawPopulation struct {
	Name        string      `json:"name"`
	Description interface{} `json:"description,omitempty"`
	Interfaces  []Interface `json:"interfaces,omitempty"`
	Sensors     []Interface `json:"sensors,omitempty"`
	Motors      []Interface `json:"motors,omitempty"`
}

type rawSetting struct {
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Minimum     *float64      `json:"minimum,omitempty"`
	Maximum     *float64      `json:"maximum,omitempty"`
	Default     interface{}   `json:"default,omitempty"`
	Values      []string      `json:"values,omitempty"`
}

// Load reads and parses the environment spec at path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("envspec: read %s: %w", path, err)
	}

	var raw rawSpec
	if err := jsonutil.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("envspec: parse %s: %w", path, err)
	}
	// Also decode into a generic map to recover unknown top-level fields as
	// extras, per the external-interfaces contract ("unknown fields
	// preserved as extras"). A second generic pass over just the
	// populations/body_types arrays recovers the same for each population
	// and interface, since those nested extras can't be reached from the
	// top-level map alone.
	var generic map[string]interface{}
	_ = jsonutil.Unmarshal(data, &generic)
	var genericPops struct {
		Populations []map[string]interface{} `json:"populations"`
		BodyTypes   []map[string]interface{} `json:"body_types"`
	}
	_ = jsonutil.Unmarshal(data, &genericPops)
	rawPops := genericPops.Populations
	if len(rawPops) == 0 {
		rawPops = genericPops.BodyTypes
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("envspec: resolve %s: %w", path, err)
	}
	dir := filepath.Dir(absPath)

	spec := &Spec{
		Name:        raw.Name,
		Description: flattenDescription(raw.Description),
		dir:         dir,
		Extra:       knownFieldsRemoved(generic),
	}

	spec.Path, err = resolveExecutablePath(dir, raw.Path)
	if err != nil {
		return nil, err
	}

	pops := raw.Populations
	if len(pops) == 0 {
		pops = raw.BodyTypes
	}
	for i, rp := range pops {
		interfaces := mergeInterfaces(rp.Interfaces, rp.Sensors, rp.Motors)
		var rawExtra map[string]interface{}
		if i < len(rawPops) {
			rawExtra = rawPops[i]
			attachInterfaceExtras(interfaces, rawExtra)
		}
		spec.Populations = append(spec.Populations, Population{
			Name:        rp.Name,
			Description: flattenDescription(rp.Description),
			Interfaces:  interfaces,
			Extra:       populationExtraRemoved(rawExtra),
		})
	}

	for name, rs := range raw.Settings {
		setting, err := convertSetting(name, rs)
		if err != nil {
			return nil, fmt.Errorf("envspec: setting %q: %w", name, err)
		}
		spec.Settings = append(spec.Settings, setting)
	}

	return spec, nil
}

// populationExtraRemoved strips the JSON keys Population itself decodes,
// leaving whatever's left as that population's extras. raw is consumed:
// callers needing its nested "interfaces"/"sensors"/"motors" arrays must
// read them (attachInterfaceExtras) before calling this.
func populationExtraRemoved(raw map[string]interface{}) map[string]interface{} {
	for _, k := range []string{"name", "description", "interfaces", "sensors", "motors"} {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// interfaceExtraRemoved strips the JSON keys Interface itself decodes,
// leaving whatever's left as that interface's extras.
func interfaceExtraRemoved(raw map[string]interface{}) map[string]interface{} {
	for _, k := range []string{"gin", "name", "description"} {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// rawObjectList type-asserts v (expected to be a []interface{} of JSON
// objects, as decoded into interface{}) into a slice of maps, in order.
// Elements that aren't objects decode as nil.
func rawObjectList(v interface{}) []map[string]interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, len(arr))
	for i, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			out[i] = m
		}
	}
	return out
}

// attachInterfaceExtras matches interfaces (already merged from the
// interfaces/sensors/motors fields, in that concatenation order) against
// their raw JSON objects within rawPop, and fills in each Interface's Extra.
func attachInterfaceExtras(interfaces []Interface, rawPop map[string]interface{}) {
	sources := append(append(
		rawObjectList(rawPop["interfaces"]),
		rawObjectList(rawPop["sensors"])...),
		rawObjectList(rawPop["motors"])...)
	for i := range interfaces {
		if i >= len(sources) || sources[i] == nil {
			continue
		}
		interfaces[i].Extra = interfaceExtraRemoved(sources[i])
	}
}

func mergeInterfaces(lists ...[]Interface) []Interface {
	var out []Interface
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func flattenDescription(v interface{}) string {
	switch d := v.(type) {
	case string:
		return d
	case []interface{}:
		parts := make([]string, 0, len(d))
		for _, item := range d {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "")
	default:
		return ""
	}
}

func resolveExecutablePath(specDir, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("envspec: missing \"path\" field")
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw), nil
	}
	return filepath.Clean(filepath.Join(specDir, raw)), nil
}

func convertSetting(name string, rs rawSetting) (Setting, error) {
	kind, ok := settingAliases[strings.ToLower(rs.Type)]
	if !ok {
		return Setting{}, fmt.Errorf("unknown setting type %q", rs.Type)
	}
	s := Setting{Kind: kind, Name: name, Description: rs.Description, Values: rs.Values}
	if rs.Minimum != nil {
		s.Minimum = *rs.Minimum
	}
	if rs.Maximum != nil {
		s.Maximum = *rs.Maximum
	}
	switch kind {
	case SettingReal:
		if f, ok := rs.Default.(float64); ok {
			s.RealDefault = f
		}
	case SettingInteger:
		if f, ok := rs.Default.(float64); ok {
			s.IntegerDefault = int64(f)
		}
	case SettingBoolean:
		if b, ok := rs.Default.(bool); ok {
			s.BooleanDefault = b
		}
	default:
		if str, ok := rs.Default.(string); ok {
			s.StringDefault = str
		}
	}
	return s, nil
}

func knownFieldsRemoved(m map[string]interface{}) map[string]interface{} {
	for _, k := range []string{"name", "path", "description", "populations", "body_types", "settings"} {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// SettingValue is one resolved (name, value) pair to pass on an
// environment's command line.
type SettingValue struct {
	Name  string
	Value string
}

// Args builds the command-line argument vector an evolution driver passes
// to an environment program: the spec path, the run mode, and a flat
// name/value pair for every setting the spec declares, in spec.Settings
// order (Load builds that slice by iterating the file's settings object, so
// it does not keep the file's key order). Any setting the caller explicitly overrides in settings
// takes that value; every setting the caller omits is filled from the
// spec's own declared default (spec §6: "missing setting overrides are
// filled from the spec's defaults"). Settings named in settings but not
// declared by the spec are appended afterward, in the order given, on the
// assumption the caller knows about an environment capability the spec
// didn't advertise. The executable itself is Spec.Path and is not included
// in the returned slice.
func Args(spec *Spec, specPath string, mode Mode, settings []SettingValue) []string {
	overrides := make(map[string]string, len(settings))
	seen := make(map[string]bool, len(settings))
	for _, s := range settings {
		overrides[s.Name] = s.Value
		seen[s.Name] = false
	}

	args := []string{specPath, string(mode)}
	for _, decl := range spec.Settings {
		value, overridden := overrides[decl.Name]
		if !overridden {
			value = decl.Default()
		} else {
			seen[decl.Name] = true
		}
		args = append(args, decl.Name, value)
	}
	for _, s := range settings {
		if !seen[s.Name] {
			args = append(args, s.Name, s.Value)
		}
	}
	return args
}
