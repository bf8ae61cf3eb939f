// Package configkey derives content-addressed configuration keys from
// resolved model parameter sets, so identical runs collapse onto the
// same ModelConfiguration row and never recompute.
package configkey

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mvreeden/gridsim/internal/models"
	"gorm.io/gorm"
)

// Reserved parameter names merged into every configuration. They make
// the key sensitive to model edits, discretization changes, and moving
// start times, and are never user-settable.
const (
	KeyStart          = "__start__"
	KeyTimesteps      = "__timesteps__"
	KeyDiscretization = "__discretization__"
	KeyModel          = "__model__"
	KeyVersion        = "__version__"
)

// excludedKeys select the area of interest rather than the computation,
// so they must not influence the key.
var excludedKeys = map[string]bool{
	"bbox":       true,
	"model_name": true,
}

// placeholder marks a form value that was never filled in.
const placeholder = "###"

// TimeSpec is the declared time section of a model.
type TimeSpec struct {
	Start          string `json:"start"`
	Timesteps      int    `json:"timesteps"`
	TimestepLength int    `json:"timesteplength"`
	StartRoundoff  int    `json:"startroundoff"`
	StartOffset    int    `json:"startoffset"`
}

// ParseTimeSpec decodes a model's time section, applying the default
// one-minute round-down when no roundoff is declared.
func ParseTimeSpec(raw string) (TimeSpec, error) {
	spec := TimeSpec{StartRoundoff: -60}
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return TimeSpec{}, fmt.Errorf("configkey: parse time section: %w", err)
	}
	if spec.Timesteps <= 0 {
		return TimeSpec{}, fmt.Errorf("configkey: time section declares %d timesteps", spec.Timesteps)
	}
	return spec, nil
}

// TimeLayout is the wire format for model start times.
const TimeLayout = "2006-01-02T15:04:05"

// ParseModelTime resolves a model start time. An unparseable start
// string means "start now": the clock value stands in, which is what
// forecast models rely on. The resolved time is snapped to a multiple
// of |roundTo| seconds (down when roundTo is negative, up when
// positive), then shifted by offset seconds. Snapping keeps repeated
// "now" requests within the same interval on one configuration key.
func ParseModelTime(start string, roundTo, offset int, now time.Time) time.Time {
	t, err := time.Parse(TimeLayout, start)
	if err != nil {
		t = now.UTC()
	}
	t = snap(t, roundTo)
	return t.Add(time.Duration(offset) * time.Second).UTC()
}

func snap(t time.Time, roundTo int) time.Time {
	if roundTo == 0 {
		return t.UTC()
	}
	step := int64(roundTo)
	if step < 0 {
		step = -step
	}
	secs := t.Unix()
	floored := secs - ((secs%step)+step)%step
	if roundTo > 0 {
		floored += step
	}
	return time.Unix(floored, 0).UTC()
}

// DeclaredParams decodes a model's declared parameter defaults,
// preserving the declared numeric kind: whole-number literals come back
// as int64, fractional ones as float64.
func DeclaredParams(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	params := map[string]any{}
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("configkey: parse declared parameters: %w", err)
	}
	for k, v := range params {
		if n, ok := v.(json.Number); ok {
			params[k] = normalizeNumber(n)
		}
	}
	return params, nil
}

func normalizeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil && !strings.ContainsAny(n.String(), ".eE") {
		return i
	}
	f, _ := n.Float64()
	return f
}

// Resolve merges user overrides onto the declared defaults. Only keys
// matching a declared parameter are taken, and each override is coerced
// to the declared parameter's type. An override whose value cannot be
// coerced is dropped and the declared default kept. Placeholder values
// are ignored.
func Resolve(declared map[string]any, overrides map[string]any) map[string]any {
	resolved := make(map[string]any, len(declared))
	for k, v := range declared {
		resolved[k] = v
	}
	for k, v := range overrides {
		def, ok := resolved[k]
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr && s == placeholder {
			continue
		}
		coerced, ok := coerce(def, v)
		if !ok {
			continue
		}
		resolved[k] = coerced
	}
	return resolved
}

// coerce converts value to the type of the declared default. The bool
// result reports whether the conversion succeeded.
func coerce(declared, value any) (any, bool) {
	switch declared.(type) {
	case int64:
		switch v := value.(type) {
		case int64:
			return v, true
		case float64:
			return int64(v), true
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return i, true
			}
			return nil, false
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return i, true
			}
			return nil, false
		}
	case float64:
		switch v := value.(type) {
		case float64:
			return v, true
		case int64:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
			return nil, false
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
			return nil, false
		}
	case string:
		switch v := value.(type) {
		case string:
			return v, true
		default:
			return formatValue(v), true
		}
	}
	return value, true
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Key hashes a resolved parameter set into its configuration key.
// Excluded keys are skipped; the remaining parameters are joined as a
// sorted "k=v" list, and the key is the md5 hex digest of that string.
// Returns the key, the cleartext identifier, and the parameters that
// entered the hash.
func Key(params map[string]any) (key, identifier string, hashed map[string]any) {
	names := make([]string, 0, len(params))
	for k := range params {
		if excludedKeys[k] {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	hashed = make(map[string]any, len(names))
	parts := make([]string, 0, len(names))
	for _, k := range names {
		hashed[k] = params[k]
		parts = append(parts, k+"="+formatValue(params[k]))
	}
	identifier = strings.Join(parts, ",")
	sum := md5.Sum([]byte(identifier))
	return hex.EncodeToString(sum[:]), identifier, hashed
}

// Configure resolves overrides against a model's declared parameters,
// merges the reserved keys, and returns the matching ModelConfiguration,
// creating it when the key has never been seen. Get-or-create: a
// repeated parameter set is a cache hit, never a conflict.
func Configure(db *gorm.DB, model *models.SimModel, overrides map[string]any, now time.Time) (*models.ModelConfiguration, error) {
	declared, err := DeclaredParams(model.ParametersJSON)
	if err != nil {
		return nil, fmt.Errorf("configkey: model %q: %w", model.Name, err)
	}
	spec, err := ParseTimeSpec(model.TimeJSON)
	if err != nil {
		return nil, fmt.Errorf("configkey: model %q: %w", model.Name, err)
	}

	resolved := Resolve(declared, overrides)
	start := ParseModelTime(spec.Start, spec.StartRoundoff, spec.StartOffset, now)
	resolved[KeyStart] = start.Format(TimeLayout)
	resolved[KeyTimesteps] = int64(spec.Timesteps)
	resolved[KeyDiscretization] = model.DiscretizationName
	resolved[KeyModel] = model.Name
	resolved[KeyVersion] = int64(model.Version)

	key, identifier, hashed := Key(resolved)

	var existing models.ModelConfiguration
	err = db.Where("config_key = ?", key).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("configkey: look up key %s: %w", key, err)
	}

	paramsJSON, err := json.Marshal(hashed)
	if err != nil {
		return nil, fmt.Errorf("configkey: encode parameters: %w", err)
	}
	created := models.ModelConfiguration{
		Key:            key,
		Identifier:     identifier,
		ParametersJSON: string(paramsJSON),
		SimModelID:     model.ID,
	}
	if err := db.Create(&created).Error; err != nil {
		return nil, fmt.Errorf("configkey: create configuration %s: %w", key, err)
	}
	return &created, nil
}
