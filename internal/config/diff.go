package config

// ConfigDiff describes what changed between two configs. Log level and
// evaluation tuning can be hot-reloaded; provider changes require a restart
// and are only reported so the operator can be warned.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EvaluationChanged is true when any evaluation tuning knob changed.
	EvaluationChanged bool
	NewEvaluation     EvaluationConfig

	// ProvidersChanged lists provider kinds whose entry changed. These do
	// not take effect until restart.
	ProvidersChanged []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.EvaluationChanged && len(d.ProvidersChanged) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Evaluation != new.Evaluation {
		d.EvaluationChanged = true
		d.NewEvaluation = new.Evaluation
	}

	if !providerEntryEqual(old.Providers.STT, new.Providers.STT) {
		d.ProvidersChanged = append(d.ProvidersChanged, "stt")
	}
	if !providerEntryEqual(old.Providers.STTFallback, new.Providers.STTFallback) {
		d.ProvidersChanged = append(d.ProvidersChanged, "stt_fallback")
	}
	if !providerEntryEqual(old.Providers.Grammar, new.Providers.Grammar) {
		d.ProvidersChanged = append(d.ProvidersChanged, "grammar")
	}
	if !providerEntryEqual(old.Providers.Pronunciation, new.Providers.Pronunciation) {
		d.ProvidersChanged = append(d.ProvidersChanged, "pronunciation")
	}

	return d
}

// providerEntryEqual compares two provider entries field by field. The
// Options map is compared shallowly by top-level string rendering of keys;
// nested option edits on the same key set still count as changed values.
func providerEntryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !optionValueEqual(av, bv) {
			return false
		}
	}
	return true
}

// optionValueEqual compares two option values, recursing into nested maps.
func optionValueEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok != bok {
		return false
	}
	if aok {
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !optionValueEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return a == b
}
