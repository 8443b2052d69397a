package translate

import "github.com/MartinPavlik/ai-localization/langfile"

// ResolveSet computes the keys a target needs translated this run, in
// source key order:
//
//   - recreate mode: every source key;
//   - otherwise: keys changed since the baseline plus keys missing from
//     the target.
//
// Changed keys not present in the source are discarded: a deletion or
// rename must never reintroduce a stale key.
func ResolveSet(source, target *langfile.File, changed map[string]struct{}, recreate bool) []string {
	if recreate {
		keys := source.Keys()
		out := make([]string, len(keys))
		copy(out, keys)
		return out
	}

	var out []string
	for _, key := range source.Keys() {
		if _, isChanged := changed[key]; isChanged || !target.Has(key) {
			out = append(out, key)
		}
	}
	return out
}
