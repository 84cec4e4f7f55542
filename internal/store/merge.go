package store

// mergeDocs unions patch into base, field by field. Nested maps merge
// recursively; anything else is overwritten. An Increment value adds to the
// stored number (missing or non-numeric bases count as zero), matching the
// merge-set contract the producers rely on for counters.
func mergeDocs(base, patch Document) Document {
	if base == nil {
		base = Document{}
	}
	for k, v := range patch {
		switch x := v.(type) {
		case Increment:
			base[k] = toFloat(base[k]) + float64(x)
		case Document:
			base[k] = map[string]any(mergeDocs(subDoc(base[k]), x))
		case map[string]any:
			base[k] = map[string]any(mergeDocs(subDoc(base[k]), Document(x)))
		default:
			base[k] = cloneValue(v)
		}
	}
	return base
}

func subDoc(v any) Document {
	switch x := v.(type) {
	case map[string]any:
		return Document(x).Clone()
	case Document:
		return x.Clone()
	default:
		return Document{}
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case Increment:
		return float64(x)
	default:
		return 0
	}
}

// normalizeForJSON strips merge sentinels so a document can be serialized.
// Increment outside of Merge behaves as a plain number.
func normalizeForJSON(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		switch x := v.(type) {
		case Increment:
			out[k] = float64(x)
		case Document:
			out[k] = map[string]any(normalizeForJSON(x))
		case map[string]any:
			out[k] = map[string]any(normalizeForJSON(Document(x)))
		default:
			out[k] = v
		}
	}
	return out
}
