package domain

// Feature is an immutable point feature. It is identified only by its
// position in the global feature sequence assigned at build time.
type Feature struct {
	Geometry   Point                  `json:"geometry"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// GetProperty returns a property value by key.
func (f *Feature) GetProperty(key string) (interface{}, bool) {
	v, ok := f.Properties[key]
	return v, ok
}

// GetStringProperty returns a property as string, "" when absent or not a
// string.
func (f *Feature) GetStringProperty(key string) string {
	s, _ := f.Properties[key].(string)
	return s
}

// GetIntProperty returns a numeric property truncated to int. GeoJSON
// numbers decode as float64, so that is the common case.
func (f *Feature) GetIntProperty(key string) int {
	switch v := f.Properties[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// Project returns a copy of f carrying only the properties in keys. The
// property map is always fresh; the original is shared with cached chunks
// and must not be mutated.
func (f Feature) Project(keys map[string]struct{}) Feature {
	props := make(map[string]interface{}, len(keys))
	for k := range keys {
		if v, ok := f.Properties[k]; ok {
			props[k] = v
		}
	}
	return Feature{Geometry: f.Geometry, Properties: props}
}

// SourceGroup is the parsed content of one source tile, in file order.
type SourceGroup struct {
	Label    string    // Source tile name, e.g. "N49E014"
	Features []Feature // Validated point features
}

// Len returns the number of features in the group.
func (g *SourceGroup) Len() int {
	return len(g.Features)
}
