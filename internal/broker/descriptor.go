package broker

import "strings"

// ConnectorDescriptor is one connector as indexed by the broker.
type ConnectorDescriptor struct {
	ID               string   `json:"id"`
	Title            string   `json:"title,omitempty"`
	Description      string   `json:"description,omitempty"`
	Maintainer       string   `json:"maintainer,omitempty"`
	AccessURL        string   `json:"access_url,omitempty"`
	SameAs           []string `json:"same_as,omitempty"`
	ResourceCatalogs []string `json:"resource_catalogs,omitempty"`
}

func descriptorFromNode(m map[string]any) ConnectorDescriptor {
	return ConnectorDescriptor{
		ID:               firstString(lookup(m, "@id", "id")),
		Title:            firstString(lookup(m, "title", "ids:title")),
		Description:      firstString(lookup(m, "description", "ids:description")),
		Maintainer:       firstString(lookup(m, "maintainer", "ids:maintainer")),
		AccessURL:        firstString(lookup(m, "accessURL", "ids:accessURL")),
		SameAs:           stringValues(lookup(m, "sameAs", "owl:sameAs")),
		ResourceCatalogs: stringValues(lookup(m, "resourceCatalog", "ids:resourceCatalog")),
	}
}

func lookup(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// stringValues flattens a JSON-LD value (string, {"@id"}, {"@value"}, or a list of
// those) into plain strings.
func stringValues(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	case map[string]any:
		if s := nodeValue(t); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range t {
			out = append(out, stringValues(item)...)
		}
	}
	return out
}

func firstString(v any) string {
	if list := stringValues(v); len(list) > 0 {
		return list[0]
	}
	return ""
}

func nodeValue(m map[string]any) string {
	for _, k := range []string{"@id", "@value"} {
		if s, ok := m[k].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
