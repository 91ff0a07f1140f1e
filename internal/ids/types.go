package ids

import (
	"encoding/json"
	"strings"
)

// Link is a HAL link.
type Link struct {
	Href      string `json:"href"`
	Templated bool   `json:"templated,omitempty"`
}

// Links is the "_links" object of a HAL resource, keyed by relation.
type Links map[string]Link

// Href returns the href of rel, or "" when absent.
func (l Links) Href(rel string) string {
	return l[rel].Href
}

// PageMeta is the "page" block of a paged collection.
type PageMeta struct {
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
	Number        int `json:"number"`
}

// Last reports whether this page is the final one.
func (p PageMeta) Last() bool {
	return p.Number >= p.TotalPages-1
}

// Page is one page of a collection; Embedded holds the raw items per key.
type Page struct {
	Embedded map[string][]json.RawMessage `json:"_embedded"`
	Page     *PageMeta                    `json:"page"`
}

// Resource is the common shape of catalogs, offers, agreements and artifacts.
type Resource struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Publisher   string   `json:"publisher"`
	Links       Links    `json:"_links"`
}

// Reference is a JSON-LD node reference.
type Reference struct {
	ID string `json:"@id"`
}

// Description is the part of an IDS self-description the consumer reads.
type Description struct {
	OfferedResource []struct {
		ContractOffer []struct {
			Permission []struct {
				Action []Reference `json:"action"`
			} `json:"permission"`
		} `json:"contractOffer"`
		Representation []struct {
			Instance []Reference `json:"instance"`
		} `json:"representation"`
	} `json:"offeredResource"`
}

// Action returns offeredResource[0].contractOffer[0].permission[0].action[0].@id.
func (d Description) Action() (string, bool) {
	if len(d.OfferedResource) == 0 {
		return "", false
	}
	res := d.OfferedResource[0]
	if len(res.ContractOffer) == 0 || len(res.ContractOffer[0].Permission) == 0 {
		return "", false
	}
	perm := res.ContractOffer[0].Permission[0]
	if len(perm.Action) == 0 || perm.Action[0].ID == "" {
		return "", false
	}
	return perm.Action[0].ID, true
}

// Artifact returns offeredResource[0].representation[0].instance[0].@id.
func (d Description) Artifact() (string, bool) {
	if len(d.OfferedResource) == 0 {
		return "", false
	}
	res := d.OfferedResource[0]
	if len(res.Representation) == 0 || len(res.Representation[0].Instance) == 0 {
		return "", false
	}
	id := res.Representation[0].Instance[0].ID
	return id, id != ""
}

// ParseDescription decodes a self-description, accepting both "ids:"-prefixed
// and compacted keys.
func ParseDescription(data []byte) (Description, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Description{}, err
	}
	compacted, err := json.Marshal(Compact(raw))
	if err != nil {
		return Description{}, err
	}
	var d Description
	if err := json.Unmarshal(compacted, &d); err != nil {
		return Description{}, err
	}
	return d, nil
}

// Compact strips the "ids:" prefix from every object key, recursively.
func Compact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key := strings.TrimPrefix(k, "ids:")
			if _, exists := out[key]; exists && key == k {
				// prefixed key already won
				continue
			}
			out[key] = Compact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Compact(val)
		}
		return out
	default:
		return v
	}
}

// Permission is the body of a contract request.
type Permission struct {
	Type   string      `json:"@type"`
	Action []Reference `json:"ids:action"`
	Target string      `json:"ids:target"`
}

// NewPermission builds a one-action permission on artifact.
func NewPermission(action, artifact string) Permission {
	return Permission{
		Type:   "ids:Permission",
		Action: []Reference{{ID: action}},
		Target: artifact,
	}
}
