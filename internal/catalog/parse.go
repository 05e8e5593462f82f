package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// partnerVariant is the normalized form of one catalog entry. The raw
// partner shape never leaves this file.
type partnerVariant struct {
	SKU       string
	Name      string
	Enabled   *bool
	Countries []string
}

// EnabledFor reports whether the variant may ship to country. An explicit
// flag wins when false; otherwise either the flag or list membership enables it.
func (v partnerVariant) EnabledFor(country string) bool {
	if v.Enabled != nil && !*v.Enabled {
		return false
	}

	if len(v.Countries) > 0 {
		for _, c := range v.Countries {
			if strings.EqualFold(c, country) {
				return true
			}
		}
		return false
	}

	return v.Enabled != nil && *v.Enabled
}

// page is one parsed catalog response
type page struct {
	Variants []partnerVariant
	Next     string
	HasMore  bool
}

// parseStrategy extracts the variant list from a decoded response, reporting
// false when the shape does not match.
type parseStrategy struct {
	name    string
	extract func(root any) ([]any, bool)
}

var parseStrategies = []parseStrategy{
	{name: "data", extract: func(root any) ([]any, bool) {
		return arrayField(root, "data")
	}},
	{name: "variants", extract: func(root any) ([]any, bool) {
		return arrayField(root, "variants")
	}},
	{name: "result", extract: func(root any) ([]any, bool) {
		if items, ok := arrayField(root, "result"); ok {
			return items, true
		}
		obj, ok := root.(map[string]any)
		if !ok {
			return nil, false
		}
		return arrayField(obj["result"], "variants")
	}},
	{name: "array", extract: func(root any) ([]any, bool) {
		items, ok := root.([]any)
		return items, ok
	}},
}

func arrayField(v any, key string) ([]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	items, ok := obj[key].([]any)
	return items, ok
}

// parsePage decodes a raw catalog response using the first matching strategy
func parsePage(body []byte) (*page, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	for _, strategy := range parseStrategies {
		items, ok := strategy.extract(root)
		if !ok {
			continue
		}

		p := &page{Variants: make([]partnerVariant, 0, len(items))}
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := parseVariant(obj); ok {
				p.Variants = append(p.Variants, v)
			}
		}
		p.Next, p.HasMore = parseCursor(root)
		return p, nil
	}

	return nil, fmt.Errorf("unrecognized catalog response shape")
}

func parseVariant(obj map[string]any) (partnerVariant, bool) {
	v := partnerVariant{
		SKU:  firstString(obj, "sku", "id", "variant_id"),
		Name: firstString(obj, "name", "title", "display_name"),
	}
	if v.SKU == "" {
		return v, false
	}

	for _, key := range []string{"enabled", "is_enabled", "available"} {
		if b, ok := obj[key].(bool); ok {
			v.Enabled = &b
			break
		}
	}

	for _, key := range []string{"countries", "enabled_countries", "shipping_countries"} {
		list, ok := obj[key].([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			switch c := entry.(type) {
			case string:
				v.Countries = append(v.Countries, c)
			case map[string]any:
				if code := firstString(c, "code", "country_code", "iso2"); code != "" {
					v.Countries = append(v.Countries, code)
				}
			}
		}
		break
	}

	return v, true
}

// parseCursor finds the pagination cursor wherever the partner put it
func parseCursor(root any) (string, bool) {
	containers := []map[string]any{}
	if obj, ok := root.(map[string]any); ok {
		containers = append(containers, obj)
		for _, key := range []string{"meta", "pagination", "paging", "result"} {
			if nested, ok := obj[key].(map[string]any); ok {
				containers = append(containers, nested)
			}
		}
	}

	var next string
	var hasMore bool
	for _, c := range containers {
		if next == "" {
			next = firstString(c, "next", "next_page", "next_cursor")
		}
		if b, ok := c["has_more"].(bool); ok && b {
			hasMore = true
		}
	}
	return next, hasMore || next != ""
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch val := obj[key].(type) {
		case string:
			if val != "" {
				return val
			}
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return ""
}
