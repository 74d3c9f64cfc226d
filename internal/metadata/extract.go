package metadata

import "strings"

// imageKeys are the recognized image field names, in lookup order.
var imageKeys = []string{"image", "image_uri", "logo", "logoURI", "icon"}

// ExtractImageURL walks the documented fallback chain: top-level image
// fields, the same set nested under "properties", then the first entry of a
// "files" array (its "uri" or "url"). Returns "" when nothing matches.
func ExtractImageURL(doc map[string]interface{}) string {
	for _, key := range imageKeys {
		if value, ok := stringField(doc, key); ok {
			return value
		}
	}

	if properties, ok := doc["properties"].(map[string]interface{}); ok {
		for _, key := range imageKeys {
			if value, ok := stringField(properties, key); ok {
				return value
			}
		}
		if value, ok := firstFileURL(properties["files"]); ok {
			return value
		}
	}

	if value, ok := firstFileURL(doc["files"]); ok {
		return value
	}

	return ""
}

func firstFileURL(files interface{}) (string, bool) {
	list, ok := files.([]interface{})
	if !ok || len(list) == 0 {
		return "", false
	}
	entry, ok := list[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	if value, ok := stringField(entry, "uri"); ok {
		return value, true
	}
	if value, ok := stringField(entry, "url"); ok {
		return value, true
	}
	return "", false
}

func stringField(doc map[string]interface{}, key string) (string, bool) {
	value, ok := doc[key].(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}
