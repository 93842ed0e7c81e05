package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// MaxRuleDocBytes is the safety ceiling for rule documents on disk.
const MaxRuleDocBytes = 2 * 1024 * 1024

// ParseDocument decodes and size-checks a raw rule document, returning the
// untyped payload. Validation against the schema is a separate step so
// callers (sandbox scan, guard pre-flight) can inspect the raw form.
func ParseDocument(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("rule text is empty")
	}
	if len(text) > MaxRuleDocBytes {
		return nil, fmt.Errorf("rule text exceeds size limit (2MB)")
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("cannot parse rules JSON: %w", err)
	}
	return data, nil
}

// normalizeDocument guarantees a version key so round trips embed the schema
// version.
func normalizeDocument(data map[string]any) map[string]any {
	if _, ok := data["version"]; ok {
		return data
	}
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["version"] = RulesetVersion
	return out
}

// ExportRules validates rule text and writes the canonical JSON form to
// path, returning the final path. A ".json" extension is appended when
// missing; existing files are overwritten.
func ExportRules(ruleText, path string) (string, error) {
	data, err := ParseDocument(ruleText)
	if err != nil {
		return "", err
	}
	rs, err := FromMapping(normalizeDocument(data))
	if err != nil {
		return "", fmt.Errorf("rule validation failed: %w", err)
	}
	encoded, err := MarshalDocument(rs.ToMapping())
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		path += ".json"
	}
	if err := os.WriteFile(path, []byte(encoded), 0o644); err != nil {
		return "", fmt.Errorf("failed writing rules to %s: %w", path, err)
	}
	return path, nil
}

// ImportRules loads a rule file, validates it, and returns the canonical
// JSON string.
func ImportRules(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("rule file does not exist: %s", path)
	}
	if info.Size() > MaxRuleDocBytes {
		return "", fmt.Errorf("rule file exceeds size limit (2MB)")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed reading rule file: %w", err)
	}
	data, err := ParseDocument(string(raw))
	if err != nil {
		return "", err
	}
	rs, err := FromMapping(normalizeDocument(data))
	if err != nil {
		return "", fmt.Errorf("rule validation failed: %w", err)
	}
	return MarshalDocument(rs.ToMapping())
}

// MarshalDocument renders a payload as pretty JSON with a trailing newline.
// Map keys serialize sorted, so output is deterministic.
func MarshalDocument(payload map[string]any) (string, error) {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed encoding rules: %w", err)
	}
	return string(encoded) + "\n", nil
}
