package llms

import (
	"encoding/json"
	"testing"
)

func mustExtract(t *testing.T, text string) map[string]any {
	t.Helper()
	raw, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("ExtractJSON(%q): %v", text, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("extracted payload not unmarshalable: %v", err)
	}
	return out
}

func TestExtractPlainJSON(t *testing.T) {
	out := mustExtract(t, `{"reasoning": "ok", "actions": []}`)
	if out["reasoning"] != "ok" {
		t.Errorf("unexpected payload: %v", out)
	}
}

func TestExtractMarkdownFence(t *testing.T) {
	out := mustExtract(t, "```json\n{\"reasoning\": \"fenced\"}\n```")
	if out["reasoning"] != "fenced" {
		t.Errorf("unexpected payload: %v", out)
	}
}

func TestExtractThinkBlock(t *testing.T) {
	out := mustExtract(t, "<think>\nlet me reason about the temperature...\n</think>\n{\"reasoning\": \"after thought\"}")
	if out["reasoning"] != "after thought" {
		t.Errorf("think block not stripped: %v", out)
	}
}

func TestExtractSurroundingProse(t *testing.T) {
	out := mustExtract(t, "Sure, here is the decision:\n{\"reasoning\": \"clamped\"}\nHope that helps!")
	if out["reasoning"] != "clamped" {
		t.Errorf("prose not clamped: %v", out)
	}
}

func TestExtractComments(t *testing.T) {
	out := mustExtract(t, `{
		// a line comment
		"reasoning": "commented", /* block */
		"url": "http://example.com/path" // slashes in strings survive
	}`)
	if out["reasoning"] != "commented" {
		t.Errorf("comments not stripped: %v", out)
	}
	if out["url"] != "http://example.com/path" {
		t.Errorf("string literal damaged: %v", out["url"])
	}
}

func TestExtractTrailingCommas(t *testing.T) {
	out := mustExtract(t, `{"actions": [1, 2,], "reasoning": "trailing",}`)
	if out["reasoning"] != "trailing" {
		t.Errorf("trailing commas not repaired: %v", out)
	}
}

func TestExtractRejectsProseOnly(t *testing.T) {
	if _, err := ExtractJSON("I cannot comply with that request."); err == nil {
		t.Error("prose accepted as JSON")
	}
	if _, err := ExtractJSON(""); err == nil {
		t.Error("empty input accepted")
	}
}

func TestExtractArrayPayload(t *testing.T) {
	raw, err := ExtractJSON("```\n[1, 2, 3]\n```")
	if err != nil {
		t.Fatal(err)
	}
	var out []int
	if err := json.Unmarshal(raw, &out); err != nil || len(out) != 3 {
		t.Errorf("array payload broken: %v %v", out, err)
	}
}
