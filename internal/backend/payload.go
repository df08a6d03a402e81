package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sarkari-sahayak/internal/domain"
)

var (
	fenceStart = regexp.MustCompile("(?is)^\\s*```(?:json)?\\s*")
	fenceEnd   = regexp.MustCompile("(?is)\\s*```\\s*$")
)

// DecodeRawAnswer convierte el cuerpo HTTP en la variante etiquetada.
// Cuerpo vacio o null -> Empty; string JSON o texto no JSON -> PlainText; objeto -> Structured.
// Los campos y entradas mal formados se descartan uno a uno.
func DecodeRawAnswer(body []byte) (domain.RawAnswer, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\uFEFF")))
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.RawAnswer{}, nil
	}

	if !json.Valid(trimmed) {
		text := string(body)
		cleaned := cleanFencedJSON(text)
		// Solo se recupera JSON si el cuerpo es unicamente el objeto (con fences o espacios).
		if obj := extractFirstJSONObject(cleaned); obj != "" && obj == cleaned {
			if fields, known, err := decodeAnswerFields([]byte(obj)); err == nil && known {
				return domain.StructuredAnswer(fields), nil
			}
		}
		return domain.PlainTextAnswer(text), nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return domain.RawAnswer{}, err
		}
		return domain.PlainTextAnswer(s), nil
	case '{':
		fields, _, err := decodeAnswerFields(trimmed)
		if err != nil {
			return domain.RawAnswer{}, err
		}
		return domain.StructuredAnswer(fields), nil
	default:
		return domain.RawAnswer{}, fmt.Errorf("unexpected JSON payload starting with %q", trimmed[0])
	}
}

func decodeAnswerFields(data []byte) (domain.AnswerFields, bool, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return domain.AnswerFields{}, false, err
	}

	var fields domain.AnswerFields
	known := false
	if raw, ok := obj["answer"]; ok {
		known = true
		if !isNull(raw) {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				fields.Answer = &s
			}
		}
	}
	for _, key := range []string{"steps", "tables", "links", "schemes"} {
		if _, ok := obj[key]; ok {
			known = true
		}
	}
	fields.Steps = decodeEach[string](obj["steps"])
	fields.Tables = decodeEach[domain.RawTable](obj["tables"])
	fields.Links = decodeEach[domain.RawLink](obj["links"])
	fields.Schemes = decodeEach[domain.RawScheme](obj["schemes"])
	return fields, known, nil
}

func decodeEach[T any](raw json.RawMessage) []T {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeNotifications acepta un arreglo o {"notifications": [...]}.
func decodeNotifications(body []byte) ([]domain.Notification, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []domain.Notification{}, nil
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
	case '{':
		var wrapper struct {
			Notifications []json.RawMessage `json:"notifications"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, err
		}
		items = wrapper.Notifications
	default:
		return []domain.Notification{}, nil
	}

	out := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		var wire struct {
			ID       any    `json:"id"`
			Title    string `json:"title"`
			Time     string `json:"time"`
			Question string `json:"question"`
		}
		if err := json.Unmarshal(item, &wire); err != nil {
			continue
		}
		out = append(out, domain.Notification{
			ID:       notificationID(wire.ID),
			Title:    wire.Title,
			Time:     wire.Time,
			Question: wire.Question,
		})
	}
	return out, nil
}

func notificationID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// cleanFencedJSON quita fences ```json ... ``` y BOM.
func cleanFencedJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.TrimPrefix(s, "\uFEFF")
	s = fenceStart.ReplaceAllString(s, "")
	s = fenceEnd.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func extractFirstJSONObject(input string) string {
	start := strings.IndexByte(input, '{')
	if start == -1 {
		return ""
	}

	inString := false
	escape := false
	depth := 0

	for i := start; i < len(input); i++ {
		ch := input[i]

		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return input[start : i+1]
			}
		}
	}

	return ""
}
