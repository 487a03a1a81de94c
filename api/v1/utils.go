package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
)

// listKeys are query-string parameters that may repeat or hold comma-separated values.
var listKeys = map[string]bool{"sources": true, "group_by": true}

// requestInput reads the raw request: a JSON object for POST, the query string otherwise.
func requestInput(c *fiber.Ctx) (map[string]any, error) {
	if c.Method() == http.MethodPost {
		raw := make(map[string]any)
		body := c.Body()
		if len(strings.TrimSpace(string(body))) == 0 {
			return raw, nil
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, queryerr.New(queryerr.InvalidRequest, "request body must be a JSON object")
		}
		return raw, nil
	}
	return queryStringInput(c), nil
}

// queryStringInput maps query-string parameters to raw input. Filters use the
// filter[key]=value form; a repeated filter key becomes a list.
func queryStringInput(c *fiber.Ctx) map[string]any {
	raw := make(map[string]any)
	filters := make(map[string]any)

	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		key, value := string(k), string(v)
		if name, ok := filterName(key); ok {
			appendValue(filters, name, value)
			return
		}
		if listKeys[key] {
			appendValue(raw, key, value)
			return
		}
		raw[key] = value
	})

	if len(filters) > 0 {
		raw["filters"] = filters
	}
	return raw
}

func filterName(key string) (string, bool) {
	for _, prefix := range []string{"filter[", "filters["} {
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, "]") {
			name := key[len(prefix) : len(key)-1]
			return name, name != ""
		}
	}
	return "", false
}

func appendValue(m map[string]any, key, value string) {
	switch cur := m[key].(type) {
	case nil:
		m[key] = value
	case string:
		m[key] = []any{cur, value}
	case []any:
		m[key] = append(cur, value)
	}
}

// generateETag creates a strong ETag from content using SHA-256
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return `"` + hex.EncodeToString(hash[:]) + `"` // Quoted for strong ETag
}
