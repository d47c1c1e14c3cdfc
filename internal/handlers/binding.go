package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
)

// maxJSONBody bounds request bodies read by BindNestedOrFlat
const maxJSONBody = 1 << 20

// BindNestedOrFlat binds either {"<key>": {...}} or a flat {...} body into obj.
// Older clients wrap payloads under the resource name.
func BindNestedOrFlat(c *gin.Context, key string, obj interface{}) error {
	if c.Request.Body == nil {
		return errors.New("request body is empty")
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(c.Request.Body, maxJSONBody+1))
	if err != nil {
		return err
	}
	if len(bodyBytes) > maxJSONBody {
		return errors.New("request body too large")
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var nestedMap map[string]json.RawMessage
	if err := json.Unmarshal(bodyBytes, &nestedMap); err == nil {
		if val, ok := nestedMap[key]; ok {
			return json.Unmarshal(val, obj)
		}
	}

	return json.Unmarshal(bodyBytes, obj)
}
