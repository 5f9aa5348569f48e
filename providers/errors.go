package providers

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/ccgw/cc-gw/config"
)

// statusCodes maps HTTP status to the stable error code vocabulary used in
// mapped bodies. The vocabulary follows the Anthropic error types, which
// the OpenAI variants translate into cleanly.
var statusCodes = map[int]string{
	400: "invalid_request_error",
	401: "authentication_error",
	403: "permission_error",
	404: "not_found_error",
	413: "request_too_large",
	422: "invalid_request_error",
	429: "rate_limit_error",
	500: "api_error",
	502: "api_error",
	503: "overloaded_error",
	529: "overloaded_error",
}

// codeMessages supplies a readable message when the upstream body has none.
var codeMessages = map[string]string{
	"invalid_request_error": "the upstream rejected the request as malformed",
	"authentication_error":  "the provider credential was rejected",
	"permission_error":      "the provider credential lacks access to this model",
	"not_found_error":       "the requested upstream resource does not exist",
	"request_too_large":     "the request exceeds the upstream size limit",
	"rate_limit_error":      "the upstream rate limit was exceeded",
	"overloaded_error":      "the upstream is overloaded, try again later",
	"api_error":             "the upstream reported an internal error",
}

type mappedError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// MapErrorBody rewrites an upstream error body into the stable
// {"error":{"code","message"}} shape. Unparsable bodies fall back to the
// status-derived code and its table message.
func MapErrorBody(family config.Family, status int, body []byte) []byte {
	code := statusCodes[status]
	if code == "" {
		code = "api_error"
	}
	message := ""

	if len(body) > 0 && gjson.ValidBytes(body) {
		switch family {
		case config.FamilyAnthropic:
			if t := gjson.GetBytes(body, "error.type"); t.Exists() {
				code = t.String()
			}
			message = gjson.GetBytes(body, "error.message").String()
		default:
			// OpenAI and its variants: error.code is sometimes a string,
			// sometimes numeric, sometimes absent in favor of error.type.
			if c := gjson.GetBytes(body, "error.code"); c.Exists() && c.String() != "" {
				code = c.String()
			} else if t := gjson.GetBytes(body, "error.type"); t.Exists() {
				code = t.String()
			}
			message = gjson.GetBytes(body, "error.message").String()
			if message == "" {
				// DeepSeek and Kimi occasionally use a flat shape.
				message = gjson.GetBytes(body, "message").String()
			}
		}
	}

	if message == "" {
		if m, ok := codeMessages[code]; ok {
			message = m
		} else {
			message = fmt.Sprintf("upstream returned status %d", status)
		}
	}

	var out mappedError
	out.Error.Code = code
	out.Error.Message = message
	raw, err := json.Marshal(out)
	if err != nil {
		return []byte(`{"error":{"code":"api_error","message":"upstream error"}}`)
	}
	return raw
}
