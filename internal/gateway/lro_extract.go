package gateway

import "github.com/tidwall/gjson"

// extractOperationName pulls the LRO "name" field out of a
// :predictLongRunning response body. A parse failure or missing field
// yields ok=false and never fails the request.
func extractOperationName(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	name := gjson.GetBytes(body, "name")
	if !name.Exists() || name.String() == "" {
		return "", false
	}
	return name.String(), true
}

// extractOperationNameFromRequest pulls the operation name out of a
// :fetchPredictOperation request body, accepting either field name the
// upstream API uses.
func extractOperationNameFromRequest(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	for _, field := range []string{"operationName", "name"} {
		v := gjson.GetBytes(body, field)
		if v.Exists() && v.String() != "" {
			return v.String(), true
		}
	}
	return "", false
}

// isJSON reports whether body parses as JSON, gating body retention in
// telemetry per the store_request_bodies flag.
func isJSON(body []byte) bool {
	return len(body) > 0 && gjson.ValidBytes(body)
}
