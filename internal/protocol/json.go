package protocol

import "encoding/json"

// unmarshalString decodes a DataAsString payload field into out.
func unmarshalString(s string, out interface{}) error {
	return json.Unmarshal([]byte(s), out)
}
