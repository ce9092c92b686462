package keystore

import "encoding/json"

func jsonMarshal(v any) ([]byte, error) { return json.Marshal(v) }

func jsonUnmarshal(b []byte, dst any) error { return json.Unmarshal(b, dst) }
