// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// Payload accessors tolerant of both decodings: JSON yields float64 for
// every number, CBOR yields int64/uint64 for integers. Dispatch code
// must not care which transport delivered the record.

// PayloadString returns the string at key, or "" when absent or not a
// string.
func PayloadString(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return value
}

// PayloadFloat returns the numeric value at key, or 0 when absent or
// not numeric.
func PayloadFloat(payload map[string]any, key string) float64 {
	switch value := payload[key].(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case int64:
		return float64(value)
	case uint64:
		return float64(value)
	case int:
		return float64(value)
	}
	return 0
}

// PayloadInt returns the integer value at key, or 0 when absent or not
// numeric.
func PayloadInt(payload map[string]any, key string) int {
	return int(PayloadFloat(payload, key))
}

// PayloadBool returns the boolean at key, or false when absent or not a
// boolean.
func PayloadBool(payload map[string]any, key string) bool {
	value, _ := payload[key].(bool)
	return value
}

// PayloadRecord returns the nested record at key, or nil when absent or
// not a record.
func PayloadRecord(payload map[string]any, key string) map[string]any {
	value, _ := payload[key].(map[string]any)
	return value
}

// PayloadRecordList returns the list of records at key, skipping
// elements that are not records. Returns nil when the key is absent or
// not a list.
func PayloadRecordList(payload map[string]any, key string) []map[string]any {
	switch value := payload[key].(type) {
	case []map[string]any:
		return value
	case []any:
		records := make([]map[string]any, 0, len(value))
		for _, element := range value {
			if record, ok := element.(map[string]any); ok {
				records = append(records, record)
			}
		}
		return records
	}
	return nil
}
