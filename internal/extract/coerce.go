package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/ncreasor/triago/internal/tenant"
	"github.com/ncreasor/triago/internal/tracker"
)

// coerceFields zips extracted values positionally against the tenant's
// typed descriptors. Missing positions coerce from the empty string.
func coerceFields(descs []tenant.FieldDescriptor, values []string) []tracker.FieldUpdate {
	updates := make([]tracker.FieldUpdate, 0, len(descs))
	for i, desc := range descs {
		val := ""
		if i < len(values) {
			val = values[i]
		}
		updates = append(updates, tracker.FieldUpdate{ID: desc.ID, Value: coerceValue(desc.Kind, val)})
	}
	return updates
}

// coerceValue converts one raw extracted string per the descriptor kind.
func coerceValue(kind tenant.FieldKind, raw string) interface{} {
	switch kind {
	case tenant.KindPhone:
		return normalizePhone(raw)
	case tenant.KindMoney:
		return parseMoney(raw)
	case tenant.KindSelect:
		return tracker.SelectValue{ItemName: raw}
	default:
		return raw
	}
}

// normalizePhone brings a phone number to E.164. Numbers the parser rejects
// fall back to the domestic trunk-prefix rewrite (8XXX → +7XXX).
func normalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	if num, err := phonenumbers.Parse(s, "RU"); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}
	if strings.HasPrefix(s, "8") {
		return "+7" + s[1:]
	}
	return s
}

// parseMoney reads a float tolerating a comma decimal separator, zero on
// failure.
func parseMoney(raw string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", "."), 64)
	if err != nil {
		return 0.0
	}
	return v
}

func jsonUnmarshal(raw json.RawMessage, v interface{}) error {
	return json.Unmarshal(raw, v)
}

// emptyValue reports whether a raw field value carries nothing usable.
func emptyValue(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte(`""`)) || bytes.Equal(t, []byte("{}")) || bytes.Equal(t, []byte("[]"))
}
