// Package normalize validates and coerces raw upstream records into Store
// entities. It is pure: no I/O, no logging, deterministic output.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pasco78/store-api-project/internal/model"
)

// ErrMissingBizesID is returned when a raw record lacks the external
// business identifier. Such records are never persisted.
var ErrMissingBizesID = eris.New("normalize: missing bizesId")

// MaxFieldLen is the truncation limit applied to every string field before
// the per-column limits in the schema. Truncation is policy, not an error.
const MaxFieldLen = 200

// Record is one raw upstream record as decoded from JSON or flattened XML.
type Record = map[string]any

// stringFields is the allow-list of recognized upstream keys. Unknown keys
// are ignored so upstream schema growth cannot break ingestion.
var stringFields = []string{
	"bizesNm", "brtcNm", "sggNm", "adongNm", "bdongNm",
	"lnoAdr", "rdnmAdr",
	"indsLclsCd", "indsLclsNm", "indsMclsCd", "indsMclsNm",
	"indsSclsCd", "indsSclsNm",
	"bldMngNo", "bldNm", "flrInfo", "tel",
	"ctprvnCd", "sggCd", "adongCd", "bdongCd",
}

// Normalize validates one raw record and produces a Store entity.
//
// The external identifier is required; everything else is optional. String
// fields are trimmed, dropped when empty, and truncated to MaxFieldLen
// runes. Coordinates are parsed independently: a value that fails to parse
// drops only that coordinate, never the record.
func Normalize(raw Record) (*model.Store, error) {
	bizesID := cleanString(raw["bizesId"])
	if bizesID == nil {
		return nil, ErrMissingBizesID
	}

	s := &model.Store{BizesID: *bizesID}

	for _, field := range stringFields {
		v := cleanString(raw[field])
		if v == nil {
			continue
		}
		switch field {
		case "bizesNm":
			s.BizesNm = v
		case "brtcNm":
			s.BrtcNm = v
		case "sggNm":
			s.SggNm = v
		case "adongNm":
			s.AdongNm = v
		case "bdongNm":
			s.BdongNm = v
		case "lnoAdr":
			s.LnoAdr = v
		case "rdnmAdr":
			s.RdnmAdr = v
		case "indsLclsCd":
			s.IndsLclsCd = v
		case "indsLclsNm":
			s.IndsLclsNm = v
		case "indsMclsCd":
			s.IndsMclsCd = v
		case "indsMclsNm":
			s.IndsMclsNm = v
		case "indsSclsCd":
			s.IndsSclsCd = v
		case "indsSclsNm":
			s.IndsSclsNm = v
		case "bldMngNo":
			s.BldMngNo = v
		case "bldNm":
			s.BldNm = v
		case "flrInfo":
			s.FlrInfo = v
		case "tel":
			s.Tel = v
		case "ctprvnCd":
			s.CtprvnCd = v
		case "sggCd":
			s.SggCd = v
		case "adongCd":
			s.AdongCd = v
		case "bdongCd":
			s.BdongCd = v
		}
	}

	s.Lon = parseCoord(raw["lon"])
	s.Lat = parseCoord(raw["lat"])

	return s, nil
}

// cleanString trims and truncates a raw value. Returns nil for absent,
// non-string-like, or whitespace-only input.
func cleanString(v any) *string {
	var str string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		str = t
	case json.Number:
		str = t.String()
	case float64:
		str = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		str = strconv.Itoa(t)
	default:
		return nil
	}

	str = strings.TrimSpace(str)
	if str == "" {
		return nil
	}
	if r := []rune(str); len(r) > MaxFieldLen {
		str = string(r[:MaxFieldLen])
	}
	return &str
}

// parseCoord attempts a numeric parse of a raw coordinate value. Returns
// nil on absence or parse failure; the record itself is unaffected.
func parseCoord(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}
