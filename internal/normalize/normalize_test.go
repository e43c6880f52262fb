package normalize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_RequiresBizesID(t *testing.T) {
	cases := map[string]Record{
		"absent":     {"bizesNm": "Coffee House"},
		"empty":      {"bizesId": ""},
		"whitespace": {"bizesId": "   \t"},
		"nonstring":  {"bizesId": struct{}{}},
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := Normalize(raw)
			assert.Nil(t, s)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrMissingBizesID))
		})
	}
}

func TestNormalize_TrimsAndDropsEmptyFields(t *testing.T) {
	s, err := Normalize(Record{
		"bizesId": " 10101234 ",
		"bizesNm": "  Dongdaemun Grill  ",
		"brtcNm":  "   ",
		"tel":     "",
	})
	require.NoError(t, err)

	assert.Equal(t, "10101234", s.BizesID)
	require.NotNil(t, s.BizesNm)
	assert.Equal(t, "Dongdaemun Grill", *s.BizesNm)
	assert.Nil(t, s.BrtcNm, "whitespace-only value must be dropped, not stored empty")
	assert.Nil(t, s.Tel)
}

func TestNormalize_TruncationLaw(t *testing.T) {
	long := "  " + strings.Repeat("가", MaxFieldLen+57) + "  "
	s, err := Normalize(Record{"bizesId": "1", "bizesNm": long})
	require.NoError(t, err)

	require.NotNil(t, s.BizesNm)
	want := strings.Repeat("가", MaxFieldLen)
	assert.Equal(t, want, *s.BizesNm, "value must be exactly the first %d runes of the trimmed input", MaxFieldLen)
}

func TestNormalize_PartialCoordinateLaw(t *testing.T) {
	s, err := Normalize(Record{
		"bizesId": "1",
		"lat":     "37.5665",
		"lon":     "not-a-number",
	})
	require.NoError(t, err)

	require.NotNil(t, s.Lat)
	assert.InDelta(t, 37.5665, *s.Lat, 1e-9)
	assert.Nil(t, s.Lon, "unparsable longitude drops only that coordinate")
	assert.False(t, s.HasCoords())
}

func TestNormalize_CoordinateTypes(t *testing.T) {
	s, err := Normalize(Record{
		"bizesId": "1",
		"lon":     json.Number("126.9780"),
		"lat":     37.5665,
	})
	require.NoError(t, err)

	require.True(t, s.HasCoords())
	assert.InDelta(t, 126.9780, *s.Lon, 1e-9)
	assert.InDelta(t, 37.5665, *s.Lat, 1e-9)
}

func TestNormalize_IgnoresUnknownKeys(t *testing.T) {
	s, err := Normalize(Record{
		"bizesId":     "42",
		"ksicCd":      "I56191",
		"newUpstream": map[string]any{"nested": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", s.BizesID)
}

func TestNormalize_NumericCodesStringified(t *testing.T) {
	s, err := Normalize(Record{
		"bizesId": "42",
		"sggCd":   json.Number("11110"),
		"adongCd": float64(1111051500),
	})
	require.NoError(t, err)

	require.NotNil(t, s.SggCd)
	assert.Equal(t, "11110", *s.SggCd)
	require.NotNil(t, s.AdongCd)
	assert.Equal(t, "1111051500", *s.AdongCd)
}

func TestNormalize_FullRecord(t *testing.T) {
	s, err := Normalize(Record{
		"bizesId":    "10092725",
		"bizesNm":    "Seochon Bakery",
		"brtcNm":     "서울특별시",
		"sggNm":      "종로구",
		"adongNm":    "사직동",
		"bdongNm":    "통인동",
		"lnoAdr":     "서울특별시 종로구 통인동 1-1",
		"rdnmAdr":    "서울특별시 종로구 자하문로 10",
		"indsLclsCd": "Q", "indsLclsNm": "음식",
		"indsMclsCd": "Q07", "indsMclsNm": "제과제빵떡케익",
		"indsSclsCd": "Q07A01", "indsSclsNm": "제과점",
		"bldMngNo": "1111010100100010000000001",
		"bldNm":    "통인빌딩",
		"flrInfo":  "1",
		"tel":      "02-123-4567",
		"ctprvnCd": "11", "sggCd": "11110", "adongCd": "1111051500", "bdongCd": "1111011500",
		"lon": "126.9723", "lat": "37.5796",
	})
	require.NoError(t, err)

	assert.Equal(t, "10092725", s.BizesID)
	require.NotNil(t, s.IndsSclsCd)
	assert.Equal(t, "Q07A01", *s.IndsSclsCd)
	require.NotNil(t, s.BldMngNo)
	assert.Equal(t, "1111010100100010000000001", *s.BldMngNo)
	assert.True(t, s.HasCoords())
}
