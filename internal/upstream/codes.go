package upstream

// RegionCodes maps province names to their administrative codes, the
// top-level scope accepted by the listing service.
var RegionCodes = map[string]string{
	"서울특별시":   "11",
	"부산광역시":   "26",
	"대구광역시":   "27",
	"인천광역시":   "28",
	"광주광역시":   "29",
	"대전광역시":   "30",
	"울산광역시":   "31",
	"세종특별자치시": "36",
	"경기도":     "41",
	"강원도":     "42",
	"충청북도":    "43",
	"충청남도":    "44",
	"전라북도":    "45",
	"전라남도":    "46",
	"경상북도":    "47",
	"경상남도":    "48",
	"제주특별자치도": "50",
}

// IndustryCodes maps common industry group names to their large
// classification codes.
var IndustryCodes = map[string]string{
	"음식":     "Q",
	"소매":     "F",
	"생활서비스":  "G",
	"숙박":     "D",
	"관광여가오락": "R",
	"스포츠":    "S",
	"학문교육":   "P",
	"부동산":    "L",
}
