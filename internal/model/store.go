package model

import (
	"time"
)

// Store represents one registered business location from the small-business
// commercial district open-data service. Optional fields are nil when the
// upstream record omitted them or the value failed validation.
type Store struct {
	ID      int64  `json:"id,omitempty"`
	BizesID string `json:"bizesId"`

	BizesNm *string `json:"bizesNm,omitempty"`
	BrtcNm  *string `json:"brtcNm,omitempty"`
	SggNm   *string `json:"sggNm,omitempty"`
	AdongNm *string `json:"adongNm,omitempty"`
	BdongNm *string `json:"bdongNm,omitempty"`
	LnoAdr  *string `json:"lnoAdr,omitempty"`
	RdnmAdr *string `json:"rdnmAdr,omitempty"`

	IndsLclsCd *string `json:"indsLclsCd,omitempty"`
	IndsLclsNm *string `json:"indsLclsNm,omitempty"`
	IndsMclsCd *string `json:"indsMclsCd,omitempty"`
	IndsMclsNm *string `json:"indsMclsNm,omitempty"`
	IndsSclsCd *string `json:"indsSclsCd,omitempty"`
	IndsSclsNm *string `json:"indsSclsNm,omitempty"`

	Lon *float64 `json:"lon,omitempty"`
	Lat *float64 `json:"lat,omitempty"`

	BldMngNo *string `json:"bldMngNo,omitempty"`
	BldNm    *string `json:"bldNm,omitempty"`
	FlrInfo  *string `json:"flrInfo,omitempty"`

	Tel      *string `json:"tel,omitempty"`
	CtprvnCd *string `json:"ctprvnCd,omitempty"`
	SggCd    *string `json:"sggCd,omitempty"`
	AdongCd  *string `json:"adongCd,omitempty"`
	BdongCd  *string `json:"bdongCd,omitempty"`

	CreatedAt time.Time  `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// HasCoords reports whether both coordinates are present.
func (s *Store) HasCoords() bool {
	return s.Lat != nil && s.Lon != nil
}

// BBox is an axis-aligned rectangle in longitude/latitude space. It is the
// canonical geometric predicate; radius and polygon queries reduce to it.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// CategoryPair is one distinct industry classification code/name pair.
type CategoryPair struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Zone is an aggregate of stores per district inside a bounding box. It
// approximates the trade-area zone lookup, which has no backing table.
type Zone struct {
	SggCd      string `json:"sggCd"`
	SggNm      string `json:"sggNm"`
	StoreCount int64  `json:"storeCount"`
}

// SyncSummary holds the aggregate outcome of one region sync.
type SyncSummary struct {
	TotalProcessed int64 `json:"total_processed"`
	Created        int64 `json:"created"`
	Errors         int64 `json:"errors"`
}
