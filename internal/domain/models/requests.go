package models

// Requests for operator console endpoints. Defined in domain for consistency and reuse.

type ReleaseRequest struct {
	Code string `json:"code" validate:"required,min=6,max=128"`
}

type TradesRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
	Limit      int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type EquityRequest struct {
	Equity float64 `json:"equity" validate:"required,gt=0"`
}
