package store

import "brokerguard/internal/verification/models"

// payload is the JSONB column content: everything that is not a key or status column.
type payload struct {
	FSCAResponse *models.FSCAResponse `json:"fsca_response,omitempty"`
	KYCData      *models.KYCData      `json:"kyc_data,omitempty"`
	Documents    []models.Document    `json:"documents,omitempty"`
	KYCDecision  *models.KYCDecision  `json:"kyc_decision,omitempty"`
	Notes        string               `json:"notes,omitempty"`
}

func toPayload(r *models.Record) payload {
	return payload{
		FSCAResponse: r.FSCAResponse,
		KYCData:      r.KYCData,
		Documents:    r.Documents,
		KYCDecision:  r.KYCDecision,
		Notes:        r.Notes,
	}
}

func (p payload) apply(r *models.Record) {
	r.FSCAResponse = p.FSCAResponse
	r.KYCData = p.KYCData
	r.Documents = p.Documents
	r.KYCDecision = p.KYCDecision
	r.Notes = p.Notes
}
