package models

import (
	"time"

	id "brokerguard/pkg/domain"
)

type CheckType string

const (
	CheckLicense            CheckType = "LICENSE"
	CheckSanctions          CheckType = "SANCTIONS"
	CheckAdverseMedia       CheckType = "ADVERSE_MEDIA"
	CheckFinancialHealth    CheckType = "FINANCIAL_HEALTH"
	CheckSecurityAssessment CheckType = "SECURITY_ASSESSMENT"
)

// AllCheckTypes is the fixed evaluation order for a full run.
var AllCheckTypes = []CheckType{
	CheckLicense,
	CheckSanctions,
	CheckAdverseMedia,
	CheckFinancialHealth,
	CheckSecurityAssessment,
}

// Weights of each check type in the compliance score.
var Weights = map[CheckType]float64{
	CheckLicense:            0.30,
	CheckSanctions:          0.25,
	CheckAdverseMedia:       0.20,
	CheckFinancialHealth:    0.15,
	CheckSecurityAssessment: 0.10,
}

func (c CheckType) IsValid() bool {
	_, ok := Weights[c]
	return ok
}

type Result string

const (
	ResultPass    Result = "PASS"
	ResultFail    Result = "FAIL"
	ResultWarning Result = "WARNING"
)

// Check is an immutable compliance log entry.
type Check struct {
	ID              id.CheckID
	BrokerID        id.BrokerID
	CheckType       CheckType
	CheckDate       time.Time
	Result          Result
	Score           float64
	Details         map[string]any
	Flags           []string
	Recommendations []string
}

// Summary counts check results since a point in time, for reports.
type Summary struct {
	ByResult map[Result]int
	ByType   map[CheckType]int
}
