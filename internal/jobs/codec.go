package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	dErrors "brokerguard/pkg/domain-errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a job's payload before it is enqueued.
func Validate(j Job) error {
	if err := validate.Struct(j); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("invalid %s payload", j.JobName()))
	}
	return nil
}

// Encode serializes a job's payload. The name travels separately.
func Encode(j Job) (Name, json.RawMessage, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", j.JobName(), err)
	}
	return j.JobName(), raw, nil
}

// Decode rebuilds a typed job from its name and payload.
func Decode(name Name, raw json.RawMessage) (Job, error) {
	switch name {
	case NameVerifyLicense:
		return decodeAs[VerifyLicense](name, raw)
	case NameVerifyDocuments:
		return decodeAs[VerifyDocuments](name, raw)
	case NameVerifyDirectors:
		return decodeAs[VerifyDirectors](name, raw)
	case NameManualReview:
		return decodeAs[ManualReview](name, raw)
	case NameSendVerificationResult:
		return decodeAs[SendVerificationResult](name, raw)
	case NameLicenseRenewalReminder:
		return decodeAs[LicenseRenewalReminder](name, raw)
	case NameRunComplianceChecks:
		return decodeAs[RunComplianceChecks](name, raw)
	case NameDailyComplianceBatch:
		return decodeAs[DailyComplianceBatch](name, raw)
	case NameLicenseStatusSweep:
		return decodeAs[LicenseStatusSweep](name, raw)
	case NameRecheckLicenseStatus:
		return decodeAs[RecheckLicenseStatus](name, raw)
	case NameExpiryReminderSweep:
		return decodeAs[ExpiryReminderSweep](name, raw)
	case NameGenerateReport:
		return decodeAs[GenerateReport](name, raw)
	}
	return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown job %q", name))
}

func decodeAs[T Job](name Name, raw json.RawMessage) (Job, error) {
	var j T
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("decode %s payload", name))
	}
	return j, nil
}
