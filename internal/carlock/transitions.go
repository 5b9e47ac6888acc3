package carlock

import "github.com/kiranshivaraju/carinspect/pkg/models"

// transitions lists the allowed next statuses. Every status may be re-applied. Backward
// moves exist for the editable and in-flight statuses so a failed analysis can unlock
// the car; REPORT_READY never reverts.
var transitions = map[models.CarStatus][]models.CarStatus{
	models.CarStatusDraft: {
		models.CarStatusDraft, models.CarStatusMediaUploaded,
	},
	models.CarStatusMediaUploaded: {
		models.CarStatusDraft, models.CarStatusMediaUploaded, models.CarStatusSubmitted,
	},
	models.CarStatusSubmitted: {
		models.CarStatusDraft, models.CarStatusMediaUploaded, models.CarStatusSubmitted, models.CarStatusAnalyzing,
	},
	models.CarStatusAnalyzing: {
		models.CarStatusDraft, models.CarStatusMediaUploaded, models.CarStatusSubmitted,
		models.CarStatusAnalyzing, models.CarStatusReportReady,
	},
	models.CarStatusReportReady: {
		models.CarStatusReportReady,
	},
}

// submittable is where submitForAnalysis may start from.
var submittable = map[models.CarStatus]bool{
	models.CarStatusDraft:         true,
	models.CarStatusMediaUploaded: true,
	models.CarStatusSubmitted:     true,
}

// Allowed returns the statuses reachable from a status.
func Allowed(from models.CarStatus) []models.CarStatus {
	out := make([]models.CarStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// CanTransition reports whether a car may move from one status to another.
func CanTransition(from, to models.CarStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.CarStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to, Allowed: Allowed(from)}
}
