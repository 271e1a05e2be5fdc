package service

import (
	"github.com/gerd-center-server/internal/domain"
)

// Interval thresholds follow the clinic's Barrett's surveillance protocol.
const (
	highGradeMonths = 3
	lowGradeMonths  = 6
	lowRiskMonths   = 36
)

// SurveillanceIntervalAdvisor maps a Barrett's state to a recommended
// next-EGD interval. The advice pre-fills the plan form; clinicians can
// always override it.
type SurveillanceIntervalAdvisor struct{}

// NewSurveillanceIntervalAdvisor creates an advisor.
func NewSurveillanceIntervalAdvisor() *SurveillanceIntervalAdvisor {
	return &SurveillanceIntervalAdvisor{}
}

// Recommend returns the interval for the status's dysplasia grade. Any
// grade other than high or low (including blank and unrecognized text)
// receives the 3-year default; grades are stored as text and legacy rows
// may carry values outside the enumeration.
func (a *SurveillanceIntervalAdvisor) Recommend(status *domain.BarrettStatus) domain.IntervalAdvice {
	switch status.DysplasiaGrade {
	case domain.GradeHighGrade:
		return domain.IntervalAdvice{
			Months: highGradeMonths,
			Label:  "High-grade dysplasia – 3-month surveillance",
		}
	case domain.GradeLowGrade:
		return domain.IntervalAdvice{
			Months: lowGradeMonths,
			Label:  "Low-grade dysplasia – 6-month surveillance",
		}
	default:
		return domain.IntervalAdvice{
			Months: lowRiskMonths,
			Label:  "No/low-risk – 3-year surveillance",
		}
	}
}
