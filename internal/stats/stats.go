// Package stats derives read-only audit projections over ledgers. Nothing
// here mutates a job.
package stats

import "bitacora/internal/domain"

// JobStats summarizes one job for oversight views.
type JobStats struct {
	MessageCount         int     `json:"message_count"`
	ReceiptCount         int     `json:"receipt_count"`
	ValidationPercentage float64 `json:"validation_percentage"`
}

// PerJob computes a job's completion summary. A job with no messages is 0%,
// never NaN.
func PerJob(j domain.TrackedJob) JobStats {
	s := JobStats{MessageCount: len(j.Messages)}
	if len(j.Messages) == 0 {
		return s
	}
	validated := 0
	for _, m := range j.Messages {
		s.ReceiptCount += len(m.Receipts)
		validated += len(SectorCompletion(m))
	}
	required := len(j.Messages) * len(domain.AllSectors)
	s.ValidationPercentage = float64(validated) / float64(required) * 100
	return s
}

// Totals aggregates across every ledger.
type Totals struct {
	JobCount     int `json:"job_count"`
	ReceiptCount int `json:"receipt_count"`
}

func System(jobs []domain.TrackedJob) Totals {
	t := Totals{JobCount: len(jobs)}
	for _, j := range jobs {
		for _, m := range j.Messages {
			t.ReceiptCount += len(m.Receipts)
		}
	}
	return t
}

// SectorCompletion returns the sectors with at least one receipt on the
// message, in enumeration order. Receipts are per actor; completion is
// reported per sector.
func SectorCompletion(m domain.Message) []domain.Sector {
	seen := make(map[domain.Sector]bool, len(m.Receipts))
	for _, r := range m.Receipts {
		seen[r.ReaderSector] = true
	}
	var res []domain.Sector
	for _, s := range domain.AllSectors {
		if seen[s] {
			res = append(res, s)
		}
	}
	return res
}

// SectorMark is one cell of the fixed-width completion matrix.
type SectorMark struct {
	Sector domain.Sector `json:"sector"`
	Acked  bool          `json:"acked"`
}

// SectorSignature marks, for each of the seven sectors in enumeration order,
// whether the message holds at least one receipt from that sector.
func SectorSignature(m domain.Message) []SectorMark {
	seen := make(map[domain.Sector]bool, len(m.Receipts))
	for _, r := range m.Receipts {
		seen[r.ReaderSector] = true
	}
	marks := make([]SectorMark, 0, len(domain.AllSectors))
	for _, s := range domain.AllSectors {
		marks = append(marks, SectorMark{Sector: s, Acked: seen[s]})
	}
	return marks
}
