package stats_test

import (
	"math"
	"testing"

	"bitacora/internal/domain"
	"bitacora/internal/stats"
)

func receiptFrom(id string, sector domain.Sector) domain.ReadReceipt {
	return domain.ReadReceipt{ReaderID: id, ReaderName: id, ReaderSector: sector}
}

func TestPerJobEmpty(t *testing.T) {
	s := stats.PerJob(domain.TrackedJob{})
	if s.MessageCount != 0 || s.ReceiptCount != 0 || s.ValidationPercentage != 0 {
		t.Fatalf("empty job must be all zeros, got %+v", s)
	}
	if math.IsNaN(s.ValidationPercentage) {
		t.Fatalf("zero messages must never produce NaN")
	}
}

func TestPerJobSingleSelfReceipt(t *testing.T) {
	job := domain.TrackedJob{Messages: []domain.Message{
		{ID: "m1", Receipts: []domain.ReadReceipt{receiptFrom("alice", domain.SectorTaller)}},
	}}
	s := stats.PerJob(job)
	if s.MessageCount != 1 || s.ReceiptCount != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	want := 100.0 / 7.0
	if math.Abs(s.ValidationPercentage-want) > 0.001 {
		t.Fatalf("validation %.3f, want %.3f", s.ValidationPercentage, want)
	}
}

func TestPerJobCountsSectorsNotReceipts(t *testing.T) {
	// Two readers from the same sector advance completion only once.
	job := domain.TrackedJob{Messages: []domain.Message{
		{ID: "m1", Receipts: []domain.ReadReceipt{
			receiptFrom("alice", domain.SectorTaller),
			receiptFrom("ana", domain.SectorTaller),
		}},
	}}
	s := stats.PerJob(job)
	if s.ReceiptCount != 2 {
		t.Fatalf("receipt count is raw, got %d", s.ReceiptCount)
	}
	want := 100.0 / 7.0
	if math.Abs(s.ValidationPercentage-want) > 0.001 {
		t.Fatalf("same-sector receipts must count once: %.3f, want %.3f", s.ValidationPercentage, want)
	}
}

func TestPerJobFullCompletion(t *testing.T) {
	var receipts []domain.ReadReceipt
	for i, sector := range domain.AllSectors {
		receipts = append(receipts, receiptFrom(string(rune('a'+i)), sector))
	}
	job := domain.TrackedJob{Messages: []domain.Message{
		{ID: "m1", Receipts: receipts},
		{ID: "m2", Receipts: receipts},
	}}
	s := stats.PerJob(job)
	if s.ValidationPercentage != 100 {
		t.Fatalf("all sectors on all messages must be exactly 100, got %.3f", s.ValidationPercentage)
	}
}

func TestSectorCompletionOrder(t *testing.T) {
	msg := domain.Message{Receipts: []domain.ReadReceipt{
		receiptFrom("t", domain.SectorTaller),
		receiptFrom("c", domain.SectorCompras),
	}}
	got := stats.SectorCompletion(msg)
	want := []domain.Sector{domain.SectorCompras, domain.SectorTaller}
	if len(got) != len(want) {
		t.Fatalf("completion %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("completion order must follow the sector enumeration: %v", got)
		}
	}
}

func TestSectorSignatureFixedWidth(t *testing.T) {
	msg := domain.Message{Receipts: []domain.ReadReceipt{receiptFrom("b", domain.SectorTecnica)}}
	marks := stats.SectorSignature(msg)
	if len(marks) != len(domain.AllSectors) {
		t.Fatalf("signature always covers every sector, got %d marks", len(marks))
	}
	for i, m := range marks {
		if m.Sector != domain.AllSectors[i] {
			t.Fatalf("mark %d out of order: %s", i, m.Sector)
		}
		wantAcked := m.Sector == domain.SectorTecnica
		if m.Acked != wantAcked {
			t.Fatalf("mark %s acked=%v, want %v", m.Sector, m.Acked, wantAcked)
		}
	}
}

func TestSystemTotals(t *testing.T) {
	jobs := []domain.TrackedJob{
		{Messages: []domain.Message{{Receipts: []domain.ReadReceipt{receiptFrom("a", domain.SectorTaller)}}}},
		{Messages: []domain.Message{
			{Receipts: []domain.ReadReceipt{receiptFrom("a", domain.SectorTaller), receiptFrom("b", domain.SectorTecnica)}},
			{},
		}},
	}
	totals := stats.System(jobs)
	if totals.JobCount != 2 || totals.ReceiptCount != 3 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
}
