package domain_test

import (
	"testing"

	"bitacora/internal/domain"
)

func TestNormalizeOrderID(t *testing.T) {
	cases := map[string]string{
		"OT-4471":     "ot-4471",
		"  OT-4471  ": "ot-4471",
		"ot-4471":     "ot-4471",
		" Ot-4471\t":  "ot-4471",
	}
	for in, want := range cases {
		if got := domain.NormalizeOrderID(in); got != want {
			t.Errorf("NormalizeOrderID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSector(t *testing.T) {
	s, ok := domain.ParseSector("  taller ")
	if !ok || s != domain.SectorTaller {
		t.Fatalf("ParseSector(taller) = %q, %v", s, ok)
	}
	if _, ok := domain.ParseSector("VENTAS"); ok {
		t.Fatalf("VENTAS is not a known sector")
	}
	if _, ok := domain.ParseSector(""); ok {
		t.Fatalf("empty sector must not parse")
	}
	for _, s := range domain.AllSectors {
		if !s.Valid() {
			t.Errorf("sector %s should be valid", s)
		}
	}
	if len(domain.AllSectors) != 7 {
		t.Fatalf("the sector set is fixed at 7, got %d", len(domain.AllSectors))
	}
}

func TestMessageUnreadFor(t *testing.T) {
	msg := domain.Message{
		ID:       "m1",
		AuthorID: "alice",
		Receipts: []domain.ReadReceipt{{ReaderID: "alice"}},
	}
	if msg.UnreadFor("alice") {
		t.Fatalf("authors never see their own message as unread")
	}
	if !msg.UnreadFor("bob") {
		t.Fatalf("bob has no receipt; the message is unread for him")
	}
	msg.Receipts = append(msg.Receipts, domain.ReadReceipt{ReaderID: "bob"})
	if msg.UnreadFor("bob") {
		t.Fatalf("a receipt satisfies unread")
	}
	if !msg.HasReceiptFrom("bob") || msg.HasReceiptFrom("carol") {
		t.Fatalf("receipt lookup broken")
	}
}

func TestJobUnreadForAndFindMessage(t *testing.T) {
	job := domain.TrackedJob{Messages: []domain.Message{
		{ID: "m1", AuthorID: "alice", Receipts: []domain.ReadReceipt{{ReaderID: "alice"}, {ReaderID: "bob"}}},
		{ID: "m2", AuthorID: "bob", Receipts: []domain.ReadReceipt{{ReaderID: "bob"}}},
	}}
	if job.UnreadFor("bob") {
		t.Fatalf("bob read m1 and authored m2")
	}
	if !job.UnreadFor("alice") {
		t.Fatalf("alice has not read m2")
	}
	idx, ok := job.FindMessage("m2")
	if !ok || idx != 1 {
		t.Fatalf("FindMessage(m2) = %d, %v", idx, ok)
	}
	if _, ok := job.FindMessage("m9"); ok {
		t.Fatalf("m9 does not exist")
	}
}
