package domain

import "strings"

// Sector is one of the seven fixed organizational sectors. The set is closed:
// read-completion is always measured against all seven.
type Sector string

const (
	SectorAdmin          Sector = "ADMIN"
	SectorAutomatizacion Sector = "AUTOMATIZACION"
	SectorCompras        Sector = "COMPRAS"
	SectorProyecto       Sector = "PROYECTO"
	SectorTecnica        Sector = "TECNICA"
	SectorPlaneamiento   Sector = "PLANEAMIENTO"
	SectorTaller         Sector = "TALLER"
)

// AllSectors is the enumeration in its fixed reporting order.
var AllSectors = []Sector{
	SectorAdmin,
	SectorAutomatizacion,
	SectorCompras,
	SectorProyecto,
	SectorTecnica,
	SectorPlaneamiento,
	SectorTaller,
}

// SectorLabels maps sectors to their display names.
var SectorLabels = map[Sector]string{
	SectorAdmin:          "Administrador",
	SectorAutomatizacion: "Automatización",
	SectorCompras:        "Compras",
	SectorProyecto:       "Proyectos",
	SectorTecnica:        "Oficina Técnica",
	SectorPlaneamiento:   "Planeamiento",
	SectorTaller:         "Operativo Taller",
}

func (s Sector) Valid() bool {
	_, ok := SectorLabels[s]
	return ok
}

// ParseSector normalizes and validates a sector name.
func ParseSector(v string) (Sector, bool) {
	s := Sector(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Actor identifies a person. Actors come from the authentication collaborator;
// the core never creates or mutates them.
type Actor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Sector Sector `json:"sector" enum:"ADMIN,AUTOMATIZACION,COMPRAS,PROYECTO,TECNICA,PLANEAMIENTO,TALLER"`
}

// TrackedJob is the read/write ledger opened for one work-order identifier.
type TrackedJob struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id"`
	GroupingCode string    `json:"grouping_code,omitempty"`
	Description  string    `json:"description,omitempty"`
	Messages     []Message `json:"messages"`
	CreatedAt    string    `json:"created_at" format:"date-time"`
}

// Message is one ledger entry. Body, author and timestamp never change after
// append; only the receipt list grows.
type Message struct {
	ID           string        `json:"id"`
	AuthorID     string        `json:"author_id"`
	AuthorName   string        `json:"author_name"`
	AuthorSector Sector        `json:"author_sector"`
	Body         string        `json:"body"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
	Receipts     []ReadReceipt `json:"receipts"`
}

// ReadReceipt records one actor's acknowledgment of one message. Name and
// sector are snapshots taken at acknowledgment time, not live references.
type ReadReceipt struct {
	ReaderID     string `json:"reader_id"`
	ReaderName   string `json:"reader_name"`
	ReaderSector Sector `json:"reader_sector"`
	AckedAt      string `json:"acked_at" format:"date-time"`
}

// NormalizeOrderID is the duplicate-guard normalization: two work-order ids
// are the same ledger iff their normalized forms match. Both the uniqueness
// check at creation and every order-id lookup go through here.
func NormalizeOrderID(orderID string) string {
	return strings.ToLower(strings.TrimSpace(orderID))
}

// HasReceiptFrom reports whether the actor already acknowledged the message.
func (m Message) HasReceiptFrom(actorID string) bool {
	for _, r := range m.Receipts {
		if r.ReaderID == actorID {
			return true
		}
	}
	return false
}

// UnreadFor reports whether the message counts as unread for the actor.
// Authors are implicitly satisfied on their own messages.
func (m Message) UnreadFor(actorID string) bool {
	if m.AuthorID == actorID {
		return false
	}
	return !m.HasReceiptFrom(actorID)
}

// UnreadFor reports whether any message in the job is unread for the actor.
func (j TrackedJob) UnreadFor(actorID string) bool {
	for _, m := range j.Messages {
		if m.UnreadFor(actorID) {
			return true
		}
	}
	return false
}

// FindMessage returns the index of the message with the given id.
func (j TrackedJob) FindMessage(messageID string) (int, bool) {
	for i, m := range j.Messages {
		if m.ID == messageID {
			return i, true
		}
	}
	return 0, false
}

// Event is one row of the append-only audit log. The change feed and the
// webhook dispatcher both follow this log to detect writes.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	JobID   string `json:"job_id,omitempty"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}
