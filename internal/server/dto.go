package server

import (
	"bitacora/internal/domain"
	"bitacora/internal/stats"
)

// Request payloads

type StartTrackingRequest struct {
	OrderID      string  `json:"order_id"`
	GroupingCode *string `json:"grouping_code,omitempty"`
	Description  *string `json:"description,omitempty"`
}

type AppendMessageRequest struct {
	Body string `json:"body"`
}

// Response payloads

type ReceiptResponse struct {
	ReaderID     string `json:"reader_id"`
	ReaderName   string `json:"reader_name"`
	ReaderSector string `json:"reader_sector"`
	AckedAt      string `json:"acked_at" format:"date-time"`
}

type MessageResponse struct {
	ID           string            `json:"id"`
	AuthorID     string            `json:"author_id"`
	AuthorName   string            `json:"author_name"`
	AuthorSector string            `json:"author_sector"`
	Body         string            `json:"body"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	Receipts     []ReceiptResponse `json:"receipts"`
	Unread       bool              `json:"unread"`
}

type LedgerResponse struct {
	ID           string            `json:"id"`
	OrderID      string            `json:"order_id"`
	GroupingCode string            `json:"grouping_code,omitempty"`
	Description  string            `json:"description,omitempty"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	Messages     []MessageResponse `json:"messages"`
	Unread       bool              `json:"unread"`
}

type SectorMarkResponse struct {
	Sector string `json:"sector"`
	Acked  bool   `json:"acked"`
}

type MessageStatsResponse struct {
	MessageID string               `json:"message_id"`
	Signature []SectorMarkResponse `json:"signature"`
}

type LedgerStatsResponse struct {
	JobID                string                 `json:"job_id"`
	MessageCount         int                    `json:"message_count"`
	ReceiptCount         int                    `json:"receipt_count"`
	ValidationPercentage float64                `json:"validation_percentage"`
	Messages             []MessageStatsResponse `json:"messages"`
}

type SystemStatsResponse struct {
	JobCount     int `json:"job_count"`
	ReceiptCount int `json:"receipt_count"`
}

type EventResponse struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	JobID   string `json:"job_id,omitempty"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}

// Mapping. Unread flags are derived per caller.

func receiptResponse(r domain.ReadReceipt) ReceiptResponse {
	return ReceiptResponse{
		ReaderID:     r.ReaderID,
		ReaderName:   r.ReaderName,
		ReaderSector: string(r.ReaderSector),
		AckedAt:      r.AckedAt,
	}
}

func messageResponse(m domain.Message, callerID string) MessageResponse {
	receipts := make([]ReceiptResponse, 0, len(m.Receipts))
	for _, r := range m.Receipts {
		receipts = append(receipts, receiptResponse(r))
	}
	return MessageResponse{
		ID:           m.ID,
		AuthorID:     m.AuthorID,
		AuthorName:   m.AuthorName,
		AuthorSector: string(m.AuthorSector),
		Body:         m.Body,
		CreatedAt:    m.CreatedAt,
		Receipts:     receipts,
		Unread:       m.UnreadFor(callerID),
	}
}

func ledgerResponse(j domain.TrackedJob, callerID string) LedgerResponse {
	messages := make([]MessageResponse, 0, len(j.Messages))
	for _, m := range j.Messages {
		messages = append(messages, messageResponse(m, callerID))
	}
	return LedgerResponse{
		ID:           j.ID,
		OrderID:      j.OrderID,
		GroupingCode: j.GroupingCode,
		Description:  j.Description,
		CreatedAt:    j.CreatedAt,
		Messages:     messages,
		Unread:       j.UnreadFor(callerID),
	}
}

func mapLedgers(jobs []domain.TrackedJob, callerID string) []LedgerResponse {
	res := make([]LedgerResponse, 0, len(jobs))
	for _, j := range jobs {
		res = append(res, ledgerResponse(j, callerID))
	}
	return res
}

func ledgerStatsResponse(j domain.TrackedJob) LedgerStatsResponse {
	s := stats.PerJob(j)
	messages := make([]MessageStatsResponse, 0, len(j.Messages))
	for _, m := range j.Messages {
		signature := make([]SectorMarkResponse, 0, len(domain.AllSectors))
		for _, mark := range stats.SectorSignature(m) {
			signature = append(signature, SectorMarkResponse{Sector: string(mark.Sector), Acked: mark.Acked})
		}
		messages = append(messages, MessageStatsResponse{MessageID: m.ID, Signature: signature})
	}
	return LedgerStatsResponse{
		JobID:                j.ID,
		MessageCount:         s.MessageCount,
		ReceiptCount:         s.ReceiptCount,
		ValidationPercentage: s.ValidationPercentage,
		Messages:             messages,
	}
}

func mapEvents(events []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(events))
	for _, e := range events {
		res = append(res, EventResponse{
			ID:      e.ID,
			TS:      e.TS,
			Type:    e.Type,
			JobID:   e.JobID,
			ActorID: e.ActorID,
			Payload: e.Payload,
		})
	}
	return res
}
