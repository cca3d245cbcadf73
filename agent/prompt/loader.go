package prompt

import (
	_ "embed"
	"strings"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

var (
	//go:embed template/sales.txt
	salesRaw string

	//go:embed template/support.txt
	supportRaw string

	//go:embed template/complaints.txt
	complaintsRaw string

	//go:embed template/inquiry.txt
	inquiryRaw string

	//go:embed template/coordinator.txt
	coordinatorRaw string

	//go:embed template/classifier.txt
	classifierRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Sales       string
	Support     string
	Complaints  string
	Inquiry     string
	Coordinator string
	Classifier  string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Sales:       strings.TrimSpace(salesRaw),
		Support:     strings.TrimSpace(supportRaw),
		Complaints:  strings.TrimSpace(complaintsRaw),
		Inquiry:     strings.TrimSpace(inquiryRaw),
		Coordinator: strings.TrimSpace(coordinatorRaw),
		Classifier:  strings.TrimSpace(classifierRaw),
	}
}

// For returns the system prompt of a decision unit, or "" when none exists.
func (p PromptSet) For(id contractx.UnitID) string {
	switch id {
	case contractx.UnitSales:
		return p.Sales
	case contractx.UnitSupport:
		return p.Support
	case contractx.UnitComplaints:
		return p.Complaints
	case contractx.UnitInquiry:
		return p.Inquiry
	case contractx.UnitCoordinator:
		return p.Coordinator
	default:
		return ""
	}
}
