package units

import contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"

const (
	ActionFollowUp         = "follow_up"
	ActionSendQuote        = "send_quote"
	ActionScheduleDemo     = "schedule_demo"
	ActionTroubleshoot     = "troubleshoot"
	ActionOpenTicket       = "open_ticket"
	ActionApologize        = "apologize_and_compensate"
	ActionEscalateToHuman  = "escalate_to_human"
	ActionProvideInfo      = "provide_info"
	ActionShareLink        = "share_link"
	ActionClarify          = "clarify"
	ActionRouteToSpecialty = "route_to_specialist"
)

// complaintEscalationTrend is the customer trend below which complaints go to a human.
const complaintEscalationTrend = -0.3

func NewSales(opts ...Option) *Unit {
	return newUnit(definition{
		id:             contractx.UnitSales,
		affinity:       map[string]float64{"sales": 0.9, "inquiry": 0.3, "*": 0.1},
		defaultAction:  ActionFollowUp,
		baseConfidence: 0.5,
		rules: []rule{
			{action: ActionSendQuote, keywords: []string{"price", "quote", "cost", "precio", "buy", "comprar", "discount"}},
			{action: ActionScheduleDemo, keywords: []string{"demo", "trial", "meeting"}},
		},
		responses: map[string]string{
			ActionFollowUp:     "Thanks for your interest. A sales advisor will follow up with the options that fit you best.",
			ActionSendQuote:    "Happy to help with pricing. I am preparing a quote for you now.",
			ActionScheduleDemo: "Let's set up a demo. Which day works best for you?",
		},
	}, opts...)
}

func NewSupport(opts ...Option) *Unit {
	return newUnit(definition{
		id:             contractx.UnitSupport,
		affinity:       map[string]float64{"support": 0.9, "complaints": 0.3, "inquiry": 0.2, "*": 0.1},
		defaultAction:  ActionTroubleshoot,
		baseConfidence: 0.5,
		rules: []rule{
			{action: ActionOpenTicket, keywords: []string{"error", "broken", "crash", "not working", "no funciona", "bug"}},
			{action: ActionTroubleshoot, keywords: []string{"how do i", "setup", "install", "configure", "login", "password"}},
		},
		responses: map[string]string{
			ActionTroubleshoot: "Let's get this working. Please try restarting the app and tell me what you see.",
			ActionOpenTicket:   "Sorry about the trouble. I have opened a ticket and our technical team will look into it.",
		},
	}, opts...)
}

func NewComplaints(opts ...Option) *Unit {
	return newUnit(definition{
		id:              contractx.UnitComplaints,
		affinity:        map[string]float64{"complaints": 0.95, "support": 0.2, "*": 0.05},
		defaultAction:   ActionApologize,
		baseConfidence:  0.45,
		requireCustomer: true,
		rules: []rule{
			{action: ActionEscalateToHuman, keywords: []string{"lawyer", "refund", "manager", "cancel", "unacceptable"}},
			{action: ActionApologize, keywords: []string{"late", "bad", "terrible", "wrong", "complaint", "queja"}},
		},
		responses: map[string]string{
			ActionApologize:       "We are sorry for this experience. We will make it right and keep you updated.",
			ActionEscalateToHuman: "I understand how frustrating this is. A senior member of our team will contact you personally.",
		},
		adjust: func(action string, profile contractx.CustomerProfile) string {
			if profile.Trend < complaintEscalationTrend {
				return ActionEscalateToHuman
			}
			return action
		},
	}, opts...)
}

func NewInquiry(opts ...Option) *Unit {
	return newUnit(definition{
		id:             contractx.UnitInquiry,
		affinity:       map[string]float64{"inquiry": 0.85, "sales": 0.3, "general": 0.3, "*": 0.15},
		defaultAction:  ActionProvideInfo,
		baseConfidence: 0.5,
		rules: []rule{
			{action: ActionShareLink, keywords: []string{"where", "link", "website", "document", "manual"}},
			{action: ActionProvideInfo, keywords: []string{"hours", "open", "schedule", "horario", "what is", "info"}},
		},
		responses: map[string]string{
			ActionProvideInfo: "Here is the information you asked for. Let me know if anything else would help.",
			ActionShareLink:   "You can find all the details in our help center. I can send you the direct link.",
		},
	}, opts...)
}

// NewCoordinator builds the general-purpose unit used as the fallback.
func NewCoordinator(opts ...Option) *Unit {
	return newUnit(definition{
		id:             contractx.UnitCoordinator,
		affinity:       map[string]float64{"general": 0.6, "*": 0.3},
		defaultAction:  ActionClarify,
		baseConfidence: 0.4,
		rules: []rule{
			{action: ActionRouteToSpecialty, keywords: []string{"help", "ayuda", "someone", "agent"}},
		},
		responses: map[string]string{
			ActionClarify:          "Thanks for reaching out. Could you tell me a bit more so I can help?",
			ActionRouteToSpecialty: "I will connect you with the right specialist for this.",
		},
	}, opts...)
}

// Defaults returns one instance of every built-in unit.
func Defaults(opts ...Option) []contractx.DecisionUnit {
	return []contractx.DecisionUnit{
		NewSales(opts...),
		NewSupport(opts...),
		NewComplaints(opts...),
		NewInquiry(opts...),
		NewCoordinator(opts...),
	}
}

// New builds a built-in unit by id.
func New(id contractx.UnitID, opts ...Option) (*Unit, bool) {
	switch id {
	case contractx.UnitSales:
		return NewSales(opts...), true
	case contractx.UnitSupport:
		return NewSupport(opts...), true
	case contractx.UnitComplaints:
		return NewComplaints(opts...), true
	case contractx.UnitInquiry:
		return NewInquiry(opts...), true
	case contractx.UnitCoordinator:
		return NewCoordinator(opts...), true
	default:
		return nil, false
	}
}
